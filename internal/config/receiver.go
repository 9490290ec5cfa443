package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/pulsewire/pulsewire/internal/pulseerr"
)

// ReceiverConfig holds runtime configuration for cmd/pulserecv.
type ReceiverConfig struct {
	Local       string // local bind address for the source RTP port
	RepairLocal string // local bind address for the repair port (required unless FEC is "none")
	FEC         string // "none", "rs", or "ldpc"
	NbSrc       int
	NbRpr       int
	Rate        int
	Channels    int
	Timing      int // target latency floor D, in milliseconds
	IdleTimeout int // session idle timeout, in milliseconds
	MetricsAddr string
	LogLevel    string
	LogFormat   string
}

const (
	defaultReceiverFEC      = "none"
	defaultReceiverRate     = 44100
	defaultReceiverChannels = 2
	defaultTimingMs         = 200
	defaultIdleTimeoutMs    = 10000
	defaultMetricsAddr      = ":9109"
	defaultReceiverLogLvl   = "info"
	defaultReceiverLogFmt   = "text"
)

// LoadReceiver parses receiver configuration from CLI flags and
// environment variables. Precedence: CLI flags > env vars > defaults.
func LoadReceiver(args []string) (*ReceiverConfig, error) {
	cfg := &ReceiverConfig{}
	fs := flag.NewFlagSet("pulserecv", flag.ContinueOnError)

	fs.StringVar(&cfg.Local, "local", "", "local bind address for the source RTP port (required)")
	fs.StringVar(&cfg.RepairLocal, "repair", "", "local bind address for the repair port (enables FEC when set together with --fec)")
	fs.StringVar(&cfg.FEC, "fec", defaultReceiverFEC, "FEC scheme: none, rs, or ldpc")
	fs.IntVar(&cfg.NbSrc, "nbsrc", defaultNbSrc, "number of source symbols per FEC block")
	fs.IntVar(&cfg.NbRpr, "nbrpr", defaultNbRpr, "number of repair symbols per FEC block")
	fs.IntVar(&cfg.Rate, "rate", defaultReceiverRate, "sample rate in Hz")
	fs.IntVar(&cfg.Channels, "channels", defaultReceiverChannels, "channel count (1 or 2)")
	fs.IntVar(&cfg.Timing, "timing", defaultTimingMs, "target latency floor in milliseconds")
	fs.IntVar(&cfg.IdleTimeout, "idle-timeout", defaultIdleTimeoutMs, "session idle timeout in milliseconds")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", defaultMetricsAddr, "listen address for the /metrics HTTP endpoint")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultReceiverLogLvl, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultReceiverLogFmt, "log output format (text, json)")

	if err := fs.Parse(args); err != nil {
		return nil, pulseerr.New(pulseerr.Config, fmt.Errorf("config: parsing receiver flags: %w", err))
	}

	applyReceiverEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, pulseerr.New(pulseerr.Config, fmt.Errorf("config: invalid receiver config: %w", err))
	}
	return cfg, nil
}

func applyReceiverEnvOverrides(fs *flag.FlagSet, cfg *ReceiverConfig) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	str := func(name string, dst *string, env string) {
		if set[name] {
			return
		}
		if v, ok := os.LookupEnv(envPrefix + env); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int, env string) {
		if set[name] {
			return
		}
		if v, ok := os.LookupEnv(envPrefix + env); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("local", &cfg.Local, "LOCAL")
	str("repair", &cfg.RepairLocal, "REPAIR")
	str("fec", &cfg.FEC, "FEC")
	num("nbsrc", &cfg.NbSrc, "NBSRC")
	num("nbrpr", &cfg.NbRpr, "NBRPR")
	num("rate", &cfg.Rate, "RATE")
	num("channels", &cfg.Channels, "CHANNELS")
	num("timing", &cfg.Timing, "TIMING")
	num("idle-timeout", &cfg.IdleTimeout, "IDLE_TIMEOUT")
	str("metrics-addr", &cfg.MetricsAddr, "METRICS_ADDR")
	str("log-level", &cfg.LogLevel, "LOG_LEVEL")
	str("log-format", &cfg.LogFormat, "LOG_FORMAT")
}

func (c *ReceiverConfig) validate() error {
	if c.Local == "" {
		return fmt.Errorf("--local is required")
	}
	switch c.FEC {
	case "none", "rs", "ldpc":
	default:
		return fmt.Errorf("--fec must be one of none, rs, ldpc; got %q", c.FEC)
	}
	if c.FEC != "none" {
		if c.RepairLocal == "" {
			return fmt.Errorf("--repair is required when --fec is not none")
		}
		if c.NbSrc < 1 || c.NbRpr < 1 {
			return fmt.Errorf("--nbsrc and --nbrpr must both be at least 1")
		}
		if c.NbSrc+c.NbRpr > 256 {
			return fmt.Errorf("--nbsrc + --nbrpr must not exceed 256, got %d", c.NbSrc+c.NbRpr)
		}
	}
	if c.Rate < 8000 || c.Rate > 192000 {
		return fmt.Errorf("--rate must be between 8000 and 192000, got %d", c.Rate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("--channels must be 1 or 2, got %d", c.Channels)
	}
	if c.Timing < 5 || c.Timing > 5000 {
		return fmt.Errorf("--timing must be between 5 and 5000 ms, got %d", c.Timing)
	}
	if c.IdleTimeout < 1000 {
		return fmt.Errorf("--idle-timeout must be at least 1000 ms, got %d", c.IdleTimeout)
	}
	if err := validateLogLevel(&c.LogLevel); err != nil {
		return err
	}
	return validateLogFormat(&c.LogFormat)
}
