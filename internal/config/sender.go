// Package config parses the CLI surface spec.md §6 defines for both
// peers, following the reference server's own flag.FlagSet-plus-env
// precedence rule: CLI flags > env vars > defaults.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pulsewire/pulsewire/internal/pulseerr"
)

const envPrefix = "PULSEWIRE_"

// SenderConfig holds runtime configuration for cmd/pulsesend.
type SenderConfig struct {
	Source       string // local bind address for the source RTP port
	Repair       string // local bind address for the repair port (required unless FEC is "none")
	Remote       string // remote peer's source address, host:port
	RemoteRepair string // remote peer's repair address, host:port (required unless FEC is "none")
	FEC          string // "none", "rs", or "ldpc"
	NbSrc        int    // source symbols per FEC block (K)
	NbRpr        int    // repair symbols per FEC block (R)
	Rate         int    // sample rate, Hz
	Channels     int    // channel count (1 mono, 2 stereo)
	Interleaving bool   // enable packet interleaving before send
	LogLevel     string
	LogFormat    string
}

const (
	defaultSenderFEC      = "none"
	defaultNbSrc          = 20
	defaultNbRpr          = 10
	defaultSenderRate     = 44100
	defaultSenderChannels = 2
	defaultSenderLogLevel = "info"
	defaultSenderLogFmt   = "text"
)

// LoadSender parses sender configuration from CLI flags and
// environment variables. Precedence: CLI flags > env vars > defaults.
func LoadSender(args []string) (*SenderConfig, error) {
	cfg := &SenderConfig{}
	fs := flag.NewFlagSet("pulsesend", flag.ContinueOnError)

	fs.StringVar(&cfg.Source, "source", "", "local bind address for the source RTP port (required)")
	fs.StringVar(&cfg.Repair, "repair", "", "local bind address for the repair port (required unless --fec is none)")
	fs.StringVar(&cfg.Remote, "remote", "", "remote peer's source address, host:port (required)")
	fs.StringVar(&cfg.RemoteRepair, "remote-repair", "", "remote peer's repair address, host:port (required unless --fec is none)")
	fs.StringVar(&cfg.FEC, "fec", defaultSenderFEC, "FEC scheme: none, rs, or ldpc")
	fs.IntVar(&cfg.NbSrc, "nbsrc", defaultNbSrc, "number of source symbols per FEC block")
	fs.IntVar(&cfg.NbRpr, "nbrpr", defaultNbRpr, "number of repair symbols per FEC block")
	fs.IntVar(&cfg.Rate, "rate", defaultSenderRate, "sample rate in Hz")
	fs.IntVar(&cfg.Channels, "channels", defaultSenderChannels, "channel count (1 or 2)")
	fs.BoolVar(&cfg.Interleaving, "interleaving", false, "enable packet interleaving before send")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultSenderLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultSenderLogFmt, "log output format (text, json)")

	if err := fs.Parse(args); err != nil {
		return nil, pulseerr.New(pulseerr.Config, fmt.Errorf("config: parsing sender flags: %w", err))
	}

	applySenderEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, pulseerr.New(pulseerr.Config, fmt.Errorf("config: invalid sender config: %w", err))
	}
	return cfg, nil
}

func applySenderEnvOverrides(fs *flag.FlagSet, cfg *SenderConfig) {
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
	boolean := func(name string, dst *bool, env string) {
		if set[name] {
			return
		}
		if v, ok := os.LookupEnv(envPrefix + env); ok && v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	str("source", &cfg.Source, "SOURCE")
	str("repair", &cfg.Repair, "REPAIR")
	str("remote", &cfg.Remote, "REMOTE")
	str("remote-repair", &cfg.RemoteRepair, "REMOTE_REPAIR")
	str("fec", &cfg.FEC, "FEC")
	num("nbsrc", &cfg.NbSrc, "NBSRC")
	num("nbrpr", &cfg.NbRpr, "NBRPR")
	num("rate", &cfg.Rate, "RATE")
	num("channels", &cfg.Channels, "CHANNELS")
	boolean("interleaving", &cfg.Interleaving, "INTERLEAVING")
	str("log-level", &cfg.LogLevel, "LOG_LEVEL")
	str("log-format", &cfg.LogFormat, "LOG_FORMAT")
}

func (c *SenderConfig) validate() error {
	if c.Source == "" {
		return fmt.Errorf("--source is required")
	}
	if c.Remote == "" {
		return fmt.Errorf("--remote is required")
	}
	switch strings.ToLower(c.FEC) {
	case "none", "rs", "ldpc":
		c.FEC = strings.ToLower(c.FEC)
	default:
		return fmt.Errorf("--fec must be one of none, rs, ldpc; got %q", c.FEC)
	}
	if c.FEC != "none" {
		if c.Repair == "" || c.RemoteRepair == "" {
			return fmt.Errorf("--repair and --remote-repair are required when --fec is not none")
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
	if err := validateLogLevel(&c.LogLevel); err != nil {
		return err
	}
	return validateLogFormat(&c.LogFormat)
}

func validateLogLevel(level *string) error {
	valid := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	lower := strings.ToLower(*level)
	if !valid[lower] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", *level)
	}
	*level = lower
	return nil
}

func validateLogFormat(format *string) error {
	valid := map[string]bool{"text": true, "json": true}
	lower := strings.ToLower(*format)
	if !valid[lower] {
		return fmt.Errorf("log-format must be one of text, json; got %q", *format)
	}
	*format = lower
	return nil
}
