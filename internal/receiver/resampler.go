package receiver

import (
	resampler "github.com/tphakala/go-audio-resampler"

	"github.com/pulsewire/pulsewire/internal/audio"
)

// LatencyController runs a PID loop over the delayed reader's buffered
// depth to compute the resample ratio that pulls the session's
// playout rate back toward its target latency D, per spec.md §4.3:
// "the resampler's rate is not fixed at 1.0; it is continuously
// adjusted by a control loop so that small, persistent clock drift
// between sender and receiver converges to zero buffered error rather
// than accumulating forever."
type LatencyController struct {
	targetFrames float64
	kp, ki, kd   float64

	integral  float64
	prevError float64
	hasPrev   bool

	minRatio, maxRatio float64
}

// NewLatencyController builds a controller targeting targetFrames
// sample-frames of buffered depth, with gains tuned the way the
// reference implementation's own latency monitor is: a small
// proportional term dominates, a tiny integral term erases steady-state
// drift, and a light derivative term damps overshoot.
func NewLatencyController(targetFrames int) *LatencyController {
	return &LatencyController{
		targetFrames: float64(targetFrames),
		kp:           0.0006,
		ki:           0.00002,
		kd:           0.0001,
		minRatio:     0.990,
		maxRatio:     1.010,
	}
}

// Update feeds the controller the buffer's current depth in
// sample-frames and returns the resample ratio to apply until the next
// call: >1.0 to consume buffered audio faster (buffer running high),
// <1.0 to stretch it out (buffer running low).
func (c *LatencyController) Update(bufferedFrames int) float64 {
	errv := float64(bufferedFrames) - c.targetFrames

	deriv := 0.0
	if c.hasPrev {
		deriv = errv - c.prevError
	}
	c.prevError = errv
	c.hasPrev = true

	// Trial integration: only committed to c.integral if it doesn't push
	// the ratio past the saturation bound, per spec.md §4.8's windup
	// guard ("freezing integration while saturated").
	trialIntegral := c.integral + errv
	ratio := 1.0 + c.kp*errv + c.ki*trialIntegral + c.kd*deriv

	switch {
	case ratio < c.minRatio:
		ratio = c.minRatio
	case ratio > c.maxRatio:
		ratio = c.maxRatio
	default:
		c.integral = trialIntegral
	}
	return ratio
}

// Resampler wraps github.com/tphakala/go-audio-resampler's variable-ratio
// converter to resample one Frame at a time at a ratio supplied by a
// LatencyController each playout tick.
type Resampler struct {
	channels int
	conv     *resampler.Resampler
}

// NewResampler builds a resampler for audio with the given channel
// count, initially at a 1:1 ratio.
func NewResampler(channels int) (*Resampler, error) {
	conv, err := resampler.New(channels, resampler.QualityMedium)
	if err != nil {
		return nil, err
	}
	return &Resampler{channels: channels, conv: conv}, nil
}

// Process resamples f by ratio (applied as the input:output sample
// rate ratio) and returns the result.
func (r *Resampler) Process(f audio.Frame, ratio float64) (audio.Frame, error) {
	out, err := r.conv.ProcessRatio(f.Samples, ratio)
	if err != nil {
		return audio.Frame{}, err
	}
	return audio.Frame{Samples: out, Mask: f.Mask}, nil
}
