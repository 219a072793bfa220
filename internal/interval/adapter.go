// Package interval adapts the dwell interval to recent visit outcomes.
//
// Pages that keep failing are given more breathing room; a healthy rotation
// speeds back up. The adapter is a pure function of the current interval and
// the rolling success rate, so the policy is trivially testable.
package interval

import (
	"time"

	"github.com/xkilldash9x/marquee/internal/config"
)

const (
	// lowWater is the success rate below which the rotation slows down.
	lowWater = 0.5
	// highWater is the success rate above which the rotation speeds up.
	highWater = 0.9

	growFactor   = 1.5
	shrinkFactor = 0.8
)

// Adapter computes the next dwell interval from the rolling success rate.
// The zero value is unusable; build one with New.
type Adapter struct {
	enabled bool
	fixed   time.Duration
	min     time.Duration
	max     time.Duration
}

// New derives an Adapter from the session settings.
func New(cfg config.SessionConfig) Adapter {
	return Adapter{
		enabled: cfg.AdaptiveInterval,
		fixed:   cfg.Interval,
		min:     cfg.MinInterval,
		max:     cfg.MaxInterval,
	}
}

// Next returns the dwell interval to use after observing the given rolling
// success rate. With adaptation disabled the configured fixed interval is
// always returned. The result always lies within [min, max], and repeated
// calls at an extreme rate are idempotent once a bound is reached.
func (a Adapter) Next(current time.Duration, successRate float64) time.Duration {
	if !a.enabled {
		return a.fixed
	}
	switch {
	case successRate < lowWater:
		return a.clamp(time.Duration(float64(current) * growFactor))
	case successRate > highWater:
		return a.clamp(time.Duration(float64(current) * shrinkFactor))
	default:
		return a.clamp(current)
	}
}

func (a Adapter) clamp(d time.Duration) time.Duration {
	if d < a.min {
		return a.min
	}
	if d > a.max {
		return a.max
	}
	return d
}
