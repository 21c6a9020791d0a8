// Package scheduler runs the decision loop for autorun stories on a cadence.
package scheduler

import "time"

// Config defines the scheduler configuration.
type Config struct {
	// PollInterval is how often registered stories are checked for a due cycle.
	PollInterval time.Duration
	// MaxConcurrentStories caps decisions running in parallel within one tick.
	MaxConcurrentStories int
	// Mode is the autonomy mode requested for scheduled decisions.
	Mode string
	// OutcomeAgent enables the stale-run scan on every scheduled decision.
	OutcomeAgent bool
	// ApplyOutcomes lets the outcome agent close the runs it selects.
	ApplyOutcomes bool
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:         5 * time.Minute,
		MaxConcurrentStories: 4,
		Mode:                 "assist",
		OutcomeAgent:         true,
	}
}

func (c *Config) concurrency() int {
	if c.MaxConcurrentStories < 1 {
		return 1
	}
	return c.MaxConcurrentStories
}
