package scheduler

import (
	"time"
)

// Config controls scheduler intervals and the generation window.
type Config struct {
	RunInterval   time.Duration
	LookaheadDays int
	JobTimeout    time.Duration
	EnabledJobs   []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:   time.Minute,
		LookaheadDays: 0,
		JobTimeout:    30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.LookaheadDays < 0 {
		c.LookaheadDays = defaults.LookaheadDays
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
