package scheduler

import (
	"fmt"
	"time"
)

// Config holds the configuration for the weekly reset scheduler.
type Config struct {
	// Weekday and Hour define the weekly firing instant in UTC.
	// Default: Monday 00:00 UTC.
	Weekday time.Weekday
	Hour    int

	// BatchSize is how many accounts one reset pass loads per page. The
	// scan is keyset-paginated so a large fleet never loads in one query.
	// Default: 500
	BatchSize int

	// RunTimeout is the maximum time a single reset pass is allowed to run.
	// Default: 10 minutes
	RunTimeout time.Duration

	// ShutdownTimeout is how long Stop waits for an in-flight pass to
	// complete before giving up. An interrupted pass is safe: the per-account
	// week-start guard lets the next firing converge.
	// Default: 30 seconds
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Weekday:         time.Monday,
		Hour:            0,
		BatchSize:       500,
		RunTimeout:      10 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate checks if the configuration is valid.
// Returns an error if any values are invalid.
func (c Config) Validate() error {
	if c.Weekday < time.Sunday || c.Weekday > time.Saturday {
		return fmt.Errorf("weekday must be a valid day, got %d", c.Weekday)
	}
	if c.Hour < 0 || c.Hour > 23 {
		return fmt.Errorf("hour must be between 0 and 23, got %d", c.Hour)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize)
	}
	if c.BatchSize > 10000 {
		return fmt.Errorf("batch size too high (max 10000), got %d", c.BatchSize)
	}
	if c.RunTimeout < 1*time.Second {
		return fmt.Errorf("run timeout must be at least 1 second, got %v", c.RunTimeout)
	}
	if c.ShutdownTimeout < 1*time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second, got %v", c.ShutdownTimeout)
	}
	return nil
}
