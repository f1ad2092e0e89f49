package probe

import (
	"context"
	"time"
)

// Result represents the outcome of a single probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface all node probes implement
type Checker interface {
	// Check performs the probe and returns the result
	Check(ctx context.Context) Result
}

// Config contains common probe configuration
type Config struct {
	// Interval is the time between probes
	Interval time.Duration

	// Timeout is the maximum time to wait for one probe
	Timeout time.Duration

	// Retries is the number of consecutive failures before a node is
	// marked unhealthy
	Retries int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
		Retries:  3,
	}
}

// Status tracks the rolling health of one node
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result
	Healthy              bool
}

// NewStatus creates a new Status, assuming healthy until proven otherwise
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update folds a new probe result into the status
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0
		if s.ConsecutiveFailures >= config.Retries {
			s.Healthy = false
		}
	}
}
