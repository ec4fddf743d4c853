package driver

import "time"

// Config holds configuration for the Driver.
type Config struct {
	// Concurrency caps how many invocations run simultaneously across
	// all services. Zero means unlimited.
	Concurrency int

	// PollInterval is how often the driver scans for due invocations:
	// fired durable timers and delayed one-way calls.
	PollInterval time.Duration

	// SuspendTimeout bounds how long a session stays blocked before it
	// suspends voluntarily and frees its slot.
	SuspendTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// PartialStateThreshold switches sessions to partial-state mode when
	// a service's state snapshot exceeds this many keys: reads then
	// round-trip to the store instead of riding on the start message.
	// Zero always sends the complete snapshot.
	PartialStateThreshold int

	// DueBatch is the maximum number of due invocations picked up per
	// poll.
	DueBatch int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     10,
		PollInterval:    500 * time.Millisecond,
		SuspendTimeout:  1 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		DueBatch:        64,
	}
}
