package session

import (
	"log/slog"
	"time"
)

// Config holds session tuning.
type Config struct {
	// Logger receives session lifecycle events.
	Logger *slog.Logger

	// SuspendTimeout bounds how long a session stays blocked before it
	// suspends voluntarily. Zero disables the timer; the session then
	// suspends only when the stream closes while blocked.
	SuspendTimeout time.Duration
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Logger: slog.Default(),
	}
}

// Option customizes a session machine.
type Option func(*Config)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithSuspendTimeout sets the voluntary suspension timeout.
func WithSuspendTimeout(d time.Duration) Option {
	return func(c *Config) { c.SuspendTimeout = d }
}
