// Package admission controls how many invocations a runtime lets run at
// once, per service and globally, with optional token-bucket rate
// limits on invocation starts. It is safe for concurrent use.
package admission

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-service admission behaviour.
type Config struct {
	// Service is the service name the config applies to.
	Service string

	// MaxConcurrent limits how many invocations of this service may run
	// simultaneously. Zero means no service-specific limit (the global
	// limit still applies).
	MaxConcurrent int

	// RateLimit is the maximum sustained invocation starts per second.
	// Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// serviceState tracks runtime state for a single service.
type serviceState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager controls per-service and global admission.
type Manager struct {
	mu        sync.Mutex
	services  map[string]*serviceState
	maxGlobal int
	active    int
}

// NewManager creates a Manager with the given service configurations.
// maxGlobal caps running invocations across all services; zero means
// unlimited. Services not listed have no service-specific limits.
func NewManager(maxGlobal int, configs ...Config) *Manager {
	m := &Manager{
		services:  make(map[string]*serviceState, len(configs)),
		maxGlobal: maxGlobal,
	}
	for _, cfg := range configs {
		m.services[cfg.Service] = newServiceState(cfg)
	}
	return m
}

func newServiceState(cfg Config) *serviceState {
	ss := &serviceState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ss.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ss
}

// Acquire checks limits for the given service. If the invocation may
// proceed it increments the active counters and returns true. The
// caller MUST call Release when the invocation stops running.
func (m *Manager) Acquire(service string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxGlobal > 0 && m.active >= m.maxGlobal {
		return false
	}

	ss := m.services[service]
	if ss != nil {
		if ss.limiter != nil && !ss.limiter.Allow() {
			return false
		}
		if ss.config.MaxConcurrent > 0 && ss.active >= ss.config.MaxConcurrent {
			return false
		}
		ss.active++
	}
	m.active++
	return true
}

// Release decrements the active counters for the service.
func (m *Manager) Release(service string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ss := m.services[service]; ss != nil && ss.active > 0 {
		ss.active--
	}
	if m.active > 0 {
		m.active--
	}
}

// SetServiceConfig dynamically updates (or creates) a service
// configuration, preserving the current active count.
func (m *Manager) SetServiceConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.services[cfg.Service]
	ss := newServiceState(cfg)
	if existing != nil {
		ss.active = existing.active
	}
	m.services[cfg.Service] = ss
}

// ActiveCount returns the current number of running invocations for a
// service.
func (m *Manager) ActiveCount(service string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ss := m.services[service]; ss != nil {
		return ss.active
	}
	return 0
}

// Active returns the total number of running invocations.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}
