// Package service defines durable services: named collections of
// handler methods that the runtime invokes through journaled sessions.
package service

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xraph/durable"
	"github.com/xraph/durable/session"
)

// Handler is a type-erased method handler over raw input bytes.
type Handler func(ctx *session.Context, input []byte) ([]byte, error)

// Service is a named set of methods. Build with New and Method, then
// register it on a Registry.
type Service struct {
	name    string
	methods map[string]Handler
}

// New creates an empty service.
func New(name string) *Service {
	return &Service{
		name:    name,
		methods: make(map[string]Handler),
	}
}

// Name returns the service name.
func (s *Service) Name() string { return s.name }

// Method adds a raw-bytes handler. Returns the service for chaining.
func (s *Service) Method(name string, h Handler) *Service {
	s.methods[name] = h
	return s
}

// Methods returns the registered method names.
func (s *Service) Methods() []string {
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	return names
}

// Method adds a typed handler to the service. Input and output are
// JSON-serialized at the boundary; the typed handler never sees raw
// bytes.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func Method[I, O any](s *Service, name string, h func(ctx *session.Context, input I) (O, error)) *Service {
	return s.Method(name, func(ctx *session.Context, input []byte) ([]byte, error) {
		var in I
		if len(input) > 0 {
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, durable.NewFailure(durable.CodeInvalidArgument,
					fmt.Sprintf("unmarshal input for %s/%s: %v", s.name, name, err))
			}
		}
		out, err := h(ctx, in)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("marshal output for %s/%s: %w", s.name, name, err)
		}
		return data, nil
	})
}

// Registry maps service names to their definitions. Safe for concurrent
// use.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*Service
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		services: make(map[string]*Service),
	}
}

// Register adds a service. Registering the same name twice is an error.
func (r *Registry) Register(svc *Service) error {
	if svc.name == "" {
		return fmt.Errorf("service: cannot register unnamed service")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.services[svc.name]; exists {
		return fmt.Errorf("service: %q already registered", svc.name)
	}
	r.services[svc.name] = svc
	return nil
}

// Get returns the named service.
func (r *Registry) Get(name string) (*Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	return svc, ok
}

// Handler resolves a service/method pair to its handler.
func (r *Registry) Handler(service, method string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[service]
	if !ok {
		return nil, fmt.Errorf("%w: %s", durable.ErrServiceNotFound, service)
	}
	h, ok := svc.methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", durable.ErrServiceNotFound, service, method)
	}
	return h, nil
}

// Names returns all registered service names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	return names
}
