// Package memory implements store.Store fully in memory. Safe for
// concurrent access. Intended for unit testing, development, and the
// embedded runtime's default configuration.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xraph/durable"
	"github.com/xraph/durable/id"
	"github.com/xraph/durable/invocation"
)

// Compile-time interface check. The composite store.Store cannot be
// named here without an import cycle.
var _ invocation.Store = (*Store)(nil)

// Store is a fully in-memory invocation store.
type Store struct {
	mu sync.RWMutex

	invocations map[string]*invocation.Invocation
	journals    map[string][]*invocation.Entry
	state       map[string]map[string][]byte // service → key → value
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		invocations: make(map[string]*invocation.Invocation),
		journals:    make(map[string][]*invocation.Entry),
		state:       make(map[string]map[string][]byte),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// CreateInvocation persists a new invocation.
func (m *Store) CreateInvocation(_ context.Context, inv *invocation.Invocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := inv.ID.String()
	if _, exists := m.invocations[key]; exists {
		return durable.ErrInvocationExists
	}
	cp := *inv
	m.invocations[key] = &cp
	return nil
}

// GetInvocation retrieves an invocation by ID.
func (m *Store) GetInvocation(_ context.Context, invID id.InvocationID) (*invocation.Invocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv, ok := m.invocations[invID.String()]
	if !ok {
		return nil, durable.ErrInvocationNotFound
	}
	cp := *inv
	return &cp, nil
}

// UpdateInvocation persists changes to an existing invocation.
func (m *Store) UpdateInvocation(_ context.Context, inv *invocation.Invocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := inv.ID.String()
	if _, ok := m.invocations[key]; !ok {
		return durable.ErrInvocationNotFound
	}
	cp := *inv
	cp.Touch()
	m.invocations[key] = &cp
	return nil
}

// ListInvocations returns invocations matching the options, newest
// first.
func (m *Store) ListInvocations(_ context.Context, opts invocation.ListOpts) ([]*invocation.Invocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*invocation.Invocation, 0, len(m.invocations))
	for _, inv := range m.invocations {
		if opts.Service != "" && inv.Service != opts.Service {
			continue
		}
		if opts.State != "" && inv.State != opts.State {
			continue
		}
		cp := *inv
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// ListDue returns suspended invocations with a due wake-up and
// scheduled invocations with a due invoke time.
func (m *Store) ListDue(_ context.Context, now time.Time, limit int) ([]*invocation.Invocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	due := make([]*invocation.Invocation, 0)
	for _, inv := range m.invocations {
		switch inv.State {
		case invocation.StateSuspended:
			if inv.WakeAt == nil || inv.WakeAt.After(now) {
				continue
			}
		case invocation.StateScheduled:
			if inv.ScheduledAt != nil && inv.ScheduledAt.After(now) {
				continue
			}
		default:
			continue
		}
		cp := *inv
		due = append(due, &cp)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// AppendEntry persists one journal entry at its index.
func (m *Store) AppendEntry(_ context.Context, e *invocation.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.InvocationID.String()
	entries := m.journals[key]
	if int(e.Index) != len(entries) {
		return fmt.Errorf("durable/memory: append entry %d to journal of length %d", e.Index, len(entries))
	}
	cp := *e
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.journals[key] = append(entries, &cp)
	return nil
}

// CompleteEntry stores the result bytes for the entry at index.
func (m *Store) CompleteEntry(_ context.Context, invID id.InvocationID, index uint32, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.entryLocked(invID, index)
	if err != nil {
		return err
	}
	e.Result = result
	return nil
}

// AckEntry marks the entry at index durably recorded.
func (m *Store) AckEntry(_ context.Context, invID id.InvocationID, index uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.entryLocked(invID, index)
	if err != nil {
		return err
	}
	e.Acked = true
	return nil
}

func (m *Store) entryLocked(invID id.InvocationID, index uint32) (*invocation.Entry, error) {
	entries := m.journals[invID.String()]
	if int(index) >= len(entries) {
		return nil, fmt.Errorf("%w: entry %d of %s", durable.ErrEntryNotFound, index, invID)
	}
	return entries[index], nil
}

// GetEntries returns an invocation's journal in index order.
func (m *Store) GetEntries(_ context.Context, invID id.InvocationID) ([]*invocation.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.journals[invID.String()]
	out := make([]*invocation.Entry, len(entries))
	for i, e := range entries {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// GetServiceState reads one key of a service's durable state.
func (m *Store) GetServiceState(_ context.Context, service, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.state[service][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// SetServiceState writes one key of a service's durable state.
func (m *Store) SetServiceState(_ context.Context, service, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys, ok := m.state[service]
	if !ok {
		keys = make(map[string][]byte)
		m.state[service] = keys
	}
	keys[key] = append([]byte(nil), value...)
	return nil
}

// ClearServiceState deletes one key of a service's durable state.
func (m *Store) ClearServiceState(_ context.Context, service, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.state[service], key)
	return nil
}

// SnapshotServiceState returns all keys of a service's durable state.
func (m *Store) SnapshotServiceState(_ context.Context, service string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]byte, len(m.state[service]))
	for k, v := range m.state[service] {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}
