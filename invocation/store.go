package invocation

import (
	"context"
	"time"

	"github.com/xraph/durable/id"
)

// ListOpts controls pagination and filtering for invocation list
// queries.
type ListOpts struct {
	// Limit is the maximum number of invocations to return. Zero means
	// no limit.
	Limit int
	// Offset is the number of invocations to skip.
	Offset int
	// Service filters by service name. Empty means all services.
	Service string
	// State filters by lifecycle state. Empty means all states.
	State State
}

// Store defines the persistence contract for invocations, their
// journals, and their service state.
type Store interface {
	// CreateInvocation persists a new invocation.
	CreateInvocation(ctx context.Context, inv *Invocation) error

	// GetInvocation retrieves an invocation by ID.
	GetInvocation(ctx context.Context, invID id.InvocationID) (*Invocation, error)

	// UpdateInvocation persists changes to an existing invocation.
	UpdateInvocation(ctx context.Context, inv *Invocation) error

	// ListInvocations returns invocations matching the given options,
	// newest first.
	ListInvocations(ctx context.Context, opts ListOpts) ([]*Invocation, error)

	// ListDue returns suspended or scheduled invocations whose wake-up
	// instant is at or before now: fired timers and due delayed calls.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Invocation, error)

	// AppendEntry persists one journal entry at its index. Appending the
	// same index twice is an error.
	AppendEntry(ctx context.Context, e *Entry) error

	// CompleteEntry stores the result bytes for the entry at index.
	CompleteEntry(ctx context.Context, invID id.InvocationID, index uint32, result []byte) error

	// AckEntry marks the entry at index durably recorded.
	AckEntry(ctx context.Context, invID id.InvocationID, index uint32) error

	// GetEntries returns an invocation's journal in index order.
	GetEntries(ctx context.Context, invID id.InvocationID) ([]*Entry, error)

	// GetServiceState reads one key of a service's durable state.
	GetServiceState(ctx context.Context, service, key string) ([]byte, bool, error)

	// SetServiceState writes one key of a service's durable state.
	SetServiceState(ctx context.Context, service, key string, value []byte) error

	// ClearServiceState deletes one key of a service's durable state.
	ClearServiceState(ctx context.Context, service, key string) error

	// SnapshotServiceState returns all keys of a service's durable
	// state.
	SnapshotServiceState(ctx context.Context, service string) (map[string][]byte, error)

	// Close releases store resources.
	Close() error
}
