package ext

import (
	"context"
	"time"

	"github.com/xraph/durable/invocation"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Invocation lifecycle hooks
// ──────────────────────────────────────────────────

// InvocationCreated is called after an invocation is accepted and
// persisted, before any run attempt begins.
type InvocationCreated interface {
	OnInvocationCreated(ctx context.Context, inv *invocation.Invocation) error
}

// InvocationStarted is called when a run attempt begins. This fires on
// the first start and again on every resume after a suspension.
type InvocationStarted interface {
	OnInvocationStarted(ctx context.Context, inv *invocation.Invocation) error
}

// EntryRecorded is called after a journal entry is durably recorded.
type EntryRecorded interface {
	OnEntryRecorded(ctx context.Context, inv *invocation.Invocation, e *invocation.Entry) error
}

// InvocationSuspended is called when a run parks waiting on completions.
type InvocationSuspended interface {
	OnInvocationSuspended(ctx context.Context, inv *invocation.Invocation, blocked []uint32) error
}

// InvocationCompleted is called after an invocation finishes with an
// output. Handler failures count as completions too: the output is a
// recorded failure, not a runtime error.
type InvocationCompleted interface {
	OnInvocationCompleted(ctx context.Context, inv *invocation.Invocation, elapsed time.Duration) error
}

// InvocationFailed is called when an invocation fails terminally, for
// example on a journal mismatch or a protocol violation.
type InvocationFailed interface {
	OnInvocationFailed(ctx context.Context, inv *invocation.Invocation, err error) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
