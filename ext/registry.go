package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/durable/invocation"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type invocationCreatedEntry struct {
	name string
	hook InvocationCreated
}

type invocationStartedEntry struct {
	name string
	hook InvocationStarted
}

type entryRecordedEntry struct {
	name string
	hook EntryRecorded
}

type invocationSuspendedEntry struct {
	name string
	hook InvocationSuspended
}

type invocationCompletedEntry struct {
	name string
	hook InvocationCompleted
}

type invocationFailedEntry struct {
	name string
	hook InvocationFailed
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	invocationCreated   []invocationCreatedEntry
	invocationStarted   []invocationStartedEntry
	entryRecorded       []entryRecordedEntry
	invocationSuspended []invocationSuspendedEntry
	invocationCompleted []invocationCompletedEntry
	invocationFailed    []invocationFailedEntry
	shutdown            []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(InvocationCreated); ok {
		r.invocationCreated = append(r.invocationCreated, invocationCreatedEntry{name, h})
	}
	if h, ok := e.(InvocationStarted); ok {
		r.invocationStarted = append(r.invocationStarted, invocationStartedEntry{name, h})
	}
	if h, ok := e.(EntryRecorded); ok {
		r.entryRecorded = append(r.entryRecorded, entryRecordedEntry{name, h})
	}
	if h, ok := e.(InvocationSuspended); ok {
		r.invocationSuspended = append(r.invocationSuspended, invocationSuspendedEntry{name, h})
	}
	if h, ok := e.(InvocationCompleted); ok {
		r.invocationCompleted = append(r.invocationCompleted, invocationCompletedEntry{name, h})
	}
	if h, ok := e.(InvocationFailed); ok {
		r.invocationFailed = append(r.invocationFailed, invocationFailedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Event emitters
// ──────────────────────────────────────────────────

// EmitInvocationCreated notifies all extensions that implement InvocationCreated.
func (r *Registry) EmitInvocationCreated(ctx context.Context, inv *invocation.Invocation) {
	for _, e := range r.invocationCreated {
		if err := e.hook.OnInvocationCreated(ctx, inv); err != nil {
			r.logHookError("OnInvocationCreated", e.name, err)
		}
	}
}

// EmitInvocationStarted notifies all extensions that implement InvocationStarted.
func (r *Registry) EmitInvocationStarted(ctx context.Context, inv *invocation.Invocation) {
	for _, e := range r.invocationStarted {
		if err := e.hook.OnInvocationStarted(ctx, inv); err != nil {
			r.logHookError("OnInvocationStarted", e.name, err)
		}
	}
}

// EmitEntryRecorded notifies all extensions that implement EntryRecorded.
func (r *Registry) EmitEntryRecorded(ctx context.Context, inv *invocation.Invocation, entry *invocation.Entry) {
	for _, e := range r.entryRecorded {
		if err := e.hook.OnEntryRecorded(ctx, inv, entry); err != nil {
			r.logHookError("OnEntryRecorded", e.name, err)
		}
	}
}

// EmitInvocationSuspended notifies all extensions that implement InvocationSuspended.
func (r *Registry) EmitInvocationSuspended(ctx context.Context, inv *invocation.Invocation, blocked []uint32) {
	for _, e := range r.invocationSuspended {
		if err := e.hook.OnInvocationSuspended(ctx, inv, blocked); err != nil {
			r.logHookError("OnInvocationSuspended", e.name, err)
		}
	}
}

// EmitInvocationCompleted notifies all extensions that implement InvocationCompleted.
func (r *Registry) EmitInvocationCompleted(ctx context.Context, inv *invocation.Invocation, elapsed time.Duration) {
	for _, e := range r.invocationCompleted {
		if err := e.hook.OnInvocationCompleted(ctx, inv, elapsed); err != nil {
			r.logHookError("OnInvocationCompleted", e.name, err)
		}
	}
}

// EmitInvocationFailed notifies all extensions that implement InvocationFailed.
func (r *Registry) EmitInvocationFailed(ctx context.Context, inv *invocation.Invocation, invErr error) {
	for _, e := range r.invocationFailed {
		if err := e.hook.OnInvocationFailed(ctx, inv, invErr); err != nil {
			r.logHookError("OnInvocationFailed", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the run.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
