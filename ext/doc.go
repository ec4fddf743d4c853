// Package ext defines the extension system for durable.
//
// Extensions are notified of invocation lifecycle events and can react
// to them — recording metrics, emitting webhooks, writing audit logs,
// etc. Each lifecycle hook is a separate interface so extensions opt in
// only to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnInvocationCompleted(ctx context.Context, inv *invocation.Invocation, elapsed time.Duration) error {
//	    log.Printf("invocation %s completed in %s", inv.ID, elapsed)
//	    return nil
//	}
//
// # Invocation Lifecycle Hooks
//
//   - [InvocationCreated] — invocation was accepted and persisted
//   - [InvocationStarted] — a run attempt began (first start or resume)
//   - [EntryRecorded] — a journal entry was durably recorded
//   - [InvocationSuspended] — the run parked waiting on completions
//   - [InvocationCompleted] — the invocation finished with an output
//   - [InvocationFailed] — the invocation failed terminally
//
// # Other Hooks
//
//   - [Shutdown] — the driver is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
