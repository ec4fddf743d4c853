// Package durable implements the journal-based invocation protocol for
// durable execution in Go. A long-running, possibly-suspended unit of work
// communicates deterministically with an orchestrating runtime over a
// message stream: user code emits and reads a totally-ordered journal of
// typed entries representing side effects (state access, timers, remote
// calls, output), and replay reproduces a prior execution from the journal
// instead of re-executing side effects.
//
// Durable is designed as a library, not a service. Register handlers as
// ordinary Go functions, configure a store, and drive invocations through
// the embedded driver or a remote runtime over the wire protocol.
//
// # Quick Start
//
//	d, err := driver.New(reg,
//	    driver.WithStore(memory.New()),
//	    driver.WithConcurrency(20),
//	)
//
// # Architecture
//
// The root package holds the shared vocabulary: the Result union, Failure
// and its status-code domain, sentinel errors, and persisted-entity
// timestamps. Subsystem packages layer on top: entry (the static entry
// catalog), journal (the per-invocation journal and completion
// correlator), session (the protocol state machine), protocol (wire
// messages and codecs), and driver (the embedded runtime).
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package durable
