// Package invocation defines the persisted model of a durable
// invocation: its lifecycle record, its journal entries, and the
// key/value state it owns. Stores persist all three so an invocation
// survives process loss and resumes by replay.
package invocation

import (
	"time"

	"github.com/xraph/durable"
	"github.com/xraph/durable/id"
)

// State represents the lifecycle state of an invocation.
type State string

const (
	// StateRunning means a session is currently executing the invocation.
	StateRunning State = "running"
	// StateSuspended means the invocation is parked, waiting for one of
	// its blocked entries to complete.
	StateSuspended State = "suspended"
	// StateCompleted means the invocation produced its output (a value
	// or a failure) and will never run again.
	StateCompleted State = "completed"
	// StateFailed means the invocation died on a session-level error,
	// such as a journal mismatch.
	StateFailed State = "failed"
	// StateScheduled means a delayed one-way call waiting for its
	// invoke time.
	StateScheduled State = "scheduled"
)

// Invocation is one durable execution of a service method.
type Invocation struct {
	durable.Entity

	ID      id.InvocationID `json:"id"`
	DebugID string          `json:"debug_id"`
	Service string          `json:"service"`
	Method  string          `json:"method"`
	State   State           `json:"state"`
	Input   []byte          `json:"input,omitempty"`

	// Output and Failure hold the terminal result once completed.
	Output  []byte           `json:"output,omitempty"`
	Failure *durable.Failure `json:"failure,omitempty"`

	// Blocked is the entry index set reported at suspension time.
	Blocked []uint32 `json:"blocked,omitempty"`

	// ScheduledAt defers the first run of a delayed one-way call.
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`

	// WakeAt is the earliest pending timer among the blocked entries,
	// set at suspension time so due sleepers can be found by query.
	WakeAt *time.Time `json:"wake_at,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New creates a running invocation for a service method.
func New(service, method string, input []byte) *Invocation {
	invID := id.NewInvocationID()
	return &Invocation{
		Entity:  durable.NewEntity(),
		ID:      invID,
		DebugID: service + "/" + method + "/" + invID.String(),
		Service: service,
		Method:  method,
		State:   StateRunning,
		Input:   input,
	}
}

// Entry is one persisted journal record. Payload and Result are wire
// bodies encoded with the store's codec; TypeCode is the protocol type
// so the runtime can rebuild entry messages for replay without guessing.
type Entry struct {
	InvocationID id.InvocationID `json:"invocation_id"`
	Index        uint32          `json:"index"`
	TypeCode     uint16          `json:"type_code"`
	Payload      []byte          `json:"payload,omitempty"`
	Result       []byte          `json:"result,omitempty"`
	Acked        bool            `json:"acked"`
	CreatedAt    time.Time       `json:"created_at"`
}
