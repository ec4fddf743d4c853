package entry

import (
	"fmt"

	"github.com/xraph/durable"
)

// State represents the completion-tracking state of a journal entry.
type State string

const (
	// StatePending is the initial state, assigned at creation.
	StatePending State = "pending"
	// StateCompleted means a result has been recorded for the entry.
	StateCompleted State = "completed"
	// StateAcknowledged means the runtime confirmed it durably recorded
	// the entry. Terminal; advisory bookkeeping only.
	StateAcknowledged State = "acknowledged"
)

// Payload is the kind-specific payload of a journal entry. The protocol
// package's entry messages implement it.
type Payload interface {
	EntryKind() Kind
}

// Entry is one journal record. Index, Kind, and Payload are immutable
// after creation; only Result and State mutate, and only forward:
// Pending → Completed → Acknowledged.
type Entry struct {
	Index   uint32
	Kind    Kind
	Payload Payload
	State   State
	Result  *durable.Result
}

// New creates a Pending entry at the given index.
func New(index uint32, kind Kind, payload Payload) (*Entry, error) {
	if !kind.Known() {
		return nil, fmt.Errorf("entry: unknown kind %s", kind)
	}
	if payload != nil && payload.EntryKind() != kind {
		return nil, fmt.Errorf("entry: payload kind %s does not match %s", payload.EntryKind(), kind)
	}
	return &Entry{Index: index, Kind: kind, Payload: payload, State: StatePending}, nil
}

// checkVariant validates a result against the kind's catalog row.
func (e *Entry) checkVariant(res *durable.Result) error {
	t := TraitsOf(e.Kind)
	if res.Variant() == durable.VariantFailure && !t.Fallible {
		return fmt.Errorf("%w: %s result for non-fallible %s entry %d",
			durable.ErrProtocolViolation, res.Variant(), e.Kind, e.Index)
	}
	if !t.Results.Allows(res.Variant()) {
		return fmt.Errorf("%w: %s result not allowed for %s entry %d",
			durable.ErrProtocolViolation, res.Variant(), e.Kind, e.Index)
	}
	return nil
}

// Complete transitions Pending → Completed through the correlator path.
// Only completable kinds accept completions; each index completes at
// most once.
func (e *Entry) Complete(res *durable.Result) error {
	if !e.Kind.Completable() {
		return fmt.Errorf("%w: completion for non-completable %s entry %d",
			durable.ErrProtocolViolation, e.Kind, e.Index)
	}
	if e.State != StatePending {
		return fmt.Errorf("%w: completion for %s entry %d in state %s",
			durable.ErrProtocolViolation, e.Kind, e.Index, e.State)
	}
	if err := e.checkVariant(res); err != nil {
		return err
	}
	e.Result = res
	e.State = StateCompleted
	return nil
}

// Record sets a result outside the correlator path: at creation time for
// entries that resolve locally (an Output entry, an eager state read) or
// while loading a replayed journal whose recorded entries already carry
// results. The variant rules still apply.
func (e *Entry) Record(res *durable.Result) error {
	if e.State != StatePending {
		return fmt.Errorf("entry: cannot record result on %s entry %d in state %s",
			e.Kind, e.Index, e.State)
	}
	if err := e.checkVariant(res); err != nil {
		return err
	}
	e.Result = res
	e.State = StateCompleted
	return nil
}

// Acknowledge marks the entry acknowledged by the runtime. Completable
// entries must be Completed first: the runtime cannot have durably
// recorded a result that does not exist. Non-completable entries are
// acknowledged directly from Pending (there is nothing to complete).
// Acknowledging twice is a no-op.
func (e *Entry) Acknowledge() error {
	switch e.State {
	case StateAcknowledged:
		return nil
	case StateCompleted:
		e.State = StateAcknowledged
		return nil
	case StatePending:
		if e.Kind.Completable() {
			return fmt.Errorf("%w: acknowledgment for pending %s entry %d",
				durable.ErrProtocolViolation, e.Kind, e.Index)
		}
		e.State = StateAcknowledged
		return nil
	default:
		return fmt.Errorf("entry: invalid state %q on entry %d", e.State, e.Index)
	}
}

// Completed reports whether a result has been recorded (Completed or
// Acknowledged).
func (e *Entry) Completed() bool {
	return e.State == StateCompleted || e.State == StateAcknowledged
}
