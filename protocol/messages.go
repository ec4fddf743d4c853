package protocol

import (
	"github.com/xraph/durable"
	"github.com/xraph/durable/entry"
	"github.com/xraph/durable/id"
)

// Message is any frame exchanged over the protocol.
type Message interface {
	// MessageType returns the 16-bit wire type code.
	MessageType() Type
}

// EntryMessage is a journal entry message. Entry messages implement
// entry.Payload so the journal can hold them directly.
type EntryMessage interface {
	Message

	// EntryKind returns the journal entry kind.
	EntryKind() entry.Kind

	// EntryResult returns the result recorded inline on the entry, or
	// nil if the entry has none (still pending, or never completes).
	EntryResult() *durable.Result
}

// ── Core frames ─────────────────────────────────────

// StartMessage opens an invocation session. It carries the identity of
// the invocation, the number of journal entries the runtime has already
// recorded (which will be redelivered for replay), and the initial state
// snapshot.
type StartMessage struct {
	// ID is the unique invocation identity.
	ID id.InvocationID `json:"id" msgpack:"id"`

	// DebugID is a human-readable identity for logs and traces.
	DebugID string `json:"debug_id,omitempty" msgpack:"debug_id,omitempty"`

	// KnownEntries is the count of entries already recorded by the
	// runtime. Entries with index < KnownEntries are replayed.
	KnownEntries uint32 `json:"known_entries" msgpack:"known_entries"`

	// StateMap is the initial key/value state snapshot.
	StateMap map[string][]byte `json:"state,omitempty" msgpack:"state,omitempty"`

	// PartialState marks the snapshot as incomplete: keys absent from
	// StateMap are unknown rather than absent.
	PartialState bool `json:"partial_state,omitempty" msgpack:"partial_state,omitempty"`
}

// MessageType implements Message.
func (*StartMessage) MessageType() Type { return TypeStart }

// CompletionMessage resolves a pending completable entry by index.
type CompletionMessage struct {
	EntryIndex uint32          `json:"entry_index" msgpack:"entry_index"`
	Result     *durable.Result `json:"result" msgpack:"result"`
}

// MessageType implements Message.
func (*CompletionMessage) MessageType() Type { return TypeCompletion }

// SuspensionMessage yields control back to the runtime while blocked on
// one or more pending completable entries. The runtime may resume the
// invocation as soon as any one listed index completes.
type SuspensionMessage struct {
	EntryIndexes []uint32 `json:"entry_indexes" msgpack:"entry_indexes"`
}

// MessageType implements Message.
func (*SuspensionMessage) MessageType() Type { return TypeSuspension }

// ErrorMessage is the top-level fatal signal, distinct from a per-entry
// Failure. Description optionally carries verbose detail such as a stack
// trace.
type ErrorMessage struct {
	Code        durable.Code `json:"code" msgpack:"code"`
	Message     string       `json:"message" msgpack:"message"`
	Description string       `json:"description,omitempty" msgpack:"description,omitempty"`
}

// MessageType implements Message.
func (*ErrorMessage) MessageType() Type { return TypeError }

// EntryAckMessage confirms the runtime durably recorded the entry at the
// given index. Advisory: it never gates forward execution.
type EntryAckMessage struct {
	EntryIndex uint32 `json:"entry_index" msgpack:"entry_index"`
}

// MessageType implements Message.
func (*EntryAckMessage) MessageType() Type { return TypeEntryAck }

// ── Entry messages ──────────────────────────────────

// PollInputEntryMessage requests the invocation input. Completable;
// completes with Value.
type PollInputEntryMessage struct {
	Result *durable.Result `json:"result,omitempty" msgpack:"result,omitempty"`
}

func (*PollInputEntryMessage) MessageType() Type              { return TypePollInputEntry }
func (*PollInputEntryMessage) EntryKind() entry.Kind          { return entry.KindPollInput }
func (m *PollInputEntryMessage) EntryResult() *durable.Result { return m.Result }

// OutputEntryMessage is the terminal entry of a successful journal,
// carrying the invocation's Value or Failure result. No entry may follow
// it.
type OutputEntryMessage struct {
	Result *durable.Result `json:"result" msgpack:"result"`
}

func (*OutputEntryMessage) MessageType() Type              { return TypeOutputEntry }
func (*OutputEntryMessage) EntryKind() entry.Kind          { return entry.KindOutput }
func (m *OutputEntryMessage) EntryResult() *durable.Result { return m.Result }

// GetStateEntryMessage reads a state key. Completable; completes with
// Empty (absent) or Value. When the session resolves the read from a
// complete snapshot, the result rides inline on the entry itself.
type GetStateEntryMessage struct {
	Key    []byte          `json:"key" msgpack:"key"`
	Result *durable.Result `json:"result,omitempty" msgpack:"result,omitempty"`
}

func (*GetStateEntryMessage) MessageType() Type              { return TypeGetStateEntry }
func (*GetStateEntryMessage) EntryKind() entry.Kind          { return entry.KindGetState }
func (m *GetStateEntryMessage) EntryResult() *durable.Result { return m.Result }

// SetStateEntryMessage writes a state key. Never completes.
type SetStateEntryMessage struct {
	Key   []byte `json:"key" msgpack:"key"`
	Value []byte `json:"value" msgpack:"value"`
}

func (*SetStateEntryMessage) MessageType() Type            { return TypeSetStateEntry }
func (*SetStateEntryMessage) EntryKind() entry.Kind        { return entry.KindSetState }
func (*SetStateEntryMessage) EntryResult() *durable.Result { return nil }

// ClearStateEntryMessage deletes a state key. Never completes.
type ClearStateEntryMessage struct {
	Key []byte `json:"key" msgpack:"key"`
}

func (*ClearStateEntryMessage) MessageType() Type            { return TypeClearStateEntry }
func (*ClearStateEntryMessage) EntryKind() entry.Kind        { return entry.KindClearState }
func (*ClearStateEntryMessage) EntryResult() *durable.Result { return nil }

// SleepEntryMessage journals a one-shot timer. Completable; completes
// with Empty when the wake-up time passes.
type SleepEntryMessage struct {
	// WakeUpTime is the absolute wake-up instant in Unix milliseconds.
	WakeUpTime int64           `json:"wake_up_time" msgpack:"wake_up_time"`
	Result     *durable.Result `json:"result,omitempty" msgpack:"result,omitempty"`
}

func (*SleepEntryMessage) MessageType() Type              { return TypeSleepEntry }
func (*SleepEntryMessage) EntryKind() entry.Kind          { return entry.KindSleep }
func (m *SleepEntryMessage) EntryResult() *durable.Result { return m.Result }

// InvokeEntryMessage journals a request/response call to another
// service. Completable; completes with Value or Failure.
type InvokeEntryMessage struct {
	Service   string          `json:"service" msgpack:"service"`
	Method    string          `json:"method" msgpack:"method"`
	Parameter []byte          `json:"parameter" msgpack:"parameter"`
	Result    *durable.Result `json:"result,omitempty" msgpack:"result,omitempty"`
}

func (*InvokeEntryMessage) MessageType() Type              { return TypeInvokeEntry }
func (*InvokeEntryMessage) EntryKind() entry.Kind          { return entry.KindInvoke }
func (m *InvokeEntryMessage) EntryResult() *durable.Result { return m.Result }

// BackgroundInvokeEntryMessage journals a fire-and-forget call,
// optionally deferred to an absolute time. Never completes.
type BackgroundInvokeEntryMessage struct {
	Service   string `json:"service" msgpack:"service"`
	Method    string `json:"method" msgpack:"method"`
	Parameter []byte `json:"parameter" msgpack:"parameter"`

	// InvokeTime defers execution until the given Unix-millisecond
	// instant. Zero means immediately.
	InvokeTime int64 `json:"invoke_time,omitempty" msgpack:"invoke_time,omitempty"`
}

func (*BackgroundInvokeEntryMessage) MessageType() Type            { return TypeBackgroundInvokeEntry }
func (*BackgroundInvokeEntryMessage) EntryKind() entry.Kind        { return entry.KindBackgroundInvoke }
func (*BackgroundInvokeEntryMessage) EntryResult() *durable.Result { return nil }

// AwakeableEntryMessage journals an externally addressable completion
// point. A third party holding the ID completes it out-of-band.
// Completable; completes with Value or Failure.
type AwakeableEntryMessage struct {
	ID     string          `json:"id" msgpack:"id"`
	Result *durable.Result `json:"result,omitempty" msgpack:"result,omitempty"`
}

func (*AwakeableEntryMessage) MessageType() Type              { return TypeAwakeableEntry }
func (*AwakeableEntryMessage) EntryKind() entry.Kind          { return entry.KindAwakeable }
func (m *AwakeableEntryMessage) EntryResult() *durable.Result { return m.Result }

// CompleteAwakeableEntryMessage resolves another invocation's awakeable
// by external ID with a Value or Failure. Never completes itself.
type CompleteAwakeableEntryMessage struct {
	ID     string          `json:"id" msgpack:"id"`
	Result *durable.Result `json:"result" msgpack:"result"`
}

func (*CompleteAwakeableEntryMessage) MessageType() Type            { return TypeCompleteAwakeableEntry }
func (*CompleteAwakeableEntryMessage) EntryKind() entry.Kind        { return entry.KindCompleteAwakeable }
func (*CompleteAwakeableEntryMessage) EntryResult() *durable.Result { return nil }

// New returns an empty message struct for the given type code, ready for
// decoding. Unknown type codes return nil.
func New(t Type) Message {
	switch t {
	case TypeStart:
		return &StartMessage{}
	case TypeCompletion:
		return &CompletionMessage{}
	case TypeSuspension:
		return &SuspensionMessage{}
	case TypeError:
		return &ErrorMessage{}
	case TypeEntryAck:
		return &EntryAckMessage{}
	case TypePollInputEntry:
		return &PollInputEntryMessage{}
	case TypeOutputEntry:
		return &OutputEntryMessage{}
	case TypeGetStateEntry:
		return &GetStateEntryMessage{}
	case TypeSetStateEntry:
		return &SetStateEntryMessage{}
	case TypeClearStateEntry:
		return &ClearStateEntryMessage{}
	case TypeSleepEntry:
		return &SleepEntryMessage{}
	case TypeInvokeEntry:
		return &InvokeEntryMessage{}
	case TypeBackgroundInvokeEntry:
		return &BackgroundInvokeEntryMessage{}
	case TypeAwakeableEntry:
		return &AwakeableEntryMessage{}
	case TypeCompleteAwakeableEntry:
		return &CompleteAwakeableEntryMessage{}
	default:
		return nil
	}
}
