// Package protocol implements the Durable Wire Protocol — the framed
// message surface between user code running a journaled invocation and the
// orchestrating runtime. Every message is identified by a 16-bit type code
// formed as category base + offset: core frames at 0x0000, input/output
// entries at 0x0400, state-access entries at 0x0800, and syscall entries
// at 0x0C00. Frames are carried over any byte stream or message transport;
// bodies are encoded with a negotiable codec (JSON default, MessagePack
// optional).
package protocol

import (
	"fmt"

	"github.com/xraph/durable/entry"
)

// Type is the 16-bit wire type code of a message.
type Type uint16

// Category bases.
const (
	BaseCore    Type = 0x0000
	BaseIO      Type = 0x0400
	BaseState   Type = 0x0800
	BaseSyscall Type = 0x0C00
)

// Core frame type codes.
const (
	TypeStart      = BaseCore + 0
	TypeCompletion = BaseCore + 1
	TypeSuspension = BaseCore + 2
	TypeError      = BaseCore + 3
	TypeEntryAck   = BaseCore + 4
)

// Input/output entry type codes.
const (
	TypePollInputEntry = BaseIO + 0
	TypeOutputEntry    = BaseIO + 1
)

// State-access entry type codes.
const (
	TypeGetStateEntry   = BaseState + 0
	TypeSetStateEntry   = BaseState + 1
	TypeClearStateEntry = BaseState + 2
)

// Syscall entry type codes.
const (
	TypeSleepEntry             = BaseSyscall + 0
	TypeInvokeEntry            = BaseSyscall + 1
	TypeBackgroundInvokeEntry  = BaseSyscall + 2
	TypeAwakeableEntry         = BaseSyscall + 3
	TypeCompleteAwakeableEntry = BaseSyscall + 4
)

// String returns the message type name.
func (t Type) String() string {
	switch t {
	case TypeStart:
		return "start"
	case TypeCompletion:
		return "completion"
	case TypeSuspension:
		return "suspension"
	case TypeError:
		return "error"
	case TypeEntryAck:
		return "entry_ack"
	case TypePollInputEntry:
		return "poll_input_entry"
	case TypeOutputEntry:
		return "output_entry"
	case TypeGetStateEntry:
		return "get_state_entry"
	case TypeSetStateEntry:
		return "set_state_entry"
	case TypeClearStateEntry:
		return "clear_state_entry"
	case TypeSleepEntry:
		return "sleep_entry"
	case TypeInvokeEntry:
		return "invoke_entry"
	case TypeBackgroundInvokeEntry:
		return "background_invoke_entry"
	case TypeAwakeableEntry:
		return "awakeable_entry"
	case TypeCompleteAwakeableEntry:
		return "complete_awakeable_entry"
	default:
		return fmt.Sprintf("type(0x%04x)", uint16(t))
	}
}

// IsEntry reports whether the type code names a journal entry message.
func (t Type) IsEntry() bool {
	return t >= BaseIO
}

// TypeOf returns the wire type code for an entry kind.
func TypeOf(k entry.Kind) Type {
	switch k {
	case entry.KindPollInput:
		return TypePollInputEntry
	case entry.KindOutput:
		return TypeOutputEntry
	case entry.KindGetState:
		return TypeGetStateEntry
	case entry.KindSetState:
		return TypeSetStateEntry
	case entry.KindClearState:
		return TypeClearStateEntry
	case entry.KindSleep:
		return TypeSleepEntry
	case entry.KindInvoke:
		return TypeInvokeEntry
	case entry.KindBackgroundInvoke:
		return TypeBackgroundInvokeEntry
	case entry.KindAwakeable:
		return TypeAwakeableEntry
	case entry.KindCompleteAwakeable:
		return TypeCompleteAwakeableEntry
	default:
		panic(fmt.Sprintf("protocol: no type code for entry kind %s", k))
	}
}
