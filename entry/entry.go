// Package entry defines the journal entry catalog and the per-entry state
// machine. The catalog is the static authority on what each entry kind can
// do: whether it is completable (its result is filled in later by an
// asynchronous completion) and fallible (its result may be a Failure), and
// which result variants it may carry. Other components consult this table;
// nothing is ever inferred from payload shape.
package entry

import (
	"fmt"

	"github.com/xraph/durable"
)

// Kind identifies a journal entry kind.
type Kind uint8

const (
	KindPollInput Kind = iota
	KindOutput
	KindGetState
	KindSetState
	KindClearState
	KindSleep
	KindInvoke
	KindBackgroundInvoke
	KindAwakeable
	KindCompleteAwakeable
)

// String returns the entry kind name.
func (k Kind) String() string {
	switch k {
	case KindPollInput:
		return "poll_input"
	case KindOutput:
		return "output"
	case KindGetState:
		return "get_state"
	case KindSetState:
		return "set_state"
	case KindClearState:
		return "clear_state"
	case KindSleep:
		return "sleep"
	case KindInvoke:
		return "invoke"
	case KindBackgroundInvoke:
		return "background_invoke"
	case KindAwakeable:
		return "awakeable"
	case KindCompleteAwakeable:
		return "complete_awakeable"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// VariantMask is a bit set of result variants an entry kind may carry.
type VariantMask uint8

const (
	MaskEmpty VariantMask = 1 << iota
	MaskValue
	MaskFailure
)

// Allows reports whether the mask permits the given result variant.
func (m VariantMask) Allows(v durable.Variant) bool {
	switch v {
	case durable.VariantEmpty:
		return m&MaskEmpty != 0
	case durable.VariantValue:
		return m&MaskValue != 0
	case durable.VariantFailure:
		return m&MaskFailure != 0
	default:
		return false
	}
}

// Traits are the static per-kind properties from the entry catalog.
type Traits struct {
	// Completable means the entry's result is filled in later by a
	// correlated completion.
	Completable bool

	// Fallible means the entry's result may be a Failure.
	Fallible bool

	// Results is the set of result variants the entry may record.
	Results VariantMask
}

// catalog is the fixed registry of entry kinds. It is the single
// authority the journal, correlator, and session consult.
var catalog = map[Kind]Traits{
	KindPollInput:         {Completable: true, Fallible: false, Results: MaskValue},
	KindOutput:            {Completable: false, Fallible: true, Results: MaskValue | MaskFailure},
	KindGetState:          {Completable: true, Fallible: false, Results: MaskEmpty | MaskValue},
	KindSetState:          {Completable: false, Fallible: false, Results: 0},
	KindClearState:        {Completable: false, Fallible: false, Results: 0},
	KindSleep:             {Completable: true, Fallible: false, Results: MaskEmpty},
	KindInvoke:            {Completable: true, Fallible: true, Results: MaskValue | MaskFailure},
	KindBackgroundInvoke:  {Completable: false, Fallible: true, Results: 0},
	KindAwakeable:         {Completable: true, Fallible: true, Results: MaskValue | MaskFailure},
	KindCompleteAwakeable: {Completable: false, Fallible: true, Results: 0},
}

// TraitsOf returns the catalog row for a kind. Unknown kinds return the
// zero Traits (non-completable, non-fallible, no results).
func TraitsOf(k Kind) Traits {
	return catalog[k]
}

// Completable reports whether entries of this kind receive an
// asynchronous completion.
func (k Kind) Completable() bool { return catalog[k].Completable }

// Fallible reports whether entries of this kind may record a Failure.
func (k Kind) Fallible() bool { return catalog[k].Fallible }

// Known reports whether k is a registered entry kind.
func (k Kind) Known() bool {
	_, ok := catalog[k]
	return ok
}
