package durable

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Wire tags for the result union. These are fixed across every completable
// entry's result and reserved: 13–15 must never be reused for unrelated
// fields in any entry message.
const (
	ResultTagEmpty   = 13
	ResultTagValue   = 14
	ResultTagFailure = 15
)

// Variant discriminates the result union.
type Variant uint8

const (
	// VariantNone means no result has been recorded yet (entry Pending).
	VariantNone Variant = iota
	// VariantEmpty is a successful completion with no payload.
	VariantEmpty
	// VariantValue is a successful completion carrying bytes.
	VariantValue
	// VariantFailure is a failed completion.
	VariantFailure
)

// String returns the variant name.
func (v Variant) String() string {
	switch v {
	case VariantNone:
		return "none"
	case VariantEmpty:
		return "empty"
	case VariantValue:
		return "value"
	case VariantFailure:
		return "failure"
	default:
		return fmt.Sprintf("variant(%d)", uint8(v))
	}
}

// Result is the tagged union {Empty, Value(bytes), Failure} shared by all
// completable entries. The zero Result has no variant; constructors are
// the only way to produce a populated one, so at most one variant is ever
// set.
type Result struct {
	variant Variant
	value   []byte
	failure *Failure
}

// EmptyResult returns a Result with the Empty variant.
func EmptyResult() *Result {
	return &Result{variant: VariantEmpty}
}

// ValueResult returns a Result carrying the given bytes.
func ValueResult(value []byte) *Result {
	return &Result{variant: VariantValue, value: value}
}

// FailureResult returns a Result carrying a Failure. The failure code is
// normalized on the way in.
func FailureResult(f *Failure) *Result {
	return &Result{variant: VariantFailure, failure: NewFailure(f.Code, f.Message)}
}

// Variant returns the populated variant.
func (r *Result) Variant() Variant { return r.variant }

// Value returns the value bytes (nil unless VariantValue).
func (r *Result) Value() []byte { return r.value }

// Failure returns the failure (nil unless VariantFailure).
func (r *Result) Failure() *Failure { return r.failure }

// Err returns the failure as an error, or nil for success variants.
func (r *Result) Err() error {
	if r.variant == VariantFailure {
		return r.failure
	}
	return nil
}

// resultWire is the encoded form: exactly one of the reserved tags set.
type resultWire struct {
	Empty   *bool    `json:"13,omitempty" msgpack:"13,omitempty"`
	Value   *[]byte  `json:"14,omitempty" msgpack:"14,omitempty"`
	Failure *Failure `json:"15,omitempty" msgpack:"15,omitempty"`
}

func (r *Result) toWire() (*resultWire, error) {
	w := &resultWire{}
	switch r.variant {
	case VariantEmpty:
		t := true
		w.Empty = &t
	case VariantValue:
		v := r.value
		w.Value = &v
	case VariantFailure:
		w.Failure = r.failure
	default:
		return nil, fmt.Errorf("durable: cannot encode result variant %s", r.variant)
	}
	return w, nil
}

func (r *Result) fromWire(w *resultWire) error {
	set := 0
	if w.Empty != nil {
		set++
	}
	if w.Value != nil {
		set++
	}
	if w.Failure != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("durable: result union must carry exactly one variant, got %d", set)
	}
	switch {
	case w.Empty != nil:
		*r = Result{variant: VariantEmpty}
	case w.Value != nil:
		*r = Result{variant: VariantValue, value: *w.Value}
	default:
		*r = Result{variant: VariantFailure, failure: NewFailure(w.Failure.Code, w.Failure.Message)}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r *Result) MarshalJSON() ([]byte, error) {
	w, err := r.toWire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Result) UnmarshalJSON(data []byte) error {
	var w resultWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	return r.fromWire(&w)
}

// EncodeMsgpack implements msgpack.CustomEncoder.
func (r *Result) EncodeMsgpack(enc *msgpack.Encoder) error {
	w, err := r.toWire()
	if err != nil {
		return err
	}
	return enc.Encode(w)
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (r *Result) DecodeMsgpack(dec *msgpack.Decoder) error {
	var w resultWire
	if err := dec.Decode(&w); err != nil {
		return err
	}
	return r.fromWire(&w)
}
