package durable

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func TestResultConstructors(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		r := EmptyResult()
		if r.Variant() != VariantEmpty {
			t.Fatalf("variant = %s", r.Variant())
		}
		if r.Value() != nil || r.Failure() != nil || r.Err() != nil {
			t.Fatal("empty result carries a payload")
		}
	})

	t.Run("value", func(t *testing.T) {
		r := ValueResult([]byte("payload"))
		if r.Variant() != VariantValue {
			t.Fatalf("variant = %s", r.Variant())
		}
		if string(r.Value()) != "payload" {
			t.Fatalf("value = %q", r.Value())
		}
		if r.Err() != nil {
			t.Fatal("value result reported an error")
		}
	})

	t.Run("failure", func(t *testing.T) {
		r := FailureResult(NewFailure(CodeNotFound, "gone"))
		if r.Variant() != VariantFailure {
			t.Fatalf("variant = %s", r.Variant())
		}
		var f *Failure
		if !errors.As(r.Err(), &f) {
			t.Fatalf("Err() = %v, want *Failure", r.Err())
		}
		if f.Code != CodeNotFound || f.Message != "gone" {
			t.Fatalf("failure = %+v", f)
		}
	})

	t.Run("failure code is normalized", func(t *testing.T) {
		r := FailureResult(&Failure{Code: 999, Message: "weird"})
		if got := r.Failure().Code; got != CodeUnknown {
			t.Fatalf("code = %d, want CodeUnknown", got)
		}
	})
}

func TestResultJSONRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		in   *Result
	}{
		{"empty", EmptyResult()},
		{"value", ValueResult([]byte("abc"))},
		{"zero-length value", ValueResult([]byte{})},
		{"failure", FailureResult(NewFailure(CodeUnavailable, "down"))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.in)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var out Result
			if err := json.Unmarshal(data, &out); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if out.Variant() != tc.in.Variant() {
				t.Fatalf("variant = %s, want %s", out.Variant(), tc.in.Variant())
			}
			if string(out.Value()) != string(tc.in.Value()) {
				t.Fatalf("value = %q, want %q", out.Value(), tc.in.Value())
			}
		})
	}
}

// A zero-length value must survive the wire distinct from the empty
// variant: "completed with no bytes" is not "completed with nothing".
func TestResultEmptyValueStaysValue(t *testing.T) {
	data, err := json.Marshal(ValueResult([]byte{}))
	if err != nil {
		t.Fatal(err)
	}
	var out Result
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Variant() != VariantValue {
		t.Fatalf("variant = %s, want value", out.Variant())
	}
}

func TestResultMsgpackRoundTrip(t *testing.T) {
	in := FailureResult(NewFailure(CodePermissionDenied, "no"))
	data, err := msgpack.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Result
	if err := msgpack.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Variant() != VariantFailure {
		t.Fatalf("variant = %s", out.Variant())
	}
	if out.Failure().Code != CodePermissionDenied || out.Failure().Message != "no" {
		t.Fatalf("failure = %+v", out.Failure())
	}
}

func TestResultWireRejectsMalformedUnions(t *testing.T) {
	t.Run("no variant", func(t *testing.T) {
		var r Result
		if err := json.Unmarshal([]byte(`{}`), &r); err == nil {
			t.Fatal("expected error for zero variants")
		}
	})

	t.Run("two variants", func(t *testing.T) {
		var r Result
		raw := `{"13":true,"14":"YWJj"}`
		if err := json.Unmarshal([]byte(raw), &r); err == nil {
			t.Fatal("expected error for two variants")
		}
	})

	t.Run("pending result cannot encode", func(t *testing.T) {
		var r Result
		if _, err := json.Marshal(&r); err == nil {
			t.Fatal("expected error encoding the none variant")
		}
	})
}

func TestCodeNormalize(t *testing.T) {
	cases := []struct {
		in   Code
		want Code
	}{
		{CodeOK, CodeOK},
		{CodeUnauthenticated, CodeUnauthenticated},
		{CodeJournalMismatch, CodeJournalMismatch},
		{CodeProtocolViolation, CodeProtocolViolation},
		{17, CodeUnknown},
		{31, CodeUnknown},
		{34, CodeUnknown},
		{1 << 20, CodeUnknown},
	}
	for _, tc := range cases {
		if got := tc.in.Normalize(); got != tc.want {
			t.Errorf("Normalize(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestAsFailure(t *testing.T) {
	t.Run("passes failures through", func(t *testing.T) {
		f := AsFailure(NewFailure(CodeAborted, "stop"))
		if f.Code != CodeAborted || f.Message != "stop" {
			t.Fatalf("failure = %+v", f)
		}
	})

	t.Run("wraps plain errors as unknown", func(t *testing.T) {
		f := AsFailure(errors.New("boom"))
		if f.Code != CodeUnknown || f.Message != "boom" {
			t.Fatalf("failure = %+v", f)
		}
	})

	t.Run("normalizes out-of-domain codes", func(t *testing.T) {
		f := AsFailure(&Failure{Code: 200, Message: "http is not grpc"})
		if f.Code != CodeUnknown {
			t.Fatalf("code = %d", f.Code)
		}
	})
}
