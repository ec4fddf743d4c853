package entry

import (
	"errors"
	"testing"

	"github.com/xraph/durable"
)

type fakePayload struct{ kind Kind }

func (p fakePayload) EntryKind() Kind { return p.kind }

func mustEntry(t *testing.T, kind Kind) *Entry {
	t.Helper()
	e, err := New(0, kind, fakePayload{kind})
	if err != nil {
		t.Fatalf("New(%s): %v", kind, err)
	}
	return e
}

func TestCatalog(t *testing.T) {
	cases := []struct {
		kind        Kind
		completable bool
		fallible    bool
	}{
		{KindPollInput, true, false},
		{KindOutput, false, true},
		{KindGetState, true, false},
		{KindSetState, false, false},
		{KindClearState, false, false},
		{KindSleep, true, false},
		{KindInvoke, true, true},
		{KindBackgroundInvoke, false, true},
		{KindAwakeable, true, true},
		{KindCompleteAwakeable, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			if got := tc.kind.Completable(); got != tc.completable {
				t.Errorf("Completable() = %v, want %v", got, tc.completable)
			}
			if got := tc.kind.Fallible(); got != tc.fallible {
				t.Errorf("Fallible() = %v, want %v", got, tc.fallible)
			}
			if !tc.kind.Known() {
				t.Error("Known() = false")
			}
		})
	}

	if Kind(200).Known() {
		t.Error("unknown kind reported as known")
	}
}

func TestNewRejectsBadInputs(t *testing.T) {
	if _, err := New(0, Kind(200), nil); err == nil {
		t.Error("accepted an unknown kind")
	}
	if _, err := New(0, KindSleep, fakePayload{KindInvoke}); err == nil {
		t.Error("accepted a payload whose kind disagrees")
	}
}

func TestCompleteTransitions(t *testing.T) {
	t.Run("pending to completed", func(t *testing.T) {
		e := mustEntry(t, KindInvoke)
		if e.Completed() {
			t.Fatal("new entry already completed")
		}
		if err := e.Complete(durable.ValueResult([]byte("ok"))); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if e.State != StateCompleted || !e.Completed() {
			t.Fatalf("state = %s", e.State)
		}
	})

	t.Run("at most once", func(t *testing.T) {
		e := mustEntry(t, KindSleep)
		if err := e.Complete(durable.EmptyResult()); err != nil {
			t.Fatal(err)
		}
		err := e.Complete(durable.EmptyResult())
		if !errors.Is(err, durable.ErrProtocolViolation) {
			t.Fatalf("second completion err = %v", err)
		}
	})

	t.Run("non-completable kinds refuse completions", func(t *testing.T) {
		for _, kind := range []Kind{KindOutput, KindSetState, KindClearState, KindBackgroundInvoke, KindCompleteAwakeable} {
			e := mustEntry(t, kind)
			err := e.Complete(durable.EmptyResult())
			if !errors.Is(err, durable.ErrProtocolViolation) {
				t.Errorf("%s: err = %v", kind, err)
			}
		}
	})
}

func TestResultVariantRules(t *testing.T) {
	t.Run("failure on non-fallible kind", func(t *testing.T) {
		e := mustEntry(t, KindSleep)
		err := e.Complete(durable.FailureResult(durable.NewFailure(durable.CodeInternal, "no")))
		if !errors.Is(err, durable.ErrProtocolViolation) {
			t.Fatalf("err = %v", err)
		}
		if e.State != StatePending {
			t.Fatalf("rejected completion mutated state to %s", e.State)
		}
	})

	t.Run("empty not allowed on poll input", func(t *testing.T) {
		e := mustEntry(t, KindPollInput)
		err := e.Complete(durable.EmptyResult())
		if !errors.Is(err, durable.ErrProtocolViolation) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("get state takes empty or value", func(t *testing.T) {
		for _, res := range []*durable.Result{durable.EmptyResult(), durable.ValueResult([]byte("v"))} {
			e := mustEntry(t, KindGetState)
			if err := e.Complete(res); err != nil {
				t.Errorf("%s: %v", res.Variant(), err)
			}
		}
	})

	t.Run("awakeable takes value or failure", func(t *testing.T) {
		e := mustEntry(t, KindAwakeable)
		if err := e.Complete(durable.FailureResult(durable.NewFailure(durable.CodeAborted, "rejected"))); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	})
}

func TestRecord(t *testing.T) {
	t.Run("output records locally", func(t *testing.T) {
		e := mustEntry(t, KindOutput)
		if err := e.Record(durable.ValueResult([]byte("out"))); err != nil {
			t.Fatalf("Record: %v", err)
		}
		if e.State != StateCompleted {
			t.Fatalf("state = %s", e.State)
		}
	})

	t.Run("variant rules still apply", func(t *testing.T) {
		e := mustEntry(t, KindSleep)
		err := e.Record(durable.ValueResult([]byte("x")))
		if !errors.Is(err, durable.ErrProtocolViolation) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("once only", func(t *testing.T) {
		e := mustEntry(t, KindGetState)
		if err := e.Record(durable.EmptyResult()); err != nil {
			t.Fatal(err)
		}
		if err := e.Record(durable.EmptyResult()); err == nil {
			t.Fatal("second record accepted")
		}
	})
}

func TestAcknowledge(t *testing.T) {
	t.Run("completed to acknowledged", func(t *testing.T) {
		e := mustEntry(t, KindInvoke)
		if err := e.Complete(durable.ValueResult(nil)); err != nil {
			t.Fatal(err)
		}
		if err := e.Acknowledge(); err != nil {
			t.Fatalf("Acknowledge: %v", err)
		}
		if e.State != StateAcknowledged || !e.Completed() {
			t.Fatalf("state = %s", e.State)
		}
	})

	t.Run("non-completable from pending", func(t *testing.T) {
		e := mustEntry(t, KindSetState)
		if err := e.Acknowledge(); err != nil {
			t.Fatalf("Acknowledge: %v", err)
		}
		if e.State != StateAcknowledged {
			t.Fatalf("state = %s", e.State)
		}
	})

	t.Run("completable pending is a violation", func(t *testing.T) {
		e := mustEntry(t, KindAwakeable)
		err := e.Acknowledge()
		if !errors.Is(err, durable.ErrProtocolViolation) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		e := mustEntry(t, KindClearState)
		if err := e.Acknowledge(); err != nil {
			t.Fatal(err)
		}
		if err := e.Acknowledge(); err != nil {
			t.Fatalf("second Acknowledge: %v", err)
		}
	})

	t.Run("never backward", func(t *testing.T) {
		e := mustEntry(t, KindSleep)
		if err := e.Complete(durable.EmptyResult()); err != nil {
			t.Fatal(err)
		}
		if err := e.Acknowledge(); err != nil {
			t.Fatal(err)
		}
		// A completion after acknowledgment must be refused.
		err := e.Complete(durable.EmptyResult())
		if !errors.Is(err, durable.ErrProtocolViolation) {
			t.Fatalf("err = %v", err)
		}
	})
}
