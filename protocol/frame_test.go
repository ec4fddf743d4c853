package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/xraph/durable"
	"github.com/xraph/durable/id"
)

func TestTypeCodes(t *testing.T) {
	cases := []struct {
		typ  Type
		want uint16
	}{
		{TypeStart, 0x0000},
		{TypeCompletion, 0x0001},
		{TypeSuspension, 0x0002},
		{TypeError, 0x0003},
		{TypeEntryAck, 0x0004},
		{TypePollInputEntry, 0x0400},
		{TypeOutputEntry, 0x0401},
		{TypeGetStateEntry, 0x0800},
		{TypeSetStateEntry, 0x0801},
		{TypeClearStateEntry, 0x0802},
		{TypeSleepEntry, 0x0C00},
		{TypeInvokeEntry, 0x0C01},
		{TypeBackgroundInvokeEntry, 0x0C02},
		{TypeAwakeableEntry, 0x0C03},
		{TypeCompleteAwakeableEntry, 0x0C04},
	}
	for _, tc := range cases {
		if uint16(tc.typ) != tc.want {
			t.Errorf("%s: got 0x%04x, want 0x%04x", tc.typ, uint16(tc.typ), tc.want)
		}
	}
}

func TestIsEntry(t *testing.T) {
	if TypeStart.IsEntry() || TypeEntryAck.IsEntry() {
		t.Error("core frames must not be entries")
	}
	if !TypePollInputEntry.IsEntry() || !TypeCompleteAwakeableEntry.IsEntry() {
		t.Error("entry frames must be entries")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	invID := id.NewInvocationID()
	msgs := []Message{
		&StartMessage{
			ID:           invID,
			DebugID:      "greeter/greet/0001",
			KnownEntries: 3,
			StateMap:     map[string][]byte{"count": []byte("7")},
		},
		&CompletionMessage{EntryIndex: 2, Result: durable.ValueResult([]byte("hi"))},
		&SuspensionMessage{EntryIndexes: []uint32{1, 4}},
		&ErrorMessage{Code: durable.CodeInternal, Message: "boom", Description: "stack"},
		&EntryAckMessage{EntryIndex: 9},
		&GetStateEntryMessage{Key: []byte("count")},
		&SleepEntryMessage{WakeUpTime: 1724572800000},
		&InvokeEntryMessage{Service: "greeter", Method: "greet", Parameter: []byte(`{"name":"ada"}`)},
		&AwakeableEntryMessage{ID: "awk_01h2xcejqtf2nbrexx3vqjhp41"},
		&OutputEntryMessage{Result: durable.FailureResult(durable.NewFailure(durable.CodeNotFound, "missing"))},
	}

	for _, codec := range []Codec{&JSONCodec{}, &MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			for _, msg := range msgs {
				frame, err := Marshal(msg, codec)
				if err != nil {
					t.Fatalf("marshal %s: %v", msg.MessageType(), err)
				}
				got := Type(binary.BigEndian.Uint16(frame[0:2]))
				if got != msg.MessageType() {
					t.Fatalf("header type %s, want %s", got, msg.MessageType())
				}

				decoded, err := Unmarshal(frame)
				if err != nil {
					t.Fatalf("unmarshal %s: %v", msg.MessageType(), err)
				}
				if decoded.MessageType() != msg.MessageType() {
					t.Fatalf("decoded type %s, want %s", decoded.MessageType(), msg.MessageType())
				}
			}
		})
	}
}

func TestErrorCodeNormalizesOnDecode(t *testing.T) {
	for _, codec := range []Codec{&JSONCodec{}, &MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			frame, err := Marshal(&ErrorMessage{Code: 250, Message: "strange"}, codec)
			if err != nil {
				t.Fatal(err)
			}
			decoded, err := Unmarshal(frame)
			if err != nil {
				t.Fatal(err)
			}
			em, ok := decoded.(*ErrorMessage)
			if !ok {
				t.Fatalf("decoded %T, want *ErrorMessage", decoded)
			}
			if em.Code != durable.CodeUnknown {
				t.Fatalf("received code = %d, want %d (unknown)", em.Code, durable.CodeUnknown)
			}
		})
	}

	// Codes inside the defined domain pass through untouched.
	for _, code := range []durable.Code{durable.CodeInternal, durable.CodeJournalMismatch, durable.CodeProtocolViolation} {
		frame, err := Marshal(&ErrorMessage{Code: code, Message: "boom"}, &JSONCodec{})
		if err != nil {
			t.Fatal(err)
		}
		decoded, err := Unmarshal(frame)
		if err != nil {
			t.Fatal(err)
		}
		if got := decoded.(*ErrorMessage).Code; got != code {
			t.Errorf("code %d round-tripped as %d", code, got)
		}
	}
}

func TestFrameRoundTripFields(t *testing.T) {
	frame, err := Marshal(&InvokeEntryMessage{
		Service:   "orders",
		Method:    "place",
		Parameter: []byte("p"),
	}, &MsgpackCodec{})
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Unmarshal(frame)
	if err != nil {
		t.Fatal(err)
	}
	inv, ok := decoded.(*InvokeEntryMessage)
	if !ok {
		t.Fatalf("decoded %T, want *InvokeEntryMessage", decoded)
	}
	if inv.Service != "orders" || inv.Method != "place" || !bytes.Equal(inv.Parameter, []byte("p")) {
		t.Errorf("fields lost in transit: %+v", inv)
	}
}

func TestResultUnionOnWire(t *testing.T) {
	t.Run("value survives empty bytes", func(t *testing.T) {
		frame, err := Marshal(&CompletionMessage{EntryIndex: 0, Result: durable.ValueResult([]byte{})}, &JSONCodec{})
		if err != nil {
			t.Fatal(err)
		}
		decoded, err := Unmarshal(frame)
		if err != nil {
			t.Fatal(err)
		}
		cm := decoded.(*CompletionMessage)
		if cm.Result.Variant() != durable.VariantValue {
			t.Errorf("variant = %s, want value", cm.Result.Variant())
		}
	})

	t.Run("failure code preserved", func(t *testing.T) {
		frame, err := Marshal(&CompletionMessage{
			EntryIndex: 1,
			Result:     durable.FailureResult(durable.NewFailure(durable.CodeDeadlineExceeded, "late")),
		}, &MsgpackCodec{})
		if err != nil {
			t.Fatal(err)
		}
		decoded, err := Unmarshal(frame)
		if err != nil {
			t.Fatal(err)
		}
		f := decoded.(*CompletionMessage).Result.Failure()
		if f == nil || f.Code != durable.CodeDeadlineExceeded || f.Message != "late" {
			t.Errorf("failure = %+v", f)
		}
	})
}

func TestUnmarshalRejectsUnknownType(t *testing.T) {
	frame := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(frame[0:2], 0x7FFF)
	_, err := Unmarshal(frame)
	if !errors.Is(err, durable.ErrProtocolViolation) {
		t.Fatalf("err = %v, want protocol violation", err)
	}
}

func TestUnmarshalRejectsShortFrame(t *testing.T) {
	_, err := Unmarshal([]byte{0x00, 0x00, 0x00})
	if !errors.Is(err, durable.ErrProtocolViolation) {
		t.Fatalf("err = %v, want protocol violation", err)
	}
}

func TestUnmarshalRejectsLengthMismatch(t *testing.T) {
	frame, err := Marshal(&EntryAckMessage{EntryIndex: 1}, &JSONCodec{})
	if err != nil {
		t.Fatal(err)
	}
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(frame))) // lie about the body length
	_, err = Unmarshal(frame)
	if !errors.Is(err, durable.ErrProtocolViolation) {
		t.Fatalf("err = %v, want protocol violation", err)
	}
}

func TestReaderWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, &MsgpackCodec{})

	if err := w.Write(&SuspensionMessage{EntryIndexes: []uint32{3}}); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(&EntryAckMessage{EntryIndex: 3}); err != nil {
		t.Fatal(err)
	}

	r := NewReader(&buf)
	first, err := r.Read()
	if err != nil {
		t.Fatal(err)
	}
	sus, ok := first.(*SuspensionMessage)
	if !ok || len(sus.EntryIndexes) != 1 || sus.EntryIndexes[0] != 3 {
		t.Fatalf("first = %#v", first)
	}
	second, err := r.Read()
	if err != nil {
		t.Fatal(err)
	}
	if ack, ok := second.(*EntryAckMessage); !ok || ack.EntryIndex != 3 {
		t.Fatalf("second = %#v", second)
	}

	if _, err := r.Read(); err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestReaderRejectsOversizedBody(t *testing.T) {
	var header [HeaderSize]byte
	binary.BigEndian.PutUint16(header[0:2], uint16(TypeStart))
	binary.BigEndian.PutUint32(header[4:8], MaxBodySize+1)

	r := NewReader(bytes.NewReader(header[:]))
	_, err := r.Read()
	if !errors.Is(err, durable.ErrProtocolViolation) {
		t.Fatalf("err = %v, want protocol violation", err)
	}
}

func TestTypeOfCoversAllKinds(t *testing.T) {
	cases := map[Type]Message{
		TypePollInputEntry:         &PollInputEntryMessage{},
		TypeOutputEntry:            &OutputEntryMessage{},
		TypeGetStateEntry:          &GetStateEntryMessage{},
		TypeSetStateEntry:          &SetStateEntryMessage{},
		TypeClearStateEntry:        &ClearStateEntryMessage{},
		TypeSleepEntry:             &SleepEntryMessage{},
		TypeInvokeEntry:            &InvokeEntryMessage{},
		TypeBackgroundInvokeEntry:  &BackgroundInvokeEntryMessage{},
		TypeAwakeableEntry:         &AwakeableEntryMessage{},
		TypeCompleteAwakeableEntry: &CompleteAwakeableEntryMessage{},
	}
	for want, msg := range cases {
		em := msg.(EntryMessage)
		if got := TypeOf(em.EntryKind()); got != want {
			t.Errorf("TypeOf(%s) = %s, want %s", em.EntryKind(), got, want)
		}
	}
}
