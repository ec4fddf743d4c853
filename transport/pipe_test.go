package transport

import (
	"io"
	"testing"
	"time"

	"github.com/xraph/durable/protocol"
)

func TestPipeDelivery(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()
	defer b.Close()

	if err := a.Send(&protocol.EntryAckMessage{EntryIndex: 7}); err != nil {
		t.Fatal(err)
	}
	msg, err := b.Recv()
	if err != nil {
		t.Fatal(err)
	}
	ack, ok := msg.(*protocol.EntryAckMessage)
	if !ok || ack.EntryIndex != 7 {
		t.Fatalf("got %#v", msg)
	}
}

func TestPipeOrdering(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()
	defer b.Close()

	for i := uint32(0); i < 10; i++ {
		if err := a.Send(&protocol.EntryAckMessage{EntryIndex: i}); err != nil {
			t.Fatal(err)
		}
	}
	for i := uint32(0); i < 10; i++ {
		msg, err := b.Recv()
		if err != nil {
			t.Fatal(err)
		}
		if got := msg.(*protocol.EntryAckMessage).EntryIndex; got != i {
			t.Fatalf("out of order: got %d, want %d", got, i)
		}
	}
}

func TestPipeCloseDrainsThenEOF(t *testing.T) {
	a, b := NewPipe()
	defer b.Close()

	if err := a.Send(&protocol.SuspensionMessage{EntryIndexes: []uint32{1}}); err != nil {
		t.Fatal(err)
	}
	a.Close()

	msg, err := b.Recv()
	if err != nil {
		t.Fatalf("buffered message lost: %v", err)
	}
	if _, ok := msg.(*protocol.SuspensionMessage); !ok {
		t.Fatalf("got %#v", msg)
	}
	if _, err := b.Recv(); err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestPipeSendAfterCloseFails(t *testing.T) {
	a, b := NewPipe()
	a.Close()

	if err := a.Send(&protocol.EntryAckMessage{}); err != ErrClosed {
		t.Fatalf("send on closed local end: %v", err)
	}
	if err := b.Send(&protocol.EntryAckMessage{}); err != ErrClosed {
		t.Fatalf("send to closed peer: %v", err)
	}
}

func TestPipeRecvUnblocksOnPeerClose(t *testing.T) {
	a, b := NewPipe()
	defer b.Close()

	done := make(chan error, 1)
	go func() {
		_, err := b.Recv()
		done <- err
	}()

	a.Close()
	select {
	case err := <-done:
		if err != io.EOF {
			t.Fatalf("err = %v, want io.EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("recv did not unblock on peer close")
	}
}
