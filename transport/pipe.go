package transport

import (
	"io"
	"sync"

	"github.com/xraph/durable/protocol"
)

const pipeBuffer = 64

// NewPipe returns two connected in-memory stream ends. Messages sent on
// one end arrive on the other in order. Closing either end makes the
// peer's Recv return io.EOF once buffered messages drain, which is how
// the embedded runtime signals "no more completions are coming" to a
// blocked session.
func NewPipe() (Stream, Stream) {
	ab := make(chan protocol.Message, pipeBuffer)
	ba := make(chan protocol.Message, pipeBuffer)
	a := &pipeEnd{send: ab, recv: ba, localDone: make(chan struct{})}
	b := &pipeEnd{send: ba, recv: ab, localDone: make(chan struct{})}
	a.remoteDone = b.localDone
	b.remoteDone = a.localDone
	return a, b
}

type pipeEnd struct {
	send chan protocol.Message
	recv chan protocol.Message

	closeOnce  sync.Once
	localDone  chan struct{}
	remoteDone chan struct{}
}

func (p *pipeEnd) Recv() (protocol.Message, error) {
	select {
	case msg := <-p.recv:
		return msg, nil
	default:
	}
	select {
	case msg := <-p.recv:
		return msg, nil
	case <-p.localDone:
		return nil, io.EOF
	case <-p.remoteDone:
		// The peer may have buffered messages before closing.
		select {
		case msg := <-p.recv:
			return msg, nil
		default:
			return nil, io.EOF
		}
	}
}

func (p *pipeEnd) Send(msg protocol.Message) error {
	select {
	case <-p.localDone:
		return ErrClosed
	case <-p.remoteDone:
		return ErrClosed
	default:
	}
	select {
	case p.send <- msg:
		return nil
	case <-p.localDone:
		return ErrClosed
	case <-p.remoteDone:
		return ErrClosed
	}
}

func (p *pipeEnd) Close() error {
	p.closeOnce.Do(func() { close(p.localDone) })
	return nil
}
