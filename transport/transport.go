// Package transport carries protocol messages between the runtime and a
// running invocation session. The in-memory pipe serves the embedded
// driver; the WebSocket stream serves remote deployments.
package transport

import (
	"errors"

	"github.com/xraph/durable/protocol"
)

// ErrClosed is returned by Send after either end closed the stream.
var ErrClosed = errors.New("transport: stream closed")

// Stream is a bidirectional, ordered message channel. Recv returns
// io.EOF once the peer closes and all in-flight messages are drained.
// Send is safe for concurrent use; Recv has a single consumer.
type Stream interface {
	// Recv blocks for the next message.
	Recv() (protocol.Message, error)

	// Send writes a message to the peer.
	Send(msg protocol.Message) error

	// Close tears down this end. Idempotent.
	Close() error
}
