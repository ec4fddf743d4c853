package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/durable/protocol"
)

// WSOption configures a WebSocket stream.
type WSOption func(*wsStream)

// WithCodec selects the frame body codec. Defaults to JSON.
func WithCodec(codec protocol.Codec) WSOption {
	return func(s *wsStream) { s.codec = codec }
}

// Dial opens a client-side WebSocket stream to a remote runtime.
func Dial(ctx context.Context, url string, opts ...WSOption) (Stream, error) {
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("transport: websocket dial: %w", err)
	}
	return newWSStream(conn, true, opts...), nil
}

// UpgradeHTTP upgrades an inbound HTTP request to a server-side
// WebSocket stream.
func UpgradeHTTP(w http.ResponseWriter, r *http.Request, opts ...WSOption) (Stream, error) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return nil, fmt.Errorf("transport: websocket upgrade: %w", err)
	}
	return newWSStream(conn, false, opts...), nil
}

func newWSStream(conn net.Conn, client bool, opts ...WSOption) *wsStream {
	s := &wsStream{
		conn:   conn,
		client: client,
		codec:  &protocol.JSONCodec{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// wsStream carries one protocol frame per binary WebSocket message.
type wsStream struct {
	conn   net.Conn
	client bool
	codec  protocol.Codec

	sendMu sync.Mutex
	closed atomic.Bool
}

func (s *wsStream) Recv() (protocol.Message, error) {
	var data []byte
	var err error
	if s.client {
		data, err = wsutil.ReadServerBinary(s.conn)
	} else {
		data, err = wsutil.ReadClientBinary(s.conn)
	}
	if err != nil {
		if s.closed.Load() || isClosed(err) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("transport: websocket read: %w", err)
	}
	return protocol.Unmarshal(data)
}

func (s *wsStream) Send(msg protocol.Message) error {
	if s.closed.Load() {
		return ErrClosed
	}
	data, err := protocol.Marshal(msg, s.codec)
	if err != nil {
		return err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.client {
		err = wsutil.WriteClientBinary(s.conn, data)
	} else {
		err = wsutil.WriteServerBinary(s.conn, data)
	}
	if err != nil {
		if s.closed.Load() || isClosed(err) {
			return ErrClosed
		}
		return fmt.Errorf("transport: websocket write: %w", err)
	}
	return nil
}

func (s *wsStream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}

func isClosed(err error) bool {
	var closed wsutil.ClosedError
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.As(err, &closed)
}
