package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/xraph/durable"
)

// Flags is the 16-bit flag field of a frame header. Bit 0 selects the
// body codec; the remaining bits are reserved and must be zero.
type Flags uint16

// FlagCodecMsgpack marks the frame body as MessagePack. Unset means JSON.
const FlagCodecMsgpack Flags = 1 << 0

// HeaderSize is the fixed frame header length: type (2 bytes, big
// endian), flags (2), body length (4).
const HeaderSize = 8

// MaxBodySize caps a frame body at 16 MiB. Larger frames are rejected as
// protocol violations rather than allocated.
const MaxBodySize = 16 << 20

// Marshal encodes a complete frame (header + body) for the message using
// the given codec.
func Marshal(msg Message, codec Codec) ([]byte, error) {
	body, err := codec.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s: %w", msg.MessageType(), err)
	}
	if len(body) > MaxBodySize {
		return nil, fmt.Errorf("protocol: %s body exceeds %d bytes", msg.MessageType(), MaxBodySize)
	}

	var flags Flags
	if codec.Name() == CodecNameMsgpack {
		flags |= FlagCodecMsgpack
	}

	buf := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint16(buf[0:2], uint16(msg.MessageType()))
	binary.BigEndian.PutUint16(buf[2:4], uint16(flags))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(body)))
	copy(buf[HeaderSize:], body)
	return buf, nil
}

// Unmarshal decodes a complete frame produced by Marshal.
func Unmarshal(data []byte) (Message, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: frame shorter than header", durable.ErrProtocolViolation)
	}
	t := Type(binary.BigEndian.Uint16(data[0:2]))
	flags := Flags(binary.BigEndian.Uint16(data[2:4]))
	length := binary.BigEndian.Uint32(data[4:8])
	if length > MaxBodySize {
		return nil, fmt.Errorf("%w: %s body of %d bytes exceeds limit", durable.ErrProtocolViolation, t, length)
	}
	if uint32(len(data)-HeaderSize) != length {
		return nil, fmt.Errorf("%w: %s frame length %d does not match header %d",
			durable.ErrProtocolViolation, t, len(data)-HeaderSize, length)
	}
	return decodeBody(t, flags, data[HeaderSize:])
}

func decodeBody(t Type, flags Flags, body []byte) (Message, error) {
	msg := New(t)
	if msg == nil {
		return nil, fmt.Errorf("%w: unknown message type 0x%04x", durable.ErrProtocolViolation, uint16(t))
	}

	codec := Codec(&JSONCodec{})
	if flags&FlagCodecMsgpack != 0 {
		codec = &MsgpackCodec{}
	}
	if err := codec.Unmarshal(body, msg); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal %s: %w", t, err)
	}
	// Codes outside the defined domain collapse to UNKNOWN on receipt.
	// Per-entry failures normalize inside the result union; the top-level
	// error frame carries its code directly and normalizes here.
	if em, ok := msg.(*ErrorMessage); ok {
		em.Code = em.Code.Normalize()
	}
	return msg, nil
}

// Writer frames messages onto a byte stream. Safe for concurrent use:
// it is the single ordering authority for the outbound direction.
type Writer struct {
	mu    sync.Mutex
	w     io.Writer
	codec Codec
}

// NewWriter creates a frame writer using the given codec (nil means JSON).
func NewWriter(w io.Writer, codec Codec) *Writer {
	if codec == nil {
		codec = &JSONCodec{}
	}
	return &Writer{w: w, codec: codec}
}

// Write frames and writes one message.
func (w *Writer) Write(msg Message) error {
	frame, err := Marshal(msg, w.codec)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(frame); err != nil {
		return fmt.Errorf("protocol: write %s: %w", msg.MessageType(), err)
	}
	return nil
}

// Reader reads framed messages off a byte stream. Not safe for
// concurrent use; the inbound direction has a single consumer.
type Reader struct {
	r io.Reader
}

// NewReader creates a frame reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Read reads the next message. It returns io.EOF when the stream closes
// cleanly between frames.
func (r *Reader) Read() (Message, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("protocol: read header: %w", err)
	}

	t := Type(binary.BigEndian.Uint16(header[0:2]))
	flags := Flags(binary.BigEndian.Uint16(header[2:4]))
	length := binary.BigEndian.Uint32(header[4:8])
	if length > MaxBodySize {
		return nil, fmt.Errorf("%w: %s body of %d bytes exceeds limit", durable.ErrProtocolViolation, t, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r.r, body); err != nil {
		return nil, fmt.Errorf("protocol: read %s body: %w", t, err)
	}
	return decodeBody(t, flags, body)
}
