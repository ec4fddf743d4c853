package durable

import "fmt"

// Code is a numeric status code in the protocol's error domain.
// Values 0–16 follow the gRPC status vocabulary; 32 and 33 are
// protocol-level fatal conditions. Every other value collapses to
// CodeUnknown on receipt (forward compatibility with future codes).
type Code uint32

const (
	CodeOK                 Code = 0
	CodeCancelled          Code = 1
	CodeUnknown            Code = 2
	CodeInvalidArgument    Code = 3
	CodeDeadlineExceeded   Code = 4
	CodeNotFound           Code = 5
	CodeAlreadyExists      Code = 6
	CodePermissionDenied   Code = 7
	CodeResourceExhausted  Code = 8
	CodeFailedPrecondition Code = 9
	CodeAborted            Code = 10
	CodeOutOfRange         Code = 11
	CodeUnimplemented      Code = 12
	CodeInternal           Code = 13
	CodeUnavailable        Code = 14
	CodeDataLoss           Code = 15
	CodeUnauthenticated    Code = 16

	// CodeJournalMismatch means a replayed entry's recorded kind disagrees
	// with what the code path now requests. The invocation cannot continue.
	CodeJournalMismatch Code = 32

	// CodeProtocolViolation means a message arrived that the current state
	// forbids: a completion for an unknown or non-completable index, a
	// duplicate completion, or an out-of-sequence frame.
	CodeProtocolViolation Code = 33
)

// Valid reports whether c is inside the defined code domain.
func (c Code) Valid() bool {
	return c <= CodeUnauthenticated || c == CodeJournalMismatch || c == CodeProtocolViolation
}

// Normalize collapses out-of-domain codes to CodeUnknown.
func (c Code) Normalize() Code {
	if !c.Valid() {
		return CodeUnknown
	}
	return c
}

// Failure is the canonical wire form of error information carried by a
// fallible entry's result. A top-level fatal Error message additionally
// carries a verbose description; per-entry failures never do.
type Failure struct {
	Code    Code   `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
}

// NewFailure creates a Failure, normalizing the code on the way in.
func NewFailure(code Code, message string) *Failure {
	return &Failure{Code: code.Normalize(), Message: message}
}

// Error implements the error interface so entry failures propagate
// through user logic like any other error.
func (f *Failure) Error() string {
	return fmt.Sprintf("durable: failure [%d]: %s", f.Code, f.Message)
}

// AsFailure converts an arbitrary handler error into a Failure.
// A *Failure passes through with its code normalized; anything else
// becomes CodeUnknown with the error text as the message.
func AsFailure(err error) *Failure {
	if f, ok := err.(*Failure); ok {
		return NewFailure(f.Code, f.Message)
	}
	return &Failure{Code: CodeUnknown, Message: err.Error()}
}
