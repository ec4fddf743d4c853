package durable

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("durable: no store configured")
	ErrStoreClosed = errors.New("durable: store closed")

	// Not found errors.
	ErrInvocationNotFound = errors.New("durable: invocation not found")
	ErrEntryNotFound      = errors.New("durable: journal entry not found")
	ErrServiceNotFound    = errors.New("durable: service not found")
	ErrAwakeableNotFound  = errors.New("durable: awakeable not found")
	ErrStateNotFound      = errors.New("durable: state key not found")

	// Conflict errors.
	ErrInvocationExists = errors.New("durable: invocation already exists")

	// Protocol errors. ErrJournalMismatch and ErrProtocolViolation are
	// always fatal for the invocation; they surface on the wire as an
	// Error message with code 32 or 33 respectively.
	ErrJournalMismatch   = errors.New("durable: journal mismatch")
	ErrProtocolViolation = errors.New("durable: protocol violation")

	// State errors.
	ErrInvalidState  = errors.New("durable: invalid state transition")
	ErrJournalSealed = errors.New("durable: journal sealed by output entry")

	// ErrSuspended unwinds user code when the session decides to yield
	// while blocked on pending completions. It is not a failure: the
	// runtime resumes the invocation once any blocking entry completes.
	ErrSuspended = errors.New("durable: invocation suspended")
)
