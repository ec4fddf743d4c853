// Package session runs one invocation attempt against the wire
// protocol: it performs the start and replay intake, executes the user
// handler with a journaling Context, correlates completions and
// acknowledgments from the runtime, and decides how the attempt ends —
// completed, suspended, or failed.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/durable"
	"github.com/xraph/durable/entry"
	"github.com/xraph/durable/id"
	"github.com/xraph/durable/journal"
	"github.com/xraph/durable/protocol"
	"github.com/xraph/durable/transport"
)

// State is the lifecycle state of a session.
type State string

const (
	StateCreated   State = "created"
	StateReplaying State = "replaying"
	StateRunning   State = "running"
	StateSuspended State = "suspended"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Handler is the user function a session executes. It receives the
// invocation input (already journaled through a poll-input entry) and
// returns the output bytes or an error. A returned error becomes the
// invocation's failure result; it does not fail the session itself.
type Handler func(ctx *Context, input []byte) ([]byte, error)

// Outcome describes how a session attempt ended.
type Outcome struct {
	// State is one of StateCompleted, StateSuspended, StateFailed.
	State State

	// Result is the invocation output (value or failure) when completed.
	Result *durable.Result

	// Blocked lists the entry indices awaited at suspension time.
	Blocked []uint32

	// Failure carries the session-level error when failed.
	Failure *durable.Failure
}

// Machine drives one session over a stream. Create with New, run once
// with Run.
type Machine struct {
	stream  transport.Stream
	handler Handler
	cfg     Config

	mu    sync.Mutex
	state State

	invocationID id.InvocationID
	debugID      string

	journal *journal.Journal
	corr    *journal.Correlator
	view    *journal.StateView

	// suspendCh closes when the machine decided to suspend or fail;
	// every blocked await unwinds through it.
	suspendCh chan struct{}

	// failure set by the context on a journal mismatch or other abort.
	failure *durable.Failure

	log *slog.Logger
}

type recvResult struct {
	msg protocol.Message
	err error
}

type handlerResult struct {
	output []byte
	err    error
}

// New creates a machine for one invocation attempt.
func New(stream transport.Stream, handler Handler, opts ...Option) *Machine {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Machine{
		stream:    stream,
		handler:   handler,
		cfg:       cfg,
		state:     StateCreated,
		suspendCh: make(chan struct{}),
		log:       cfg.Logger,
	}
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// InvocationID returns the identity delivered in the start message.
func (m *Machine) InvocationID() id.InvocationID {
	return m.invocationID
}

// Journal returns the session's journal.
func (m *Machine) Journal() *journal.Journal {
	return m.journal
}

// Run executes the session to its outcome. The stream's first message
// must be a start message; the next KnownEntries entry messages form
// the replay prefix. Run returns an error only for transport failures —
// protocol violations and handler errors are reported in the Outcome.
func (m *Machine) Run(ctx context.Context) (*Outcome, error) {
	defer m.stream.Close()

	recvCh := make(chan recvResult, 16)
	recvDone := make(chan struct{})
	defer close(recvDone)
	go func() {
		for {
			msg, err := m.stream.Recv()
			select {
			case recvCh <- recvResult{msg, err}:
			case <-recvDone:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	start, stashed, err := m.intake(ctx, recvCh)
	if err != nil {
		var f *durable.Failure
		if errors.As(err, &f) {
			return m.fail(f), nil
		}
		return nil, err
	}

	m.log = m.log.With(
		slog.String("invocation_id", m.invocationID.String()),
		slog.String("debug_id", m.debugID),
	)
	m.log.Debug("session started",
		slog.Int("known_entries", int(start.KnownEntries)),
		slog.Bool("partial_state", start.PartialState))

	for _, msg := range stashed {
		if f := m.dispatch(msg); f != nil {
			return m.abortRun(f), nil
		}
	}

	sctx := &Context{ctx: ctx, m: m}
	handlerDone := make(chan handlerResult, 1)
	go func() {
		out, herr := m.runHandler(sctx)
		handlerDone <- handlerResult{out, herr}
	}()

	var suspendTimer *time.Timer
	var suspendFire <-chan time.Time
	if m.cfg.SuspendTimeout > 0 {
		suspendTimer = time.NewTimer(m.cfg.SuspendTimeout)
		defer suspendTimer.Stop()
		suspendFire = suspendTimer.C
	}

	eof := false
	for {
		if eof && m.corr.HasWaiters() {
			return m.suspend(handlerDone), nil
		}

		select {
		case rm := <-recvCh:
			if rm.err != nil {
				if rm.err == io.EOF {
					eof = true
					continue
				}
				m.drainHandler(handlerDone)
				return nil, fmt.Errorf("session: recv: %w", rm.err)
			}
			if f := m.dispatch(rm.msg); f != nil {
				return m.abortRun(f), nil
			}

		case <-m.corr.Notify():
			// Re-evaluate blockedness against EOF and the suspend timer.

		case <-suspendFire:
			if m.corr.HasWaiters() {
				return m.suspend(handlerDone), nil
			}
			suspendTimer.Reset(m.cfg.SuspendTimeout)

		case hr := <-handlerDone:
			return m.finish(hr), nil

		case <-ctx.Done():
			m.drainHandler(handlerDone)
			return nil, ctx.Err()
		}
	}
}

// intake consumes the start message and the replay prefix. Completions
// and acks interleaved with the prefix are stashed and applied once the
// journal is loaded. Protocol violations return a *durable.Failure.
func (m *Machine) intake(ctx context.Context, recvCh <-chan recvResult) (*protocol.StartMessage, []protocol.Message, error) {
	rm, err := m.recvNext(ctx, recvCh)
	if err != nil {
		return nil, nil, err
	}
	start, ok := rm.(*protocol.StartMessage)
	if !ok {
		return nil, nil, durable.NewFailure(durable.CodeProtocolViolation,
			fmt.Sprintf("expected start message, got %s", rm.MessageType()))
	}
	m.invocationID = start.ID
	m.debugID = start.DebugID
	m.setState(StateReplaying)

	var prefix []protocol.EntryMessage
	var stashed []protocol.Message
	for uint32(len(prefix)) < start.KnownEntries {
		msg, err := m.recvNext(ctx, recvCh)
		if err != nil {
			return nil, nil, err
		}
		switch msg.(type) {
		case *protocol.CompletionMessage, *protocol.EntryAckMessage:
			stashed = append(stashed, msg)
		default:
			em, ok := msg.(protocol.EntryMessage)
			if !ok {
				return nil, nil, durable.NewFailure(durable.CodeProtocolViolation,
					fmt.Sprintf("unexpected %s during replay intake", msg.MessageType()))
			}
			prefix = append(prefix, em)
		}
	}

	j, err := journal.Load(prefix)
	if err != nil {
		return nil, nil, durable.NewFailure(durable.CodeProtocolViolation, err.Error())
	}
	m.journal = j
	m.corr = journal.NewCorrelator(j)
	m.view = journal.NewStateView(start.StateMap, start.PartialState)
	m.setState(StateRunning)
	return start, stashed, nil
}

func (m *Machine) recvNext(ctx context.Context, recvCh <-chan recvResult) (protocol.Message, error) {
	select {
	case rm := <-recvCh:
		if rm.err != nil {
			if rm.err == io.EOF {
				return nil, durable.NewFailure(durable.CodeProtocolViolation,
					"stream closed during intake")
			}
			return nil, fmt.Errorf("session: recv: %w", rm.err)
		}
		return rm.msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dispatch applies one runtime message. A non-nil return is a session
// failure.
func (m *Machine) dispatch(msg protocol.Message) *durable.Failure {
	switch mm := msg.(type) {
	case *protocol.CompletionMessage:
		return m.applyCompletion(mm)
	case *protocol.EntryAckMessage:
		if err := m.corr.Ack(mm.EntryIndex); err != nil {
			return durable.NewFailure(durable.CodeProtocolViolation, err.Error())
		}
		return nil
	default:
		return durable.NewFailure(durable.CodeProtocolViolation,
			fmt.Sprintf("unexpected %s after start", msg.MessageType()))
	}
}

func (m *Machine) applyCompletion(cm *protocol.CompletionMessage) *durable.Failure {
	if cm.Result == nil {
		return durable.NewFailure(durable.CodeProtocolViolation,
			fmt.Sprintf("completion for entry %d carries no result", cm.EntryIndex))
	}
	if err := m.corr.Resolve(cm.EntryIndex, cm.Result); err != nil {
		return durable.NewFailure(durable.CodeProtocolViolation, err.Error())
	}

	// Fold state reads back into the view so later reads of the same
	// key resolve locally.
	if e, ok := m.journal.Get(cm.EntryIndex); ok {
		if gs, ok := e.Payload.(*protocol.GetStateEntryMessage); ok {
			m.view.Ingest(string(gs.Key), cm.Result)
		}
	}
	return nil
}

func (m *Machine) runHandler(sctx *Context) ([]byte, error) {
	input, err := sctx.Input()
	if err != nil {
		return nil, err
	}
	return m.handler(sctx, input)
}

// abort records a context-initiated failure (journal mismatch) and
// unwinds the handler.
func (m *Machine) abort(f *durable.Failure) {
	m.mu.Lock()
	if m.failure == nil {
		m.failure = f
	}
	m.mu.Unlock()
}

func (m *Machine) abortFailure() *durable.Failure {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure
}

func (m *Machine) drainHandler(handlerDone <-chan handlerResult) {
	m.closeSuspend()
	<-handlerDone
}

func (m *Machine) closeSuspend() {
	m.mu.Lock()
	select {
	case <-m.suspendCh:
	default:
		close(m.suspendCh)
	}
	m.mu.Unlock()
}

// suspend reports the blocked set and tears the handler down.
func (m *Machine) suspend(handlerDone <-chan handlerResult) *Outcome {
	blocked := m.corr.Blocked()
	if err := m.stream.Send(&protocol.SuspensionMessage{EntryIndexes: blocked}); err != nil {
		m.log.Warn("suspension send failed", slog.String("error", err.Error()))
	}
	m.drainHandler(handlerDone)
	m.setState(StateSuspended)
	m.log.Debug("session suspended", slog.Any("blocked", blocked))
	return &Outcome{State: StateSuspended, Blocked: blocked}
}

// finish records the output entry and completes the session. A handler
// error becomes a failure result; the session itself still completes.
func (m *Machine) finish(hr handlerResult) *Outcome {
	if f := m.abortFailure(); f != nil {
		return m.fail(f)
	}
	if errors.Is(hr.err, durable.ErrSuspended) {
		// The handler unwound for a suspension the loop already decided.
		blocked := m.corr.Blocked()
		m.setState(StateSuspended)
		return &Outcome{State: StateSuspended, Blocked: blocked}
	}

	var res *durable.Result
	if hr.err != nil {
		res = durable.FailureResult(durable.AsFailure(hr.err))
	} else {
		res = durable.ValueResult(hr.output)
	}

	payload := &protocol.OutputEntryMessage{Result: res}
	e, replayed, err := m.journal.Do(entry.KindOutput, payload)
	switch {
	case err != nil:
		return m.fail(durable.NewFailure(durable.CodeProtocolViolation, err.Error()))
	case replayed:
		// Recorded on a previous run; the recorded result wins.
		if e.Result != nil {
			res = e.Result
		}
	default:
		if rerr := m.corr.ResolveLocal(e, res); rerr != nil {
			return m.fail(durable.NewFailure(durable.CodeProtocolViolation, rerr.Error()))
		}
		if serr := m.stream.Send(payload); serr != nil {
			m.log.Warn("output send failed", slog.String("error", serr.Error()))
		}
	}

	m.setState(StateCompleted)
	m.log.Debug("session completed", slog.String("result", res.Variant().String()))
	return &Outcome{State: StateCompleted, Result: res}
}

// abortRun fails the session from the main loop, unwinding the handler
// first.
func (m *Machine) abortRun(f *durable.Failure) *Outcome {
	m.closeSuspend()
	return m.fail(f)
}

// fail sends the top-level error frame and reports the failed outcome.
func (m *Machine) fail(f *durable.Failure) *Outcome {
	if err := m.stream.Send(&protocol.ErrorMessage{Code: f.Code, Message: f.Message}); err != nil {
		m.log.Warn("error send failed", slog.String("error", err.Error()))
	}
	m.setState(StateFailed)
	m.log.Warn("session failed",
		slog.Int("code", int(f.Code)),
		slog.String("message", f.Message))
	return &Outcome{State: StateFailed, Failure: f}
}
