package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/durable"
	"github.com/xraph/durable/entry"
	"github.com/xraph/durable/id"
	"github.com/xraph/durable/protocol"
)

// Context is the handler's gateway to durable effects. Every method
// funnels through the journal, so a replayed run observes exactly the
// effects of the run it replays — same kinds, same order, same results.
// It implements context.Context for use with APIs that want one.
type Context struct {
	ctx context.Context
	m   *Machine
}

// Deadline implements context.Context.
func (c *Context) Deadline() (time.Time, bool) { return c.ctx.Deadline() }

// Done implements context.Context.
func (c *Context) Done() <-chan struct{} { return c.ctx.Done() }

// Err implements context.Context.
func (c *Context) Err() error { return c.ctx.Err() }

// Value implements context.Context.
func (c *Context) Value(key any) any { return c.ctx.Value(key) }

// ID returns the invocation identity.
func (c *Context) ID() id.InvocationID { return c.m.invocationID }

// DebugID returns the human-readable invocation identity.
func (c *Context) DebugID() string { return c.m.debugID }

// Log returns a logger scoped to this invocation.
func (c *Context) Log() *slog.Logger { return c.m.log }

// Replaying reports whether execution is still inside the replay
// prefix. Useful to gate side effects that must not repeat, like
// emitting a metric per first execution.
func (c *Context) Replaying() bool { return c.m.journal.Replaying() }

// do funnels one effect through the journal and, when live, ships the
// entry to the runtime. A journal mismatch aborts the whole session.
func (c *Context) do(kind entry.Kind, payload entry.Payload) (*entry.Entry, bool, error) {
	e, replayed, err := c.m.journal.Do(kind, payload)
	if err != nil {
		switch {
		case errors.Is(err, durable.ErrJournalMismatch):
			c.m.abort(durable.NewFailure(durable.CodeJournalMismatch, err.Error()))
		case errors.Is(err, durable.ErrJournalSealed):
			c.m.abort(durable.NewFailure(durable.CodeProtocolViolation, err.Error()))
		}
		return nil, false, err
	}
	if !replayed {
		if serr := c.m.stream.Send(payload.(protocol.Message)); serr != nil {
			return nil, false, serr
		}
	}
	return e, replayed, nil
}

// await blocks until the entry at index completes. It returns
// durable.ErrSuspended when the machine decides to suspend while the
// wait is in flight.
func (c *Context) await(index uint32) (*durable.Result, error) {
	ch, err := c.m.corr.Watch(index)
	if err != nil {
		return nil, err
	}
	// Prefer an already-delivered result over a concurrent suspension.
	select {
	case res := <-ch:
		return res, nil
	default:
	}
	select {
	case res := <-ch:
		return res, nil
	case <-c.m.suspendCh:
		c.m.corr.Forget(index)
		return nil, durable.ErrSuspended
	case <-c.ctx.Done():
		c.m.corr.Forget(index)
		return nil, c.ctx.Err()
	}
}

// Input returns the invocation input, journaled as a poll-input entry.
// The machine calls it once before the handler; handlers normally use
// the input argument instead.
func (c *Context) Input() ([]byte, error) {
	e, _, err := c.do(entry.KindPollInput, &protocol.PollInputEntryMessage{})
	if err != nil {
		return nil, err
	}
	res, err := c.await(e.Index)
	if err != nil {
		return nil, err
	}
	return res.Value(), nil
}

// GetState reads a key from the invocation's durable state. found is
// false when the key is absent. Reads answered from a complete snapshot
// never leave the session; the result rides inline on the journaled
// entry.
func (c *Context) GetState(key string) (value []byte, found bool, err error) {
	payload := &protocol.GetStateEntryMessage{Key: []byte(key)}

	val, known, present := c.m.view.Get(key)
	var local *durable.Result
	if known {
		if present {
			local = durable.ValueResult(val)
		} else {
			local = durable.EmptyResult()
		}
		payload.Result = local
	}

	e, replayed, err := c.do(entry.KindGetState, payload)
	if err != nil {
		return nil, false, err
	}

	var res *durable.Result
	if !replayed && known {
		if rerr := c.m.corr.ResolveLocal(e, local); rerr != nil {
			return nil, false, rerr
		}
		res = local
	} else {
		res, err = c.await(e.Index)
		if err != nil {
			return nil, false, err
		}
		c.m.view.Ingest(key, res)
	}

	if res.Variant() == durable.VariantValue {
		return res.Value(), true, nil
	}
	return nil, false, nil
}

// SetState writes a key to the invocation's durable state. The write
// journals immediately and later reads in this run observe it; the
// runtime persists it when it records the entry.
func (c *Context) SetState(key string, value []byte) error {
	_, _, err := c.do(entry.KindSetState, &protocol.SetStateEntryMessage{
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return err
	}
	c.m.view.Set(key, value)
	return nil
}

// ClearState deletes a key from the invocation's durable state.
func (c *Context) ClearState(key string) error {
	_, _, err := c.do(entry.KindClearState, &protocol.ClearStateEntryMessage{
		Key: []byte(key),
	})
	if err != nil {
		return err
	}
	c.m.view.Clear(key)
	return nil
}

// Sleep journals a durable timer and blocks until it fires. The wake-up
// instant is fixed on first execution; replays reuse the recorded
// instant rather than restarting the clock.
func (c *Context) Sleep(d time.Duration) error {
	payload := &protocol.SleepEntryMessage{
		WakeUpTime: time.Now().Add(d).UnixMilli(),
	}
	e, _, err := c.do(entry.KindSleep, payload)
	if err != nil {
		return err
	}
	_, err = c.await(e.Index)
	return err
}

// Invoke calls another service's handler and blocks for its result. A
// failure result surfaces as a *durable.Failure error.
func (c *Context) Invoke(service, method string, parameter []byte) ([]byte, error) {
	payload := &protocol.InvokeEntryMessage{
		Service:   service,
		Method:    method,
		Parameter: parameter,
	}
	e, _, err := c.do(entry.KindInvoke, payload)
	if err != nil {
		return nil, err
	}
	res, err := c.await(e.Index)
	if err != nil {
		return nil, err
	}
	if ferr := res.Err(); ferr != nil {
		return nil, ferr
	}
	return res.Value(), nil
}

// Send fires a one-way call to another service. It journals and returns
// without waiting for the target to run.
func (c *Context) Send(service, method string, parameter []byte) error {
	_, _, err := c.do(entry.KindBackgroundInvoke, &protocol.BackgroundInvokeEntryMessage{
		Service:   service,
		Method:    method,
		Parameter: parameter,
	})
	return err
}

// SendDelayed fires a one-way call deferred by the given duration. The
// execution instant is fixed on first execution.
func (c *Context) SendDelayed(service, method string, parameter []byte, delay time.Duration) error {
	_, _, err := c.do(entry.KindBackgroundInvoke, &protocol.BackgroundInvokeEntryMessage{
		Service:    service,
		Method:     method,
		Parameter:  parameter,
		InvokeTime: time.Now().Add(delay).UnixMilli(),
	})
	return err
}

// Awakeable is a journaled completion point addressable from outside
// the invocation. Hand its ID to a third party, then block on Result.
type Awakeable struct {
	id    string
	index uint32
	c     *Context
}

// Awakeable journals a new awakeable. The ID is fixed on first
// execution; replays reuse the recorded ID so external references stay
// valid across attempts.
func (c *Context) Awakeable() (*Awakeable, error) {
	payload := &protocol.AwakeableEntryMessage{ID: id.NewAwakeableID().String()}
	e, replayed, err := c.do(entry.KindAwakeable, payload)
	if err != nil {
		return nil, err
	}
	awkID := payload.ID
	if replayed {
		if recorded, ok := e.Payload.(*protocol.AwakeableEntryMessage); ok {
			awkID = recorded.ID
		}
	}
	return &Awakeable{id: awkID, index: e.Index, c: c}, nil
}

// ID returns the externally shareable awakeable identity.
func (a *Awakeable) ID() string { return a.id }

// Result blocks until the awakeable is completed. A failure completion
// surfaces as a *durable.Failure error.
func (a *Awakeable) Result() ([]byte, error) {
	res, err := a.c.await(a.index)
	if err != nil {
		return nil, err
	}
	if ferr := res.Err(); ferr != nil {
		return nil, ferr
	}
	return res.Value(), nil
}

// ResolveAwakeable completes another invocation's awakeable with a
// value.
func (c *Context) ResolveAwakeable(awakeableID string, value []byte) error {
	return c.completeAwakeable(awakeableID, durable.ValueResult(value))
}

// RejectAwakeable completes another invocation's awakeable with a
// failure.
func (c *Context) RejectAwakeable(awakeableID string, code durable.Code, message string) error {
	return c.completeAwakeable(awakeableID, durable.FailureResult(durable.NewFailure(code, message)))
}

func (c *Context) completeAwakeable(awakeableID string, res *durable.Result) error {
	_, _, err := c.do(entry.KindCompleteAwakeable, &protocol.CompleteAwakeableEntryMessage{
		ID:     awakeableID,
		Result: res,
	})
	return err
}
