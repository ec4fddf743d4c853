package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/durable"
	"github.com/xraph/durable/backoff"
	"github.com/xraph/durable/id"
	"github.com/xraph/durable/invocation"
	"github.com/xraph/durable/journal"
	"github.com/xraph/durable/protocol"
	"github.com/xraph/durable/session"
	"github.com/xraph/durable/transport"
)

// inboxBuffer sizes the per-run completion inbox. A full inbox is not a
// loss: delivery already persisted the result, and the suspension check
// picks it up.
const inboxBuffer = 32

type recvResult struct {
	msg protocol.Message
	err error
}

type sessionResult struct {
	outcome *session.Outcome
	err     error
}

// runInvocation drives one invocation through run attempts until it is
// terminal or parked with no ready completion.
func (d *Driver) runInvocation(ctx context.Context, inv *invocation.Invocation) {
	defer d.wg.Done()
	key := inv.ID.String()

	if !d.adm.Acquire(inv.Service) {
		err := backoff.Retry(ctx, d.bo, 0, func() error {
			if d.adm.Acquire(inv.Service) {
				return nil
			}
			return errAdmissionDenied
		})
		if err != nil {
			d.clearActive(key)
			return
		}
	}

	for {
		again, err := d.runOnce(ctx, inv)
		if err != nil {
			if ctx.Err() == nil {
				d.logger.Error("invocation run error",
					slog.String("invocation_id", key),
					slog.String("error", err.Error()))
			}
			break
		}
		if !again {
			break
		}
	}
	d.adm.Release(inv.Service)
	d.clearActive(key)

	// A completion may have landed between the suspension readiness
	// check and the active-flag teardown; recheck now that startRun can
	// take over again.
	if ctx.Err() == nil && inv.State == invocation.StateSuspended {
		if ready, err := d.blockedReady(ctx, inv); err == nil && ready {
			d.startRun(inv)
		}
	}
}

func (d *Driver) clearActive(key string) {
	d.mu.Lock()
	delete(d.active, key)
	d.mu.Unlock()
}

// runOnce executes one attempt through the middleware chain and applies
// its outcome. again=true means a blocked entry already holds a result
// and the invocation should re-run immediately.
func (d *Driver) runOnce(ctx context.Context, inv *invocation.Invocation) (again bool, err error) {
	now := time.Now().UTC()
	if inv.StartedAt == nil {
		inv.StartedAt = &now
	}
	inv.State = invocation.StateRunning
	inv.ScheduledAt = nil
	inv.WakeAt = nil
	if err := d.store.UpdateInvocation(ctx, inv); err != nil {
		return false, err
	}
	d.exts.EmitInvocationStarted(ctx, inv)

	var outcome *session.Outcome
	var wakeAt *time.Time
	runErr := d.chain(ctx, inv, func(ctx context.Context) error {
		o, w, aerr := d.runAttempt(ctx, inv)
		if aerr != nil {
			return aerr
		}
		outcome, wakeAt = o, w
		if o.State == session.StateFailed && o.Failure != nil {
			return o.Failure
		}
		return nil
	})
	if outcome == nil {
		return false, runErr
	}
	return d.processOutcome(ctx, inv, outcome, wakeAt)
}

// runAttempt runs one session over an in-memory pipe: the session end
// executes the handler, the runtime end persists entries and feeds
// completions.
func (d *Driver) runAttempt(ctx context.Context, inv *invocation.Invocation) (*session.Outcome, *time.Time, error) {
	handler, err := d.reg.Handler(inv.Service, inv.Method)
	if err != nil {
		return &session.Outcome{
			State:   session.StateFailed,
			Failure: durable.NewFailure(durable.CodeNotFound, err.Error()),
		}, nil, nil
	}

	entries, err := d.store.GetEntries(ctx, inv.ID)
	if err != nil {
		return nil, nil, err
	}
	snapshot, err := d.store.SnapshotServiceState(ctx, inv.Service)
	if err != nil {
		return nil, nil, err
	}

	sessEnd, rtEnd := transport.NewPipe()
	m := session.New(sessEnd, session.Handler(handler),
		session.WithLogger(d.logger),
		session.WithSuspendTimeout(d.cfg.SuspendTimeout))

	key := inv.ID.String()
	inbox := make(chan *protocol.CompletionMessage, inboxBuffer)
	d.mu.Lock()
	d.live[key] = inbox
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.live, key)
		d.mu.Unlock()
	}()

	outcomeCh := make(chan sessionResult, 1)
	go func() {
		o, rerr := m.Run(ctx)
		outcomeCh <- sessionResult{o, rerr}
	}()

	serveErr := d.serve(ctx, inv, rtEnd, inbox, entries, snapshot)
	rtEnd.Close()
	sr := <-outcomeCh
	if serveErr != nil {
		return nil, nil, serveErr
	}
	if sr.err != nil {
		return nil, nil, sr.err
	}

	var wakeAt *time.Time
	if sr.outcome.State == session.StateSuspended {
		wakeAt = earliestWake(m.Journal(), sr.outcome.Blocked)
	}
	return sr.outcome, wakeAt, nil
}

// serve is the runtime side of one attempt: it sends the start message
// and replay prefix, then persists and acts on everything the session
// emits until the session closes its end.
func (d *Driver) serve(
	ctx context.Context,
	inv *invocation.Invocation,
	rt transport.Stream,
	inbox <-chan *protocol.CompletionMessage,
	persisted []*invocation.Entry,
	snapshot map[string][]byte,
) error {
	start := &protocol.StartMessage{
		ID:           inv.ID,
		DebugID:      inv.DebugID,
		KnownEntries: uint32(len(persisted)),
		StateMap:     snapshot,
	}
	if t := d.cfg.PartialStateThreshold; t > 0 && len(snapshot) > t {
		start.StateMap = nil
		start.PartialState = true
	}
	if err := rt.Send(start); err != nil {
		return fmt.Errorf("driver: send start: %w", err)
	}

	for _, pe := range persisted {
		msg, err := d.reviveEntry(inv, pe)
		if err != nil {
			return err
		}
		if serr := rt.Send(msg); serr != nil {
			return fmt.Errorf("driver: send replay entry %d: %w", pe.Index, serr)
		}
	}

	recvCh := make(chan recvResult, 16)
	recvDone := make(chan struct{})
	defer close(recvDone)
	go func() {
		for {
			msg, rerr := rt.Recv()
			select {
			case recvCh <- recvResult{msg, rerr}:
			case <-recvDone:
				return
			}
			if rerr != nil {
				return
			}
		}
	}()

	nextIndex := uint32(len(persisted))
	for {
		select {
		case rr := <-recvCh:
			if rr.err != nil {
				// Session closed its end; the attempt is over.
				return nil
			}
			if err := d.handleMessage(ctx, inv, rt, rr.msg, &nextIndex); err != nil {
				return err
			}
		case cm := <-inbox:
			if err := rt.Send(cm); err != nil {
				// Session gone; the result is already persisted and the
				// suspension recheck resumes the invocation.
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// reviveEntry rebuilds the wire message for a persisted journal entry,
// attaching its recorded result so replay completes it on load. Pending
// entries get their external sources re-attached: awakeables become
// addressable, timers are re-armed, an unanswered input is redelivered.
func (d *Driver) reviveEntry(inv *invocation.Invocation, pe *invocation.Entry) (protocol.EntryMessage, error) {
	t := protocol.Type(pe.TypeCode)
	msg := protocol.New(t)
	if msg == nil {
		return nil, fmt.Errorf("%w: unknown entry type 0x%04x at index %d",
			durable.ErrProtocolViolation, pe.TypeCode, pe.Index)
	}
	if len(pe.Payload) > 0 {
		if err := d.codec.Unmarshal(pe.Payload, msg); err != nil {
			return nil, fmt.Errorf("driver: decode entry %d payload: %w", pe.Index, err)
		}
	}
	em, ok := msg.(protocol.EntryMessage)
	if !ok {
		return nil, fmt.Errorf("%w: persisted frame %s is not an entry", durable.ErrProtocolViolation, t)
	}

	if len(pe.Result) > 0 && em.EntryResult() == nil {
		res := &durable.Result{}
		if err := d.codec.Unmarshal(pe.Result, res); err != nil {
			return nil, fmt.Errorf("driver: decode entry %d result: %w", pe.Index, err)
		}
		attachResult(em, res)
	}

	if em.EntryResult() == nil {
		switch pm := em.(type) {
		case *protocol.AwakeableEntryMessage:
			d.registerAwakeable(pm.ID, inv.ID, pe.Index)
		case *protocol.SleepEntryMessage:
			d.armTimer(inv.ID, pe.Index, pm.WakeUpTime)
		case *protocol.GetStateEntryMessage:
			svc := inv.Service
			key := string(pm.Key)
			invID := inv.ID
			index := pe.Index
			go func() {
				value, found, gerr := d.store.GetServiceState(d.baseCtx, svc, key)
				if gerr != nil {
					d.logger.Warn("state read redelivery failed",
						slog.String("invocation_id", invID.String()),
						slog.String("key", key),
						slog.String("error", gerr.Error()))
					return
				}
				res := durable.EmptyResult()
				if found {
					res = durable.ValueResult(value)
				}
				if derr := d.deliver(d.baseCtx, invID, index, res); derr != nil {
					d.logger.Warn("state read redelivery failed",
						slog.String("invocation_id", invID.String()),
						slog.String("error", derr.Error()))
				}
			}()
		case *protocol.PollInputEntryMessage:
			input := inv.Input
			invID := inv.ID
			index := pe.Index
			go func() {
				if derr := d.deliver(d.baseCtx, invID, index, durable.ValueResult(input)); derr != nil {
					d.logger.Warn("input redelivery failed",
						slog.String("invocation_id", invID.String()),
						slog.String("error", derr.Error()))
				}
			}()
		}
	}
	return em, nil
}

// handleMessage applies one frame received from the session.
func (d *Driver) handleMessage(ctx context.Context, inv *invocation.Invocation, rt transport.Stream, msg protocol.Message, nextIndex *uint32) error {
	switch msg.(type) {
	case *protocol.SuspensionMessage, *protocol.ErrorMessage:
		// The session outcome carries the blocked set or failure.
		return nil
	default:
		em, ok := msg.(protocol.EntryMessage)
		if !ok {
			return fmt.Errorf("%w: unexpected %s from session",
				durable.ErrProtocolViolation, msg.MessageType())
		}
		index := *nextIndex
		*nextIndex++
		return d.recordEntry(ctx, inv, rt, em, index)
	}
}

// recordEntry persists one new journal entry, acknowledges it, and acts
// on its effect.
func (d *Driver) recordEntry(ctx context.Context, inv *invocation.Invocation, rt transport.Stream, em protocol.EntryMessage, index uint32) error {
	payload, err := d.codec.Marshal(em)
	if err != nil {
		return fmt.Errorf("driver: encode entry %d: %w", index, err)
	}
	pe := &invocation.Entry{
		InvocationID: inv.ID,
		Index:        index,
		TypeCode:     uint16(em.MessageType()),
		Payload:      payload,
		CreatedAt:    time.Now().UTC(),
	}
	if err := d.store.AppendEntry(ctx, pe); err != nil {
		return err
	}
	if res := em.EntryResult(); res != nil {
		data, merr := d.codec.Marshal(res)
		if merr != nil {
			return fmt.Errorf("driver: encode entry %d result: %w", index, merr)
		}
		if cerr := d.store.CompleteEntry(ctx, inv.ID, index, data); cerr != nil {
			return cerr
		}
		pe.Result = data
	}
	if err := d.store.AckEntry(ctx, inv.ID, index); err != nil {
		return err
	}
	pe.Acked = true
	d.exts.EmitEntryRecorded(ctx, inv, pe)

	// Acknowledge on the wire only for entries that cannot still be
	// pending on the session side: a completable entry accepts an ack
	// only once completed, and its completion may not have landed yet.
	if !em.EntryKind().Completable() {
		if serr := rt.Send(&protocol.EntryAckMessage{EntryIndex: index}); serr != nil {
			d.logger.Debug("entry ack dropped",
				slog.String("invocation_id", inv.ID.String()),
				slog.Uint64("index", uint64(index)))
		}
	}
	return d.applyEntry(ctx, inv, em, index)
}

// applyEntry performs the runtime-side effect of a newly recorded entry.
func (d *Driver) applyEntry(ctx context.Context, inv *invocation.Invocation, em protocol.EntryMessage, index uint32) error {
	switch m := em.(type) {
	case *protocol.PollInputEntryMessage:
		return d.deliver(ctx, inv.ID, index, durable.ValueResult(inv.Input))

	case *protocol.OutputEntryMessage:
		return nil

	case *protocol.GetStateEntryMessage:
		if m.Result != nil {
			// Answered from the snapshot inside the session.
			return nil
		}
		value, found, err := d.store.GetServiceState(ctx, inv.Service, string(m.Key))
		if err != nil {
			return err
		}
		res := durable.EmptyResult()
		if found {
			res = durable.ValueResult(value)
		}
		return d.deliver(ctx, inv.ID, index, res)

	case *protocol.SetStateEntryMessage:
		return d.store.SetServiceState(ctx, inv.Service, string(m.Key), m.Value)

	case *protocol.ClearStateEntryMessage:
		return d.store.ClearServiceState(ctx, inv.Service, string(m.Key))

	case *protocol.SleepEntryMessage:
		d.armTimer(inv.ID, index, m.WakeUpTime)
		return nil

	case *protocol.InvokeEntryMessage:
		return d.invokeChild(ctx, inv, index, m)

	case *protocol.BackgroundInvokeEntryMessage:
		return d.spawnSend(ctx, m)

	case *protocol.AwakeableEntryMessage:
		d.registerAwakeable(m.ID, inv.ID, index)
		return nil

	case *protocol.CompleteAwakeableEntryMessage:
		if err := d.CompleteAwakeable(ctx, m.ID, m.Result); err != nil {
			d.logger.Warn("awakeable completion dropped",
				slog.String("awakeable_id", m.ID),
				slog.String("error", err.Error()))
		}
		return nil

	default:
		return fmt.Errorf("%w: unhandled entry %s", durable.ErrProtocolViolation, em.MessageType())
	}
}

// invokeChild creates a child invocation for a request/response call and
// delivers its terminal result to the parent's entry.
func (d *Driver) invokeChild(ctx context.Context, parent *invocation.Invocation, index uint32, m *protocol.InvokeEntryMessage) error {
	child := invocation.New(m.Service, m.Method, m.Parameter)
	now := time.Now().UTC()
	child.StartedAt = &now
	if err := d.store.CreateInvocation(ctx, child); err != nil {
		return err
	}
	d.exts.EmitInvocationCreated(ctx, child)

	done := d.watch(child.ID)
	parentID := parent.ID
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		select {
		case final := <-done:
			var res *durable.Result
			if final.Failure != nil {
				res = durable.FailureResult(final.Failure)
			} else {
				res = durable.ValueResult(final.Output)
			}
			if err := d.deliver(d.baseCtx, parentID, index, res); err != nil {
				d.logger.Warn("child result delivery failed",
					slog.String("invocation_id", parentID.String()),
					slog.String("child_id", final.ID.String()),
					slog.String("error", err.Error()))
			}
		case <-d.baseCtx.Done():
		}
	}()

	d.startRun(child)
	return nil
}

// spawnSend creates the invocation behind a one-way call, scheduled when
// the entry carries a future invoke time.
func (d *Driver) spawnSend(ctx context.Context, m *protocol.BackgroundInvokeEntryMessage) error {
	child := invocation.New(m.Service, m.Method, m.Parameter)
	if m.InvokeTime > 0 {
		at := time.UnixMilli(m.InvokeTime).UTC()
		if at.After(time.Now()) {
			child.State = invocation.StateScheduled
			child.ScheduledAt = &at
		}
	}
	if err := d.store.CreateInvocation(ctx, child); err != nil {
		return err
	}
	d.exts.EmitInvocationCreated(ctx, child)
	if child.State != invocation.StateScheduled {
		d.startRun(child)
	}
	return nil
}

// armTimer schedules delivery of a sleep entry's completion.
func (d *Driver) armTimer(invID id.InvocationID, index uint32, wakeUpTime int64) {
	delay := time.Until(time.UnixMilli(wakeUpTime))
	if delay < 0 {
		delay = 0
	}
	time.AfterFunc(delay, func() {
		if err := d.deliver(d.baseCtx, invID, index, durable.EmptyResult()); err != nil {
			d.logger.Warn("timer completion failed",
				slog.String("invocation_id", invID.String()),
				slog.String("error", err.Error()))
		}
	})
}

// deliver persists a completion for the entry at index and routes it to
// the live session if one is running, or resumes a suspended invocation
// otherwise. Delivery is durable-first: the result is persisted before
// any forwarding, so a crash between the two replays the completion
// instead of losing it. Entries that already hold a result are left
// untouched.
func (d *Driver) deliver(ctx context.Context, invID id.InvocationID, index uint32, res *durable.Result) error {
	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()

	entries, err := d.store.GetEntries(ctx, invID)
	if err != nil {
		return err
	}
	if int(index) >= len(entries) {
		return fmt.Errorf("%w: completion for unknown entry %d", durable.ErrEntryNotFound, index)
	}
	if len(entries[index].Result) > 0 {
		return nil
	}

	data, err := d.codec.Marshal(res)
	if err != nil {
		return err
	}
	if err := d.store.CompleteEntry(ctx, invID, index, data); err != nil {
		return err
	}

	key := invID.String()
	d.mu.Lock()
	inbox := d.live[key]
	d.mu.Unlock()
	if inbox != nil {
		select {
		case inbox <- &protocol.CompletionMessage{EntryIndex: index, Result: res}:
		default:
			// Inbox full; the suspension recheck picks the result up.
		}
		return nil
	}

	d.maybeResume(ctx, invID)
	return nil
}

// maybeResume relaunches the invocation if it is parked.
func (d *Driver) maybeResume(ctx context.Context, invID id.InvocationID) {
	inv, err := d.store.GetInvocation(ctx, invID)
	if err != nil {
		d.logger.Warn("resume lookup failed",
			slog.String("invocation_id", invID.String()),
			slog.String("error", err.Error()))
		return
	}
	if inv.State == invocation.StateSuspended {
		d.startRun(inv)
	}
}

// processOutcome persists the attempt's outcome. again=true asks the run
// loop for an immediate re-run.
func (d *Driver) processOutcome(ctx context.Context, inv *invocation.Invocation, o *session.Outcome, wakeAt *time.Time) (again bool, err error) {
	now := time.Now().UTC()
	switch o.State {
	case session.StateCompleted:
		inv.State = invocation.StateCompleted
		inv.Blocked = nil
		inv.CompletedAt = &now
		if f := o.Result.Failure(); f != nil {
			inv.Failure = f
		} else {
			inv.Output = o.Result.Value()
		}
		if err := d.store.UpdateInvocation(ctx, inv); err != nil {
			return false, err
		}
		d.notifyTerminal(inv)
		started := now
		if inv.StartedAt != nil {
			started = *inv.StartedAt
		}
		d.exts.EmitInvocationCompleted(ctx, inv, now.Sub(started))
		return false, nil

	case session.StateSuspended:
		inv.State = invocation.StateSuspended
		inv.Blocked = o.Blocked
		inv.WakeAt = wakeAt
		if err := d.store.UpdateInvocation(ctx, inv); err != nil {
			return false, err
		}
		d.exts.EmitInvocationSuspended(ctx, inv, o.Blocked)
		return d.blockedReady(ctx, inv)

	case session.StateFailed:
		inv.State = invocation.StateFailed
		inv.Failure = o.Failure
		inv.CompletedAt = &now
		if err := d.store.UpdateInvocation(ctx, inv); err != nil {
			return false, err
		}
		d.notifyTerminal(inv)
		d.exts.EmitInvocationFailed(ctx, inv, o.Failure)
		return false, nil

	default:
		return false, fmt.Errorf("driver: unexpected session outcome %s", o.State)
	}
}

// blockedReady reports whether any blocked entry already holds a result.
func (d *Driver) blockedReady(ctx context.Context, inv *invocation.Invocation) (bool, error) {
	entries, err := d.store.GetEntries(ctx, inv.ID)
	if err != nil {
		return false, err
	}
	for _, idx := range inv.Blocked {
		if int(idx) < len(entries) && len(entries[idx].Result) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// earliestWake finds the soonest pending timer among the blocked
// entries, so due sleepers are discoverable by query while suspended.
func earliestWake(j *journal.Journal, blocked []uint32) *time.Time {
	var wake *time.Time
	for _, idx := range blocked {
		e, ok := j.Get(idx)
		if !ok {
			continue
		}
		sm, ok := e.Payload.(*protocol.SleepEntryMessage)
		if !ok {
			continue
		}
		t := time.UnixMilli(sm.WakeUpTime).UTC()
		if wake == nil || t.Before(*wake) {
			wake = &t
		}
	}
	return wake
}

// attachResult sets the inline result on a completable entry message.
func attachResult(em protocol.EntryMessage, res *durable.Result) {
	switch m := em.(type) {
	case *protocol.PollInputEntryMessage:
		m.Result = res
	case *protocol.GetStateEntryMessage:
		m.Result = res
	case *protocol.SleepEntryMessage:
		m.Result = res
	case *protocol.InvokeEntryMessage:
		m.Result = res
	case *protocol.AwakeableEntryMessage:
		m.Result = res
	case *protocol.OutputEntryMessage:
		m.Result = res
	}
}
