package journal

import (
	"fmt"
	"sync"

	"github.com/xraph/durable"
	"github.com/xraph/durable/entry"
)

// Correlator routes completions and acknowledgments from the runtime to
// the journal entries awaiting them, and tracks which indices user code
// is currently blocked on. Every entry state transition after load goes
// through the correlator, so its mutex is the only lock an entry's State
// and Result are touched under.
type Correlator struct {
	mu      sync.Mutex
	journal *Journal
	waiters map[uint32]chan *durable.Result

	// notify is pulsed whenever the waiter set changes; the session
	// machine selects on it to re-evaluate blockedness.
	notify chan struct{}
}

// NewCorrelator creates a correlator over the journal.
func NewCorrelator(j *Journal) *Correlator {
	return &Correlator{
		journal: j,
		waiters: make(map[uint32]chan *durable.Result),
		notify:  make(chan struct{}, 1),
	}
}

// Notify returns the channel pulsed on waiter-set changes.
func (c *Correlator) Notify() <-chan struct{} {
	return c.notify
}

func (c *Correlator) pulse() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Watch registers interest in the completion of the entry at index and
// returns a channel that delivers the result exactly once. If the entry
// already carries a result the channel is pre-filled. Watching a
// non-completable entry is an error in the caller.
func (c *Correlator) Watch(index uint32) (<-chan *durable.Result, error) {
	e, ok := c.journal.Get(index)
	if !ok {
		return nil, fmt.Errorf("%w: watch for entry %d", durable.ErrEntryNotFound, index)
	}
	if !e.Kind.Completable() {
		return nil, fmt.Errorf("journal: cannot await non-completable %s entry %d", e.Kind, index)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e.Completed() {
		ch := make(chan *durable.Result, 1)
		ch <- e.Result
		return ch, nil
	}
	ch, exists := c.waiters[index]
	if !exists {
		ch = make(chan *durable.Result, 1)
		c.waiters[index] = ch
		c.pulse()
	}
	return ch, nil
}

// Resolve applies a completion from the runtime to the entry at index
// and wakes its waiter, if any. Violations (unknown index, duplicate
// completion, non-completable kind, disallowed variant) surface as
// errors wrapping durable.ErrProtocolViolation.
func (c *Correlator) Resolve(index uint32, res *durable.Result) error {
	e, ok := c.journal.Get(index)
	if !ok {
		return fmt.Errorf("%w: completion for unknown entry %d", durable.ErrProtocolViolation, index)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := e.Complete(res); err != nil {
		return err
	}
	if ch, exists := c.waiters[index]; exists {
		ch <- e.Result
		delete(c.waiters, index)
		c.pulse()
	}
	return nil
}

// ResolveLocal records a result produced inside the session itself (an
// eager state read answered from the snapshot). No waiter can exist yet
// for a just-created entry, so only the entry transitions.
func (c *Correlator) ResolveLocal(e *entry.Entry, res *durable.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return e.Record(res)
}

// Ack applies a durability acknowledgment to the entry at index.
func (c *Correlator) Ack(index uint32) error {
	e, ok := c.journal.Get(index)
	if !ok {
		return fmt.Errorf("%w: ack for unknown entry %d", durable.ErrProtocolViolation, index)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return e.Acknowledge()
}

// Blocked returns the indices user code is currently waiting on, in
// ascending order. A non-empty set is the precondition for suspension.
func (c *Correlator) Blocked() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]uint32, 0, len(c.waiters))
	for idx := range c.waiters {
		out = append(out, idx)
	}
	for i := 1; i < len(out); i++ {
		for k := i; k > 0 && out[k] < out[k-1]; k-- {
			out[k], out[k-1] = out[k-1], out[k]
		}
	}
	return out
}

// HasWaiters reports whether any index is being waited on.
func (c *Correlator) HasWaiters() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters) > 0
}

// Forget drops the waiter for index without delivering a result. Used
// when the awaiting goroutine unwinds for suspension.
func (c *Correlator) Forget(index uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.waiters[index]; exists {
		delete(c.waiters, index)
		c.pulse()
	}
}
