// Package journal maintains the ordered record of effects for a single
// invocation: a dense, 0-indexed arena of typed entries, the completion
// correlator that routes runtime results back to the entries awaiting
// them, and the eager state view that answers reads from the snapshot
// delivered at session start.
package journal

import (
	"fmt"
	"sync"

	"github.com/xraph/durable"
	"github.com/xraph/durable/entry"
	"github.com/xraph/durable/protocol"
)

// Journal is the single ordering authority for one invocation. Entries
// are appended at dense increasing indices; during replay the cursor
// walks the recorded prefix instead, verifying that user code requests
// the same kinds in the same order it did on the previous run.
type Journal struct {
	mu      sync.Mutex
	entries []*entry.Entry
	known   uint32
	cursor  uint32
	sealed  bool
}

// New creates an empty journal with no replay prefix.
func New() *Journal {
	return &Journal{}
}

// Load installs the recorded prefix from a previous run. Each message
// becomes an entry at its redelivery position; messages carrying an
// inline result are completed on the spot, the rest stay pending and
// wait for stashed completions. Load must be called before execution
// starts and at most once.
func Load(msgs []protocol.EntryMessage) (*Journal, error) {
	j := New()
	for i, msg := range msgs {
		e, err := entry.New(uint32(i), msg.EntryKind(), msg)
		if err != nil {
			return nil, fmt.Errorf("journal: load entry %d: %w", i, err)
		}
		if res := msg.EntryResult(); res != nil {
			if err := e.Record(res); err != nil {
				return nil, fmt.Errorf("journal: load entry %d: %w", i, err)
			}
		}
		j.entries = append(j.entries, e)
		if msg.EntryKind() == entry.KindOutput {
			j.sealed = true
		}
	}
	j.known = uint32(len(j.entries))
	return j, nil
}

// Do is the one gate every effect passes through. While the cursor is
// inside the replay prefix it returns the recorded entry (after checking
// the kind matches) and replayed=true; past the prefix it appends a new
// pending entry built from the payload and returns replayed=false.
func (j *Journal) Do(kind entry.Kind, payload entry.Payload) (*entry.Entry, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cursor < j.known {
		recorded := j.entries[j.cursor]
		if recorded.Kind != kind {
			return nil, false, fmt.Errorf("%w: entry %d recorded as %s, requested %s",
				durable.ErrJournalMismatch, j.cursor, recorded.Kind, kind)
		}
		j.cursor++
		return recorded, true, nil
	}

	// The seal gates appends only: a recorded prefix that ends in an
	// output entry must still replay verbatim.
	if j.sealed {
		return nil, false, fmt.Errorf("%w: %s entry after output", durable.ErrJournalSealed, kind)
	}

	e, err := entry.New(j.cursor, kind, payload)
	if err != nil {
		return nil, false, err
	}
	j.entries = append(j.entries, e)
	j.cursor++
	if kind == entry.KindOutput {
		j.sealed = true
	}
	return e, false, nil
}

// Get returns the entry at index, if it exists.
func (j *Journal) Get(index uint32) (*entry.Entry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if index >= uint32(len(j.entries)) {
		return nil, false
	}
	return j.entries[index], true
}

// Len returns the number of entries recorded so far.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Known returns the length of the replay prefix.
func (j *Journal) Known() uint32 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.known
}

// Replaying reports whether the cursor is still inside the replay prefix.
func (j *Journal) Replaying() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cursor < j.known
}

// Sealed reports whether an output entry has been recorded.
func (j *Journal) Sealed() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sealed
}

// Entries returns a snapshot of the arena in index order.
func (j *Journal) Entries() []*entry.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*entry.Entry, len(j.entries))
	copy(out, j.entries)
	return out
}
