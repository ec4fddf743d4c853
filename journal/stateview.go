package journal

import (
	"sync"

	"github.com/xraph/durable"
)

// StateView is the session-local copy of the invocation's key/value
// state, seeded from the snapshot in the start message. A complete view
// can answer every read locally; a partial view only knows the keys it
// has seen, and unknown keys must round-trip to the runtime. Writes are
// always applied locally so later reads in the same run observe them.
type StateView struct {
	mu      sync.Mutex
	values  map[string][]byte
	absent  map[string]struct{}
	partial bool
}

// NewStateView builds a view over the start snapshot.
func NewStateView(snapshot map[string][]byte, partial bool) *StateView {
	values := make(map[string][]byte, len(snapshot))
	for k, v := range snapshot {
		values[k] = v
	}
	return &StateView{
		values:  values,
		absent:  make(map[string]struct{}),
		partial: partial,
	}
}

// Partial reports whether the snapshot was marked incomplete.
func (v *StateView) Partial() bool {
	return v.partial
}

// Get looks up a key. known=false means the view cannot answer (partial
// snapshot, key never seen) and the read must go to the runtime. When
// known, present distinguishes a stored value from a confirmed absence.
func (v *StateView) Get(key string) (value []byte, known, present bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if val, ok := v.values[key]; ok {
		return val, true, true
	}
	if _, ok := v.absent[key]; ok {
		return nil, true, false
	}
	if v.partial {
		return nil, false, false
	}
	return nil, true, false
}

// Set stores a value locally.
func (v *StateView) Set(key string, value []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values[key] = value
	delete(v.absent, key)
}

// Clear removes a key locally and remembers its absence.
func (v *StateView) Clear(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.values, key)
	v.absent[key] = struct{}{}
}

// Ingest folds the runtime's answer to a state read back into the view,
// so later reads of the same key resolve locally. Empty confirms
// absence; Value stores the bytes. Other variants are ignored.
func (v *StateView) Ingest(key string, res *durable.Result) {
	if res == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	switch res.Variant() {
	case durable.VariantEmpty:
		delete(v.values, key)
		v.absent[key] = struct{}{}
	case durable.VariantValue:
		v.values[key] = res.Value()
		delete(v.absent, key)
	}
}
