// Package intern deduplicates immutable strings and assigns them stable
// integer ids, the way the teacher VM interns every StringObj's hash so
// equal strings share a representation. Unlike the teacher's per-object
// approach, ids here are dense (0, 1, 2, ...) so the VM can use them
// directly as Value payloads (see package value) and as property names in
// shapes.
//
// The interner is process-wide for the lifetime of one VM (§9 "Global
// state"): created at VM construction, torn down with it. It is read-mostly
// after warm-up and safe for concurrent use by cooperative tasks.
package intern

import "sync"

// Table is the string interner. The zero value is not usable; use New.
type Table struct {
	mu      sync.RWMutex
	strings []string
	ids     map[string]uint32
}

func New() *Table {
	return &Table{
		strings: make([]string, 0, 256),
		ids:     make(map[string]uint32, 256),
	}
}

// Intern returns the id for s, assigning a new one if s hasn't been seen.
func (t *Table) Intern(s string) uint32 {
	t.mu.RLock()
	if id, ok := t.ids[s]; ok {
		t.mu.RUnlock()
		return id
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	// Re-check: another goroutine may have interned s while we waited.
	if id, ok := t.ids[s]; ok {
		return id
	}
	id := uint32(len(t.strings))
	t.strings = append(t.strings, s)
	t.ids[s] = id
	return id
}

// Lookup returns the string previously interned at id. Panics on an id
// the interner never assigned — a bug in the caller, not a runtime error.
func (t *Table) Lookup(id uint32) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.strings[id]
}

// TryLookup is the non-panicking variant, used by diagnostics code that may
// be handed a stale or out-of-range id.
func (t *Table) TryLookup(id uint32) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(id) >= len(t.strings) {
		return "", false
	}
	return t.strings[id], true
}

// Len reports how many distinct strings have been interned.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.strings)
}

// Names returns a copy of every interned string, in assignment order. No
// code in the module calls it; interned strings are never freed, so the
// GC root scan does not need it.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.strings))
	copy(out, t.strings)
	return out
}
