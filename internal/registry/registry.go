// Package registry holds the process-wide set of currently registered
// patterns (spec §4.4). Reads are wait-free atomic snapshots; writes
// are serialized by the HTTP handler performing the mutation and
// sampled by the chain consumer only at block boundaries.
package registry

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kupo-index/kupo/internal/pattern"
)

// Registry is safe for concurrent use. The zero value is ready to use.
type Registry struct {
	snapshot atomic.Pointer[[]pattern.Pattern]
	mu       sync.Mutex // serializes Add/Remove against each other
}

// New builds a registry seeded with the given patterns, typically the
// rows loaded from storage at startup plus any --match flags.
func New(initial []pattern.Pattern) *Registry {
	r := &Registry{}
	snap := append([]pattern.Pattern(nil), initial...)
	r.snapshot.Store(&snap)
	return r
}

// Snapshot returns the current pattern set. The returned slice must not
// be mutated; callers that need to change the set call Add/Remove.
func (r *Registry) Snapshot() []pattern.Pattern {
	p := r.snapshot.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Overlaps reports whether p overlaps any currently registered pattern
// (spec §4.4 "Overlap predicate").
func (r *Registry) Overlaps(p pattern.Pattern) bool {
	for _, existing := range r.Snapshot() {
		if p.Overlaps(existing) {
			return true
		}
	}
	return false
}

// Add registers p, returning false if an equal pattern was already
// present. Overlap with registered patterns is not checked.
func (r *Registry) Add(p pattern.Pattern) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.Snapshot()
	for _, existing := range current {
		if existing.String() == p.String() {
			return false
		}
	}
	next := append(append([]pattern.Pattern(nil), current...), p)
	r.snapshot.Store(&next)
	return true
}

// Remove deregisters every pattern whose canonical text equals p's,
// returning how many were removed (0 or 1, since Add enforces
// uniqueness).
func (r *Registry) Remove(p pattern.Pattern) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.Snapshot()
	next := make([]pattern.Pattern, 0, len(current))
	removed := 0
	for _, existing := range current {
		if existing.String() == p.String() {
			removed++
			continue
		}
		next = append(next, existing)
	}
	if removed > 0 {
		r.snapshot.Store(&next)
	}
	return removed
}

// Included returns every registered pattern whose text contains sub as
// a substring, used by GET /patterns/{p} (spec §4.3 "lists all
// registered patterns or those included by p").
func (r *Registry) Included(sub string) []pattern.Pattern {
	if sub == "" {
		return r.Snapshot()
	}
	var out []pattern.Pattern
	needle := strings.ToLower(sub)
	for _, existing := range r.Snapshot() {
		if strings.Contains(strings.ToLower(existing.String()), needle) {
			out = append(out, existing)
		}
	}
	return out
}
