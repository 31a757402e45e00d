// Package roster tracks the players whose finished matches trigger
// notifications.
package roster

import (
	"sort"
	"sync"
)

// Truncate returns the low 32 bits of a 64-bit account ID. Match records
// carry the truncated form, so the roster is keyed by it. Distinct 64-bit
// IDs can collide after truncation; the upstream ID space makes this
// unlikely and the collision is accepted rather than corrected.
func Truncate(id64 uint64) uint32 {
	return uint32(id64 & 0xFFFFFFFF)
}

// Roster is a mutable mapping from truncated 32-bit account IDs to full
// 64-bit account IDs. All operations are safe to call concurrently with
// filter lookups; the expected cardinality is tens of entries, so a single
// lock over the whole map is enough.
type Roster struct {
	mu    sync.RWMutex
	byKey map[uint32]uint64
}

// New creates a roster seeded with the given 64-bit account IDs.
func New(seed []uint64) *Roster {
	r := &Roster{byKey: make(map[uint32]uint64, len(seed))}
	for _, id64 := range seed {
		r.byKey[Truncate(id64)] = id64
	}
	return r
}

// Add starts tracking a player by their full 64-bit account ID.
func (r *Roster) Add(id64 uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[Truncate(id64)] = id64
}

// Remove stops tracking a player. Removing an untracked player is a no-op.
func (r *Roster) Remove(id64 uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byKey, Truncate(id64))
}

// Lookup returns the full 64-bit ID for a truncated ID, if tracked.
func (r *Roster) Lookup(id32 uint32) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id64, ok := r.byKey[id32]
	return id64, ok
}

// Contains reports whether a truncated ID is tracked.
func (r *Roster) Contains(id32 uint32) bool {
	_, ok := r.Lookup(id32)
	return ok
}

// IDs returns the tracked 64-bit account IDs in ascending order.
func (r *Roster) IDs() []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uint64, 0, len(r.byKey))
	for _, id64 := range r.byKey {
		ids = append(ids, id64)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
