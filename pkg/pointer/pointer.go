// Package pointer implements the Pointer Manager (C5): the copy-on-write
// map from (entityType, pointer) to the currently active entity id, and
// the timestamp/id tie-break commit algorithm that keeps every honest node
// converging on the same active-entity-per-pointer mapping.
package pointer

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/contentmesh/server/pkg/entity"
)

// key identifies one (type, pointer) slot in the pointer map.
type key struct {
	entityType entity.Type
	pointer    string
}

// incumbent is the minimum state the tie-break needs to retain per active
// entity id: its pointers (to detect orphaning) and its (timestamp, id)
// ordering key.
type incumbent struct {
	id        string
	timestamp int64
	pointers  []string
}

// snapshot is an immutable view of the pointer map, swapped atomically on
// every commit so concurrent readers never observe a partial update (§5).
type snapshot struct {
	active     map[key]string       // (type, pointer) -> active entity id
	incumbents map[string]incumbent // entity id -> incumbent record, for orphan detection
}

func emptySnapshot() *snapshot {
	return &snapshot{
		active:     make(map[key]string),
		incumbents: make(map[string]incumbent),
	}
}

// Manager owns pointer state exclusively (§3 ownership). All reads and
// writes go through it; writers serialize on mu, readers take a lock-free
// reference to the current snapshot.
type Manager struct {
	mu      sync.Mutex // serializes commits only; readers never take it
	current atomic.Pointer[snapshot]
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	m := &Manager{}
	m.current.Store(emptySnapshot())
	return m
}

// CommitResult is the outcome of tryToCommit.
type CommitResult struct {
	CouldCommit     bool
	EntitiesDeleted []string
}

// TryToCommit runs the pointer-commit algorithm for a newly accepted
// entity e (§4.2, steps 1-4). It is safe for concurrent callers; commits
// serialize, reads never block on one.
func (m *Manager) TryToCommit(e *entity.Entity) CommitResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.current.Load()

	incumbentSet := make(map[string]incumbent)
	for _, p := range e.Pointers {
		id, ok := old.active[key{e.Type, p}]
		if !ok {
			continue
		}
		if _, seen := incumbentSet[id]; seen {
			continue
		}
		incumbentSet[id] = old.incumbents[id]
	}

	for _, inc := range incumbentSet {
		if shadowedBy(inc, e) {
			return CommitResult{CouldCommit: false}
		}
	}

	next := &snapshot{
		active:     make(map[key]string, len(old.active)+len(e.Pointers)),
		incumbents: make(map[string]incumbent, len(old.incumbents)+1),
	}
	for k, v := range old.active {
		next.active[k] = v
	}
	for id, inc := range old.incumbents {
		next.incumbents[id] = inc
	}
	for _, p := range e.Pointers {
		next.active[key{e.Type, p}] = e.ID
	}
	next.incumbents[e.ID] = incumbent{id: e.ID, timestamp: e.Timestamp, pointers: e.Pointers}

	// An incumbent is orphaned when none of its own pointers still resolve
	// to it in next — not merely when every pointer overlaps with e's. A
	// non-overlapping pointer can have already been taken over by some
	// third entity since inc.pointers was recorded, in which case inc no
	// longer holds it either way and must not survive as a stale incumbent.
	var deleted []string
	for id, inc := range incumbentSet {
		orphaned := true
		for _, p := range inc.pointers {
			if next.active[key{e.Type, p}] == id {
				orphaned = false
				break
			}
		}
		if orphaned {
			deleted = append(deleted, id)
			delete(next.incumbents, id)
		}
	}
	sort.Strings(deleted)

	m.current.Store(next)
	return CommitResult{CouldCommit: true, EntitiesDeleted: deleted}
}

// shadowedBy reports whether incumbent inc shadows candidate e under the
// (timestamp, id) lexicographic tie-break (§4.2 step 2): inc shadows e if
// (inc.timestamp, inc.id) >= (e.timestamp, e.id).
func shadowedBy(inc incumbent, e *entity.Entity) bool {
	if inc.timestamp != e.Timestamp {
		return inc.timestamp > e.Timestamp
	}
	return inc.id >= e.ID
}

// ActiveEntity returns the entity id currently active for (entityType,
// pointer), or "" if none is.
func (m *Manager) ActiveEntity(entityType entity.Type, p string) (string, bool) {
	snap := m.current.Load()
	id, ok := snap.active[key{entityType, p}]
	return id, ok
}

// Timestamp returns the declared timestamp of entityID, if it is a
// currently-incumbent entity on at least one pointer. Used by the deploy
// pipeline's checkFreshness step to reject stale local submissions before
// the pointer commit (§4.5 step 5).
func (m *Manager) Timestamp(entityID string) (int64, bool) {
	snap := m.current.Load()
	inc, ok := snap.incumbents[entityID]
	if !ok {
		return 0, false
	}
	return inc.timestamp, true
}

// ActivePointers returns every (entityType, pointer) -> entityId pair
// currently active, for read endpoints that list active deployments.
func (m *Manager) ActivePointers() map[string]string {
	snap := m.current.Load()
	out := make(map[string]string, len(snap.active))
	for k, v := range snap.active {
		out[string(k.entityType)+":"+k.pointer] = v
	}
	return out
}

// ActivePointersOfType returns pointer -> entityId for every pointer
// currently active under entityType, for GET /pointers/:type.
func (m *Manager) ActivePointersOfType(entityType entity.Type) map[string]string {
	snap := m.current.Load()
	out := make(map[string]string)
	for k, v := range snap.active {
		if k.entityType != entityType {
			continue
		}
		out[k.pointer] = v
	}
	return out
}
