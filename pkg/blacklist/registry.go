// Package blacklist implements the Blacklist overlay: a purely subtractive
// decorator over the deploy service that hides blacklisted entities,
// content, and addresses from reads and rejects writes that reference
// them, without ever mutating Storage itself (§7, §9).
package blacklist

import (
	"context"
	"encoding/json"
	"os"
	"sync"
)

// Registry is the set of blacklisted entity ids, content hashes, and eth
// addresses. It is a thin JSON-file-backed set, sharing the
// write-whole-file-on-change discipline of pkg/faileddeploy.Registry: the
// blacklist is small (administrative action, not per-deployment volume),
// so a flat file needs no pluggable backend the way History Manager does.
type Registry struct {
	path string
	mu   sync.RWMutex
	data snapshot
}

type snapshot struct {
	Entities  map[string]struct{} `json:"entities"`
	Content   map[string]struct{} `json:"content"`
	Addresses map[string]struct{} `json:"addresses"`
	Pointers  map[string]struct{} `json:"pointers"` // keyed by "<entityType>:<pointer>"
}

func emptySnapshot() snapshot {
	return snapshot{
		Entities:  make(map[string]struct{}),
		Content:   make(map[string]struct{}),
		Addresses: make(map[string]struct{}),
		Pointers:  make(map[string]struct{}),
	}
}

// NewRegistry loads (or creates) a Registry backed by path.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: path, data: emptySnapshot()}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := os.Stat(r.path); os.IsNotExist(err) {
		return nil
	}
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, &r.data)
}

func (r *Registry) save() error {
	raw, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.path, raw, 0o600)
}

// AddEntity blacklists entityID.
func (r *Registry) AddEntity(_ context.Context, entityID string) error {
	return r.add(r.data.Entities, entityID)
}

// RemoveEntity un-blacklists entityID.
func (r *Registry) RemoveEntity(_ context.Context, entityID string) error {
	return r.remove(r.data.Entities, entityID)
}

// AddContent blacklists a content hash.
func (r *Registry) AddContent(_ context.Context, hash string) error {
	return r.add(r.data.Content, hash)
}

// RemoveContent un-blacklists a content hash.
func (r *Registry) RemoveContent(_ context.Context, hash string) error {
	return r.remove(r.data.Content, hash)
}

// AddAddress blacklists an eth address (lowercase, as derived by
// pkg/authchain).
func (r *Registry) AddAddress(_ context.Context, address string) error {
	return r.add(r.data.Addresses, address)
}

// RemoveAddress un-blacklists an eth address.
func (r *Registry) RemoveAddress(_ context.Context, address string) error {
	return r.remove(r.data.Addresses, address)
}

// AddPointer blacklists (entityType, pointer) so no future deploy may
// target it.
func (r *Registry) AddPointer(_ context.Context, entityType, pointer string) error {
	return r.add(r.data.Pointers, pointerKey(entityType, pointer))
}

// RemovePointer un-blacklists (entityType, pointer).
func (r *Registry) RemovePointer(_ context.Context, entityType, pointer string) error {
	return r.remove(r.data.Pointers, pointerKey(entityType, pointer))
}

// IsPointerBlacklisted reports whether (entityType, pointer) is blacklisted.
func (r *Registry) IsPointerBlacklisted(entityType, pointer string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.data.Pointers[pointerKey(entityType, pointer)]
	return ok
}

func pointerKey(entityType, pointer string) string {
	return entityType + ":" + pointer
}

func (r *Registry) add(set map[string]struct{}, v string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set[v] = struct{}{}
	return r.save()
}

func (r *Registry) remove(set map[string]struct{}, v string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := set[v]; !ok {
		return nil
	}
	delete(set, v)
	return r.save()
}

// IsEntityBlacklisted reports whether entityID is blacklisted.
func (r *Registry) IsEntityBlacklisted(entityID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.data.Entities[entityID]
	return ok
}

// IsContentBlacklisted reports whether hash is blacklisted.
func (r *Registry) IsContentBlacklisted(hash string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.data.Content[hash]
	return ok
}

// IsAddressBlacklisted reports whether address is blacklisted.
func (r *Registry) IsAddressBlacklisted(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.data.Addresses[address]
	return ok
}

// BlacklistedOf returns the subset of hashes that are blacklisted, for
// annotating AuditInfo.BlacklistedContent (§6: "may include isBlacklisted
// and blacklistedContent when overlaid").
func (r *Registry) BlacklistedOf(hashes []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, h := range hashes {
		if _, ok := r.data.Content[h]; ok {
			out = append(out, h)
		}
	}
	return out
}
