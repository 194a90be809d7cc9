// Package entity implements the Entity Factory (C3): parsing a canonical
// entity descriptor from bytes and validating its shape before any
// validation predicate or pointer commit ever sees it.
package entity

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/contentmesh/server/pkg/canon"
	"github.com/contentmesh/server/pkg/contenthash"
)

// Type is the kind of entity being deployed (scene, profile, wearable, …).
// The set is open — the server does not enumerate or reject unknown types,
// it only uses Type as a partition key for pointer state and upload quotas.
type Type string

// Entity is the immutable descriptor for a single deployment. Its wire
// form (the bytes uploaded as "entity.json") carries the fields below
// other than ID; the id is the content hash of those bytes, not part of
// them. ID is included when an Entity is encoded as JSON (GET /entities),
// and Parse replaces any id found in its input with the hash.
type Entity struct {
	ID        string          `json:"id,omitempty"`
	Type      Type            `json:"type"`
	Pointers  []string        `json:"pointers"`
	Timestamp int64           `json:"timestamp"` // ms since epoch, client-supplied
	Content   map[string]string `json:"content"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// ErrEmptyPointers is returned when an entity declares no pointers.
var ErrEmptyPointers = fmt.Errorf("entity: pointers must be a non-empty sequence")

// ErrEmptyType is returned when an entity has no type.
var ErrEmptyType = fmt.Errorf("entity: type must not be empty")

// Parse decodes raw entity.json bytes into an Entity and derives its
// content-addressed id from the bytes themselves (§3: id == hash of the
// canonical serialization; the canonical serialization is exactly what a
// well-behaved client uploads).
func Parse(raw []byte) (*Entity, error) {
	var e Entity
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("entity: invalid JSON: %w", err)
	}
	if err := e.validateShape(); err != nil {
		return nil, err
	}
	e.ID = contenthash.Hash(raw)
	return &e, nil
}

func (e *Entity) validateShape() error {
	if len(e.Pointers) == 0 {
		return ErrEmptyPointers
	}
	for _, p := range e.Pointers {
		if p == "" {
			return fmt.Errorf("entity: pointer entries must not be empty")
		}
	}
	if e.Type == "" {
		return ErrEmptyType
	}
	return nil
}

// CanonicalHash recomputes the entity id from the parsed struct, ignoring
// whatever bytes it was originally parsed from. Used by TestParseRoundTrip;
// the deploy pipeline hashes the raw entity.json bytes instead.
func (e *Entity) CanonicalHash() (string, error) {
	b, err := canon.Bytes(struct {
		Type      Type              `json:"type"`
		Pointers  []string          `json:"pointers"`
		Timestamp int64             `json:"timestamp"`
		Content   map[string]string `json:"content"`
		Metadata  json.RawMessage   `json:"metadata,omitempty"`
	}{e.Type, e.Pointers, e.Timestamp, e.Content, e.Metadata})
	if err != nil {
		return "", err
	}
	return contenthash.Hash(b), nil
}

// ContentHashes returns the sorted, deduplicated set of content hashes
// referenced by the entity, excluding the entity's own id.
func (e *Entity) ContentHashes() []string {
	seen := make(map[string]struct{}, len(e.Content))
	out := make([]string, 0, len(e.Content))
	for _, h := range e.Content {
		if h == e.ID {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// HasPointer reports whether p is one of the entity's declared pointers.
func (e *Entity) HasPointer(p string) bool {
	for _, candidate := range e.Pointers {
		if candidate == p {
			return true
		}
	}
	return false
}
