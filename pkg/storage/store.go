// Package storage implements the opaque category+key byte store (C2) that
// Pointer Manager, History Manager, and the deploy pipeline build on top of.
// The persisted layout is flat namespaces keyed by category: contents/<hash>,
// proofs/<entityId>, pointers-<type>/<pointer> (§3 of the persisted layout).
package storage

import (
	"context"
	"errors"
)

// Category partitions the flat key space a Store exposes. A Store
// implementation does not interpret category values beyond using them as a
// path/key prefix; the categories themselves are defined by callers.
type Category string

const (
	// Contents holds raw entity and file bytes, keyed by their CIDv1 hash.
	Contents Category = "contents"
	// Proofs holds the UTF-8 JSON AuditInfo for a deployment, keyed by entity id.
	Proofs Category = "proofs"
)

// PointerCategory returns the flat namespace for pointers of the given
// entity type, e.g. "pointers-scene".
func PointerCategory(entityType string) Category {
	return Category("pointers-" + entityType)
}

// ErrNotFound is returned by Get when no bytes exist under category+key.
var ErrNotFound = errors.New("storage: key not found")

// Store is the contract every backend (local filesystem, S3, GCS) satisfies.
// All operations are safe for concurrent use across distinct keys; callers
// needing atomicity across multiple keys must coordinate externally (the
// Pointer Manager's copy-on-write map does this for pointer commits).
type Store interface {
	Put(ctx context.Context, category Category, key string, data []byte) error
	Get(ctx context.Context, category Category, key string) ([]byte, error)
	Exists(ctx context.Context, category Category, key string) (bool, error)
	Delete(ctx context.Context, category Category, key string) error
}
