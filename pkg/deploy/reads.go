package deploy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/contentmesh/server/pkg/entity"
	"github.com/contentmesh/server/pkg/history"
	"github.com/contentmesh/server/pkg/storage"
)

// GetContent returns the raw bytes stored under hash, entity files and
// referenced content alike (both live in the same contents/ namespace,
// §6 persisted layout).
func (s *Service) GetContent(ctx context.Context, hash string) ([]byte, error) {
	return s.store.Get(ctx, storage.Contents, hash)
}

// HasContent reports whether hash is already stored, without fetching it.
func (s *Service) HasContent(ctx context.Context, hash string) (bool, error) {
	return s.store.Exists(ctx, storage.Contents, hash)
}

// GetEntity returns the parsed entity file for id, consulting the cache
// first and falling back to Storage on a miss.
func (s *Service) GetEntity(ctx context.Context, id string) (*entity.Entity, error) {
	if e, ok := s.cache.Get(id); ok {
		return e, nil
	}
	raw, err := s.store.Get(ctx, storage.Contents, id)
	if err != nil {
		return nil, err
	}
	e, err := entity.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("deploy: stored entity %s failed to parse: %w", id, err)
	}
	s.cache.Put(id, e)
	return e, nil
}

// GetAuditInfo returns the AuditInfo persisted for id.
func (s *Service) GetAuditInfo(ctx context.Context, id string) (*entity.AuditInfo, error) {
	raw, err := s.store.Get(ctx, storage.Proofs, id)
	if err != nil {
		return nil, err
	}
	var audit entity.AuditInfo
	if err := json.Unmarshal(raw, &audit); err != nil {
		return nil, fmt.Errorf("deploy: stored audit info for %s failed to parse: %w", id, err)
	}
	return &audit, nil
}

// ActiveEntityIDs returns pointer -> entityId for every pointer currently
// active under entityType (GET /pointers/:type).
func (s *Service) ActiveEntityIDs(entityType entity.Type) map[string]string {
	return s.pointers.ActivePointersOfType(entityType)
}

// GetHistory returns the ledger's events matching filter.
func (s *Service) GetHistory(ctx context.Context, filter history.Filter) ([]history.Event, error) {
	return s.ledger.GetHistory(ctx, filter)
}

// ImmutableTime returns the ledger's current T_imm watermark.
func (s *Service) ImmutableTime(ctx context.Context) (int64, error) {
	return s.ledger.ImmutableTime(ctx)
}
