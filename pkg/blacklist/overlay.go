package blacklist

import (
	"context"
	"errors"
	"fmt"

	"github.com/contentmesh/server/pkg/contenthash"
	"github.com/contentmesh/server/pkg/deploy"
	"github.com/contentmesh/server/pkg/entity"
	"github.com/contentmesh/server/pkg/history"
)

// ErrBlacklisted is returned by a read that resolves to a blacklisted
// entity or content hash, the "BLACKLISTED (404 synthesized)" case of the
// client-facing error taxonomy (§7).
var ErrBlacklisted = errors.New("blacklist: resource is blacklisted")

// Service is the read/write surface the HTTP layer depends on. deploy.Service
// satisfies it directly; Overlay satisfies it by delegation, so a caller
// can hold either behind the same interface value and never know which
// one it has (§9: "the service is a trait/interface, and the blacklist
// overlay implements the same trait").
type Service interface {
	Deploy(ctx context.Context, req deploy.Request) (deploy.Result, error)
	GetContent(ctx context.Context, hash string) ([]byte, error)
	HasContent(ctx context.Context, hash string) (bool, error)
	GetEntity(ctx context.Context, id string) (*entity.Entity, error)
	GetAuditInfo(ctx context.Context, id string) (*entity.AuditInfo, error)
	ActiveEntityIDs(entityType entity.Type) map[string]string
	GetHistory(ctx context.Context, filter history.Filter) ([]history.Event, error)
	ImmutableTime(ctx context.Context) (int64, error)
}

// Overlay wraps an inner Service, holding it by value (an interface value,
// not a pointer to one), and never mutates Storage itself: every rejection
// or filtering decision lives in Registry, not in the wrapped service
// (§7: "it never mutates storage; it filters reads and rejects writes").
type Overlay struct {
	inner    Service
	registry *Registry
}

// NewOverlay returns an Overlay delegating to inner, filtered by registry.
func NewOverlay(inner Service, registry *Registry) *Overlay {
	return &Overlay{inner: inner, registry: registry}
}

var _ Service = (*Overlay)(nil)

// Deploy rejects a submission whose claimed entity id, eth address, or any
// referenced content hash is blacklisted, before delegating to inner. A
// blacklisted pointer is checked by parsing the candidate entity.json;
// a parse failure is left for inner.Deploy to report as a validation
// error rather than duplicated here.
func (o *Overlay) Deploy(ctx context.Context, req deploy.Request) (deploy.Result, error) {
	if req.EthAddress != "" && o.registry.IsAddressBlacklisted(req.EthAddress) {
		return deploy.Result{}, fmt.Errorf("blacklist: address %s is blacklisted", req.EthAddress)
	}
	if req.ClaimedEntityID != "" && o.registry.IsEntityBlacklisted(req.ClaimedEntityID) {
		return deploy.Result{}, fmt.Errorf("blacklist: entity %s is blacklisted", req.ClaimedEntityID)
	}
	for name, data := range req.Files {
		if name == "entity.json" {
			continue
		}
		if hash := contenthash.Hash(data); o.registry.IsContentBlacklisted(hash) {
			return deploy.Result{}, fmt.Errorf("blacklist: content %s is blacklisted", hash)
		}
	}
	if raw, ok := req.Files["entity.json"]; ok {
		if e, err := entity.Parse(raw); err == nil {
			for _, p := range e.Pointers {
				if o.registry.IsPointerBlacklisted(string(e.Type), p) {
					return deploy.Result{}, fmt.Errorf("blacklist: pointer %s is blacklisted", p)
				}
			}
			for _, hash := range e.ContentHashes() {
				if o.registry.IsContentBlacklisted(hash) {
					return deploy.Result{}, fmt.Errorf("blacklist: referenced content %s is blacklisted", hash)
				}
			}
		}
	}
	return o.inner.Deploy(ctx, req)
}

// GetContent hides a blacklisted hash behind ErrBlacklisted rather than
// whatever inner would have returned.
func (o *Overlay) GetContent(ctx context.Context, hash string) ([]byte, error) {
	if o.registry.IsContentBlacklisted(hash) {
		return nil, ErrBlacklisted
	}
	return o.inner.GetContent(ctx, hash)
}

// HasContent reports a blacklisted hash as unavailable, consistent with
// GetContent's 404.
func (o *Overlay) HasContent(ctx context.Context, hash string) (bool, error) {
	if o.registry.IsContentBlacklisted(hash) {
		return false, nil
	}
	return o.inner.HasContent(ctx, hash)
}

// GetEntity hides a blacklisted entity id behind ErrBlacklisted.
func (o *Overlay) GetEntity(ctx context.Context, id string) (*entity.Entity, error) {
	if o.registry.IsEntityBlacklisted(id) {
		return nil, ErrBlacklisted
	}
	return o.inner.GetEntity(ctx, id)
}

// GetAuditInfo never hides the audit record; it annotates it with
// IsBlacklisted / BlacklistedContent instead, per §6's "may include
// isBlacklisted and blacklistedContent when overlaid."
func (o *Overlay) GetAuditInfo(ctx context.Context, id string) (*entity.AuditInfo, error) {
	audit, err := o.inner.GetAuditInfo(ctx, id)
	if err != nil {
		return nil, err
	}
	audit.IsBlacklisted = o.registry.IsEntityBlacklisted(id)
	if e, err := o.inner.GetEntity(ctx, id); err == nil {
		audit.BlacklistedContent = o.registry.BlacklistedOf(e.ContentHashes())
	}
	return audit, nil
}

// ActiveEntityIDs drops any pointer whose active entity is now
// blacklisted, a purely subtractive filter over inner's result.
func (o *Overlay) ActiveEntityIDs(entityType entity.Type) map[string]string {
	active := o.inner.ActiveEntityIDs(entityType)
	out := make(map[string]string, len(active))
	for pointer, id := range active {
		if o.registry.IsEntityBlacklisted(id) {
			continue
		}
		out[pointer] = id
	}
	return out
}

// GetHistory is passed through unfiltered: the ledger is the audit trail
// of what was deployed, not a view of what is currently visible.
func (o *Overlay) GetHistory(ctx context.Context, filter history.Filter) ([]history.Event, error) {
	return o.inner.GetHistory(ctx, filter)
}

// ImmutableTime is passed through unfiltered.
func (o *Overlay) ImmutableTime(ctx context.Context) (int64, error) {
	return o.inner.ImmutableTime(ctx)
}
