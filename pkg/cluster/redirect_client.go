package cluster

import (
	"context"
	"fmt"

	"github.com/contentmesh/server/pkg/entity"
	"github.com/contentmesh/server/pkg/history"
)

// RedirectClient shadows an unreachable peer. It never talks to that peer
// directly; every call fans out to whichever peers activePeers() reports
// as Active right now and returns the first success (§4.6). This keeps
// audit/entity/content reads available for the whole cluster even when
// the DAO's membership list disagrees with what's actually reachable.
type RedirectClient struct {
	name        string
	activePeers func() []PeerClient
}

// NewRedirectClient returns a RedirectClient standing in for the peer
// named name. activePeers is called fresh on every method invocation, so
// it should return the cluster's current Active set, not a frozen copy.
func NewRedirectClient(name string, activePeers func() []PeerClient) *RedirectClient {
	return &RedirectClient{name: name, activePeers: activePeers}
}

func (r *RedirectClient) Name() string   { return r.name }
func (r *RedirectClient) IsActive() bool { return false }

// LastKnownTimestamp is always 0: a RedirectClient never advances a
// watermark of its own, so the Synchronizer must not treat its replies as
// authoritative for convergence bookkeeping.
func (r *RedirectClient) LastKnownTimestamp(string) int64 { return 0 }

// UpdateTimestamp is a no-op, by design (§4.6).
func (r *RedirectClient) UpdateTimestamp(string, int64) {}

// MinWatermark is always 0, for the same reason LastKnownTimestamp is: a
// RedirectClient keeps no watermarks of its own. The Synchronizer skips a
// shadowed peer entirely rather than asking it for a sync floor.
func (r *RedirectClient) MinWatermark() int64 { return 0 }

func (r *RedirectClient) GetHistory(ctx context.Context, from int64) ([]history.Event, error) {
	return fanOut(r.activePeers(), r.name, func(p PeerClient) ([]history.Event, error) {
		return p.GetHistory(ctx, from)
	})
}

func (r *RedirectClient) GetEntity(ctx context.Context, entityType entity.Type, entityID string) (*entity.Entity, error) {
	return fanOut(r.activePeers(), r.name, func(p PeerClient) (*entity.Entity, error) {
		return p.GetEntity(ctx, entityType, entityID)
	})
}

func (r *RedirectClient) GetAuditInfo(ctx context.Context, entityType entity.Type, entityID string) (*entity.AuditInfo, error) {
	return fanOut(r.activePeers(), r.name, func(p PeerClient) (*entity.AuditInfo, error) {
		return p.GetAuditInfo(ctx, entityType, entityID)
	})
}

func (r *RedirectClient) GetContent(ctx context.Context, hash string) ([]byte, error) {
	return fanOut(r.activePeers(), r.name, func(p PeerClient) ([]byte, error) {
		return p.GetContent(ctx, hash)
	})
}

// fanOut tries call against every active peer (skipping redirectedName
// itself, should it ever appear Active) and returns the first success.
func fanOut[T any](peers []PeerClient, redirectedName string, call func(PeerClient) (T, error)) (T, error) {
	var zero T
	var lastErr error
	tried := 0
	for _, p := range peers {
		if !p.IsActive() || p.Name() == redirectedName {
			continue
		}
		tried++
		v, err := call(p)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	if tried == 0 {
		return zero, fmt.Errorf("cluster: no active peer available to redirect for %s", redirectedName)
	}
	return zero, fmt.Errorf("cluster: all active peers failed redirecting for %s: %w", redirectedName, lastErr)
}
