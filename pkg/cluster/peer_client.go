// Package cluster implements the Cluster & DAO Client (C9): resolving the
// current set of peer content servers and exposing each as either an
// Active client (reachable, its own watermark) or a Redirect client
// (unreachable, fans out to whoever is Active) behind one interface.
package cluster

import (
	"context"

	"github.com/contentmesh/server/pkg/entity"
	"github.com/contentmesh/server/pkg/history"
)

// PeerClient is the tagged-union interface ActiveClient and RedirectClient
// both satisfy (§9 redesign hint: tagged variants, not a subclass
// hierarchy). The Synchronizer (C10) only ever talks to this interface.
type PeerClient interface {
	// Name is the peer's server name, as reported by the DAO.
	Name() string

	// IsActive reports whether this client talks to the peer directly.
	// False for a RedirectClient, which fans out instead.
	IsActive() bool

	// LastKnownTimestamp returns the high-water mark recorded for events
	// originating from originServer, as last seen through this peer.
	// Always 0 for a RedirectClient, which never advances a watermark.
	LastKnownTimestamp(originServer string) int64

	// UpdateTimestamp advances the watermark for originServer to t, if t
	// is newer than what's recorded. A no-op on a RedirectClient.
	UpdateTimestamp(originServer string, t int64)

	// MinWatermark returns the lowest watermark recorded across every
	// origin server seen through this peer, or 0 if none yet. Always 0
	// for a RedirectClient.
	MinWatermark() int64

	// GetHistory returns history events this peer has recorded with a
	// timestamp at or after from (inclusive), oldest first.
	GetHistory(ctx context.Context, from int64) ([]history.Event, error)

	// GetEntity fetches the entity descriptor for entityID.
	GetEntity(ctx context.Context, entityType entity.Type, entityID string) (*entity.Entity, error)

	// GetAuditInfo fetches the AuditInfo recorded for entityID.
	GetAuditInfo(ctx context.Context, entityType entity.Type, entityID string) (*entity.AuditInfo, error)

	// GetContent fetches the raw bytes stored under hash.
	GetContent(ctx context.Context, hash string) ([]byte, error)
}
