// Package history implements the History Manager (C6): the append-only
// event ledger totally ordered by (timestamp, entityId), and the
// immutable-time watermark that bounds how far a late-arriving synced
// event may still rewrite pointer state.
package history

import (
	"context"
	"sort"
	"time"

	"github.com/contentmesh/server/pkg/entity"
)

// Event is one deployment record in the ledger (§3: HistoryEvent).
type Event struct {
	ServerName string      `json:"serverName"`
	EntityID   string      `json:"entityId"`
	EntityType entity.Type `json:"entityType"`
	Timestamp  int64       `json:"timestamp"` // ms since epoch
}

// Before implements the ledger's total order: (timestamp, entityId).
func (e Event) Before(other Event) bool {
	if e.Timestamp != other.Timestamp {
		return e.Timestamp < other.Timestamp
	}
	return e.EntityID < other.EntityID
}

// Filter narrows GetHistory to a time window and/or origin server. Zero
// values mean "unbounded".
type Filter struct {
	From       int64
	To         int64
	ServerName string
}

// Ledger is the append-only, totally-ordered event log every backend
// (file, sqlite, postgres) implements identically.
type Ledger interface {
	// Append records event, idempotently: a duplicate entityId is
	// silently ignored (§4.3).
	Append(ctx context.Context, event Event) error
	// GetHistory returns events in (timestamp, entityId) order, optionally
	// filtered.
	GetHistory(ctx context.Context, filter Filter) ([]Event, error)
	// ImmutableTime returns T_imm: now() - Δ_imm, capped at the latest
	// recorded event timestamp (0 for an empty ledger) (§3, §4.3).
	ImmutableTime(ctx context.Context) (int64, error)
}

// sortEvents orders events by the ledger's total order, in place.
func sortEvents(events []Event) {
	sort.Slice(events, func(i, j int) bool { return events[i].Before(events[j]) })
}

func matchesFilter(e Event, f Filter) bool {
	if f.From != 0 && e.Timestamp < f.From {
		return false
	}
	if f.To != 0 && e.Timestamp > f.To {
		return false
	}
	if f.ServerName != "" && e.ServerName != f.ServerName {
		return false
	}
	return true
}

// immutableTimeFrom computes T_imm given the latest recorded event
// timestamp, the immutable-time delta, and the current wall clock: the
// greatest timestamp at or below latest such that timestamp+delta <= now.
func immutableTimeFrom(latest int64, delta time.Duration, now time.Time) int64 {
	bound := now.Add(-delta).UnixMilli()
	if latest < bound {
		return latest
	}
	return bound
}
