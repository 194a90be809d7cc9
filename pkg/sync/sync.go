// Package sync implements the Synchronizer (C10): the periodic task that
// pulls new history from every Active peer and replays it through the
// deploy pipeline, so every honest node converges on the same pointer
// state (§4.7).
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/contentmesh/server/pkg/cluster"
	"github.com/contentmesh/server/pkg/deploy"
	"github.com/contentmesh/server/pkg/faileddeploy"
	"github.com/contentmesh/server/pkg/history"
	"github.com/contentmesh/server/pkg/storage"
)

// maxParallelPeers bounds how many peers a single tick fans out to at
// once (a bounded semaphore plus a WaitGroup). It is a small fixed
// constant since a tick's fan-out width is peers, not requests.
const maxParallelPeers = 8

// Synchronizer drives one Cluster's worth of peers on a ticker, replaying
// each peer's new history through deploy.Service.
type Synchronizer struct {
	cluster  *cluster.Cluster
	deploy   *deploy.Service
	failed   *faileddeploy.Registry
	store    storage.Store
	interval time.Duration
	logger   *slog.Logger
}

// Config bundles Synchronizer's dependencies.
type Config struct {
	Cluster  *cluster.Cluster
	Deploy   *deploy.Service
	Failed   *faileddeploy.Registry
	Store    storage.Store
	Interval time.Duration
	Logger   *slog.Logger
}

// New returns a Synchronizer from cfg.
func New(cfg Config) *Synchronizer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Synchronizer{
		cluster:  cfg.Cluster,
		deploy:   cfg.Deploy,
		failed:   cfg.Failed,
		store:    cfg.Store,
		interval: interval,
		logger:   logger,
	}
}

// Run drives Tick on cfg.Interval until ctx is canceled. A tick already
// in flight when ctx is canceled is allowed to finish its current event
// before Run returns, so lastKnownTimestamp is never advanced past a
// partially-applied event (§5 Cancellation).
func (s *Synchronizer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("sync tick failed", "error", err)
			}
		}
	}
}

// Tick runs the 6 steps of §4.7 once.
func (s *Synchronizer) Tick(ctx context.Context) error {
	if err := s.cluster.Refresh(ctx); err != nil {
		return fmt.Errorf("sync: refreshing peer set: %w", err)
	}

	peers := s.cluster.ActivePeers()
	sem := make(chan struct{}, maxParallelPeers)
	var wg sync.WaitGroup

	for _, p := range peers {
		wg.Add(1)
		go func(p cluster.PeerClient) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := s.syncPeer(ctx, p); err != nil {
				s.logger.Warn("sync: peer failed", "peer", p.Name(), "error", err)
			}
		}(p)
	}
	wg.Wait()
	return nil
}

// syncPeer runs steps 2-6 against a single Active peer.
func (s *Synchronizer) syncPeer(ctx context.Context, p cluster.PeerClient) error {
	from := p.MinWatermark()
	events, err := p.GetHistory(ctx, from)
	if err != nil {
		return fmt.Errorf("getHistory from %q: %w", p.Name(), err)
	}

	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e.Timestamp <= p.LastKnownTimestamp(e.ServerName) {
			continue // already caught up on this origin through this peer
		}
		if _, dup := seen[e.EntityID]; dup {
			continue // step 2: dedupe by entityId within this merged stream
		}
		seen[e.EntityID] = struct{}{}

		s.applyEvent(ctx, p, e)
	}
	return nil
}

// applyEvent runs steps 3-6 for one history event.
func (s *Synchronizer) applyEvent(ctx context.Context, p cluster.PeerClient, e history.Event) {
	// Step 3: fetch entity + auditInfo from p. A failed fetch is recorded
	// as NO_ENTITY_OR_AUDIT and the event is skipped; it is not retried
	// through a RedirectClient, and an ActiveClient has no such fallback.
	ent, err := p.GetEntity(ctx, e.EntityType, e.EntityID)
	if err != nil {
		s.recordFailure(ctx, e, p.Name(), faileddeploy.ReasonNoEntityOrAudit, err)
		return
	}
	audit, err := p.GetAuditInfo(ctx, e.EntityType, e.EntityID)
	if err != nil {
		s.recordFailure(ctx, e, p.Name(), faileddeploy.ReasonNoEntityOrAudit, err)
		return
	}

	// The entity file's own raw bytes live in the same content-addressed
	// namespace as everything else (§6 persisted layout: "entityId files
	// inside contents/ are also the canonical entity descriptor"). Unlike
	// a referenced content hash, this one is not optional: without it
	// there is nothing to hand the deploy pipeline, so a failure here
	// skips the whole event rather than degrading to a FETCH_PROBLEM.
	entityRaw, err := p.GetContent(ctx, e.EntityID)
	if err != nil {
		s.recordFailure(ctx, e, p.Name(), faileddeploy.ReasonNoEntityOrAudit, err)
		return
	}
	files := map[string][]byte{"entity.json": entityRaw}

	// Step 4: fetch every other referenced content hash not already
	// stored. A failure here is recorded but does not stop the event:
	// the entity and its pointer still need to land so the rest of the
	// cluster converges; the missing bytes are retried on a later tick
	// once GetContent for that hash starts succeeding (S6).
	contentIncomplete := false
	for name, hash := range ent.Content {
		if hash == e.EntityID {
			continue
		}
		exists, err := s.store.Exists(ctx, storage.Contents, hash)
		if err != nil {
			s.recordFailure(ctx, e, p.Name(), faileddeploy.ReasonFetchFailed, err)
			contentIncomplete = true
			continue
		}
		if exists {
			continue
		}
		data, err := p.GetContent(ctx, hash)
		if err != nil {
			s.recordFailure(ctx, e, p.Name(), faileddeploy.ReasonFetchFailed, fmt.Errorf("%s: %w", name, err))
			contentIncomplete = true
			continue
		}
		files[hash] = data
	}

	// Step 5: replay through the deploy pipeline, the origin's own
	// timestamp carried verbatim rather than recomputed. The Synchronizer
	// does not re-run validation predicates: the origin server already
	// validated this deployment once, and re-verifying signatures for
	// every replayed event buys nothing but latency. Skipping validation
	// here is also what lets a content-incomplete event still commit its
	// pointer (S6): the CONTENT predicate would otherwise reject a
	// referenced-but-missing hash outright.
	explicit := e.Timestamp
	_, err = s.deploy.Deploy(ctx, deploy.Request{
		Files:                  files,
		ClaimedEntityID:        e.EntityID,
		AuthChain:              audit.AuthChain,
		Version:                audit.Version,
		MigrationData:          audit.MigrationData,
		ServerName:             e.ServerName,
		ExplicitTimestamp:      &explicit,
		CheckFreshness:         false,
		IgnoreValidationErrors: true,
	})
	if err != nil {
		s.recordFailure(ctx, e, p.Name(), faileddeploy.ReasonDeploymentError, err)
		return
	}
	if contentIncomplete {
		// deploy.Service just cleared this entity's failure record as
		// part of a successful commit (its own redeploy-clears-failure
		// rule); reinstate FETCH_PROBLEM so GetContent on the missing
		// hash keeps 404ing and the registry still reflects reality
		// until a later tick fetches the rest (S6).
		s.recordFailure(ctx, e, p.Name(), faileddeploy.ReasonFetchFailed, fmt.Errorf("entity %s committed with incomplete content", e.EntityID))
	}

	// Step 6.
	p.UpdateTimestamp(e.ServerName, e.Timestamp)
}

func (s *Synchronizer) recordFailure(ctx context.Context, e history.Event, peerName string, reason faileddeploy.Reason, err error) {
	if s.failed == nil {
		return
	}
	ferr := s.failed.Record(ctx, e.EntityID, faileddeploy.FailedDeployment{
		EntityType: string(e.EntityType),
		ServerName: peerName,
		Reason:     reason,
		ErrorText:  err.Error(),
	})
	if ferr != nil {
		s.logger.Error("sync: recording failed deployment", "entity_id", e.EntityID, "error", ferr)
	}
}
