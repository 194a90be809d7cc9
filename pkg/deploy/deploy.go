// Package deploy implements the Service / Deploy Orchestrator (C8): the
// single mutation path for the whole server. Every pointer commit and
// every history event, local or synced, passes through Deploy.
package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/contentmesh/server/pkg/analytics"
	"github.com/contentmesh/server/pkg/config"
	"github.com/contentmesh/server/pkg/contenthash"
	"github.com/contentmesh/server/pkg/entity"
	"github.com/contentmesh/server/pkg/faileddeploy"
	"github.com/contentmesh/server/pkg/history"
	"github.com/contentmesh/server/pkg/pointer"
	"github.com/contentmesh/server/pkg/storage"
	"github.com/contentmesh/server/pkg/telemetry"
	"github.com/contentmesh/server/pkg/validation"
	"go.opentelemetry.io/otel/trace"
)

// Request is one call into Deploy: everything the pipeline needs from a
// local client upload or a Synchronizer replay.
type Request struct {
	// Files maps upload part name -> raw bytes. Must contain "entity.json".
	// Map keys are unique by construction, which resolves the "fail if
	// zero or more than one entity.json part" wording for a Go map: the
	// zero case is checked explicitly, the "more than one" case cannot
	// arise once parts are collected into this map.
	Files map[string][]byte

	ClaimedEntityID string
	AuthChain       []entity.AuthLink
	EthAddress      string
	Version         string
	MigrationData   *entity.MigrationData

	// ServerName identifies the origin of a synced deployment. Empty on
	// the local path, where the server's own name is used instead.
	ServerName string

	// ExplicitTimestamp, if set, is used verbatim as the deployment
	// timestamp (the Synchronizer path, §4.5 step 9). Nil on the local
	// path, where deploymentTimestamp is now().
	ExplicitTimestamp *int64

	// CheckFreshness enables the local-only stale-write guard (§4.5 step
	// 5). The Synchronizer always passes false: it is replaying the
	// canonical order, so a local staleness check would reject valid
	// history.
	CheckFreshness bool

	// IgnoreValidationErrors is set by the Synchronizer for every synced
	// event: the origin server already validated the deployment once,
	// and tolerating a CONTENT predicate failure here is what lets a
	// pointer commit land before every referenced content hash has
	// actually been fetched (§4.7 step 4, §8 scenario S6). Not exposed
	// over HTTP; local client uploads always validate.
	IgnoreValidationErrors bool
}

// Result is Deploy's successful outcome.
type Result struct {
	DeploymentTimestamp int64
	EntitiesDeleted     []string
}

// ValidationError reports every predicate failure collected in step 4.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Errors, "; ")
}

// Service owns the deploy pipeline. It is the only mutator of Pointer
// Manager and History Manager state in the process (§5).
type Service struct {
	store     storage.Store
	pointers  *pointer.Manager
	ledger    history.Ledger
	failed    *faileddeploy.Registry
	env       *config.Environment
	external  validation.External
	analytics analytics.Sink
	telemetry *telemetry.Provider
	cache     *entityCache
	now       func() time.Time

	typeLocksMu sync.Mutex
	typeLocks   map[entity.Type]*sync.Mutex
}

// Config bundles Service's dependencies.
type Config struct {
	Store     storage.Store
	Pointers  *pointer.Manager
	Ledger    history.Ledger
	Failed    *faileddeploy.Registry
	Env       *config.Environment
	External  validation.External
	Analytics analytics.Sink
	Telemetry *telemetry.Provider
	CacheSize int
}

// NewService wires a Service from cfg.
func NewService(cfg Config) *Service {
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	sink := cfg.Analytics
	if sink == nil {
		sink = analytics.Discard{}
	}
	return &Service{
		store:     cfg.Store,
		pointers:  cfg.Pointers,
		ledger:    cfg.Ledger,
		failed:    cfg.Failed,
		env:       cfg.Env,
		external:  cfg.External,
		analytics: sink,
		telemetry: cfg.Telemetry,
		cache:     newEntityCache(cacheSize),
		now:       time.Now,
		typeLocks: make(map[entity.Type]*sync.Mutex),
	}
}

// Deploy runs the full 13-step pipeline (§4.5).
func (s *Service) Deploy(ctx context.Context, req Request) (Result, error) {
	synced := req.ServerName != ""
	ctx, finish := s.telemetry.TrackDeploy(ctx, telemetry.DeployAttrs("", req.ServerName, synced)...)
	var pipelineErr error
	defer func() { finish(pipelineErr) }()

	result, err := s.deploy(ctx, req)
	pipelineErr = err
	return result, err
}

func (s *Service) deploy(ctx context.Context, req Request) (Result, error) {
	// Steps 1-2: locate entity.json and verify its claimed id.
	entityRaw, ok := req.Files["entity.json"]
	if !ok {
		return Result{}, fmt.Errorf("deploy: request contains no file named entity.json")
	}
	computedID := contenthash.Hash(entityRaw)
	if req.ClaimedEntityID != "" && computedID != req.ClaimedEntityID {
		return Result{}, fmt.Errorf("deploy: claimed entityId %q does not match hash(entity.json) %q", req.ClaimedEntityID, computedID)
	}

	// Step 3: parse.
	e, err := entity.Parse(entityRaw)
	if err != nil {
		return Result{}, fmt.Errorf("deploy: %w", err)
	}
	trace.SpanFromContext(ctx).SetAttributes(telemetry.AttrEntityID.String(e.ID), telemetry.AttrEntityType.String(string(e.Type)))

	// Step 6 (hashing) is done ahead of validation so CONTENT can see the
	// same hash-keyed file map validation and storage both operate on.
	contentFiles := make(map[string][]byte, len(req.Files))
	for name, data := range req.Files {
		if name == "entity.json" {
			continue
		}
		contentFiles[contenthash.Hash(data)] = data
	}

	audit := &entity.AuditInfo{
		Version:       req.Version,
		AuthChain:     req.AuthChain,
		MigrationData: req.MigrationData,
	}

	// Step 4: validation predicates.
	valErrs := validation.All(ctx, validation.Args{
		Deployment: validation.Deployment{
			Entity:     e,
			Audit:      audit,
			EthAddress: req.EthAddress,
			Files:      contentFiles,
		},
		Env:      s.env,
		External: s.external,
		Now:      s.now().UnixMilli(),
	})
	if len(valErrs) > 0 {
		if !req.IgnoreValidationErrors {
			return Result{}, &ValidationError{Errors: valErrs}
		}
		s.telemetry.Logger().Warn("deploy: ignoring validation errors on synced event",
			"entity_id", e.ID, "errors", valErrs)
	}

	// Step 5: freshness check, local path only.
	if req.CheckFreshness {
		if err := s.checkFreshness(e); err != nil {
			return Result{}, err
		}
	}

	// Step 7: pointer commit. Mutation serializes per entity type so
	// Pointer Manager observes a total order (§5).
	mu := s.lockFor(e.Type)
	mu.Lock()
	defer mu.Unlock()

	commit := s.pointers.TryToCommit(e)
	s.cache.Evict(commit.EntitiesDeleted)

	// Step 8: persist content.
	if commit.CouldCommit {
		for hash, data := range contentFiles {
			exists, err := s.store.Exists(ctx, storage.Contents, hash)
			if err != nil {
				return Result{}, fmt.Errorf("deploy: checking existing content %s: %w", hash, err)
			}
			if exists {
				continue
			}
			if err := s.store.Put(ctx, storage.Contents, hash, data); err != nil {
				return Result{}, fmt.Errorf("deploy: storing content %s: %w", hash, err)
			}
		}
	}
	if err := s.store.Put(ctx, storage.Contents, e.ID, entityRaw); err != nil {
		return Result{}, fmt.Errorf("deploy: storing entity file: %w", err)
	}

	// Step 9: deployment timestamp.
	deploymentTimestamp := s.now().UnixMilli()
	if req.ExplicitTimestamp != nil {
		deploymentTimestamp = *req.ExplicitTimestamp
	}
	audit.DeployedTimestamp = deploymentTimestamp
	audit.LocalTimestamp = s.now().UnixMilli()

	// Step 10: persist AuditInfo.
	auditBytes, err := json.Marshal(audit)
	if err != nil {
		return Result{}, fmt.Errorf("deploy: marshaling audit info: %w", err)
	}
	if err := s.store.Put(ctx, storage.Proofs, e.ID, auditBytes); err != nil {
		return Result{}, fmt.Errorf("deploy: storing audit info: %w", err)
	}

	// Step 11: append history. The ledger orders by (entity.Timestamp,
	// entityId), the same key Pointer Manager already committed against,
	// so replaying history on another node reproduces the same pointer
	// state (§8 invariant 1-2). deploymentTimestamp is separate audit
	// bookkeeping (server receipt/replay time), not the ordering key.
	serverName := req.ServerName
	if serverName == "" {
		serverName = s.env.ServerName
	}
	if err := s.ledger.Append(ctx, history.Event{
		ServerName: serverName,
		EntityID:   e.ID,
		EntityType: e.Type,
		Timestamp:  e.Timestamp,
	}); err != nil {
		return Result{}, fmt.Errorf("deploy: appending history: %w", err)
	}

	s.cache.Put(e.ID, e)
	if s.failed != nil {
		_ = s.failed.Clear(ctx, e.ID)
	}

	// Step 12: fire-and-forget analytics.
	s.analytics.Record(analytics.Event{
		EntityID:   e.ID,
		EntityType: e.Type,
		ServerName: serverName,
		Timestamp:  deploymentTimestamp,
		Synced:     req.ServerName != "",
	})

	// Step 13.
	return Result{DeploymentTimestamp: deploymentTimestamp, EntitiesDeleted: commit.EntitiesDeleted}, nil
}

// checkFreshness rejects a local submission that is already strictly
// older than the entity currently active on one of its own pointers
// (§4.5 step 5). It is a fast pre-check; the authoritative tie-break
// still runs inside Pointer Manager's TryToCommit.
func (s *Service) checkFreshness(e *entity.Entity) error {
	for _, p := range e.Pointers {
		activeID, ok := s.pointers.ActiveEntity(e.Type, p)
		if !ok || activeID == e.ID {
			continue
		}
		ts, ok := s.pointers.Timestamp(activeID)
		if ok && ts > e.Timestamp {
			return fmt.Errorf("deploy: pointer %q already has a newer entity %s (timestamp %d > %d)", p, activeID, ts, e.Timestamp)
		}
	}
	return nil
}

func (s *Service) lockFor(t entity.Type) *sync.Mutex {
	s.typeLocksMu.Lock()
	defer s.typeLocksMu.Unlock()
	l, ok := s.typeLocks[t]
	if !ok {
		l = &sync.Mutex{}
		s.typeLocks[t] = l
	}
	return l
}

// CachedEntity returns e from the in-memory cache, if present.
func (s *Service) CachedEntity(id string) (*entity.Entity, bool) {
	return s.cache.Get(id)
}
