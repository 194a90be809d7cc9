// Package faileddeploy implements the Failed-Deployment Registry (C7): a
// record of synced deployments this node could not apply, so the next
// sync sweep (not a timer) can retry them.
package faileddeploy

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"
)

// Reason is one of the three ways a synced deployment can fail locally
// (§4.4).
type Reason string

const (
	// ReasonNoEntityOrAudit means the source server could not return the
	// entity descriptor or its audit info.
	ReasonNoEntityOrAudit Reason = "NO_ENTITY_OR_AUDIT"
	// ReasonFetchFailed means content blobs referenced by the entity could
	// not be fetched.
	ReasonFetchFailed Reason = "FETCH_PROBLEM"
	// ReasonDeploymentError means local validation or storage failed once
	// the entity and its content were in hand.
	ReasonDeploymentError Reason = "DEPLOYMENT_ERROR"
)

// FailedDeployment is one entry in the registry.
type FailedDeployment struct {
	EntityID   string `json:"entityId"`
	EntityType string `json:"entityType"`
	Pointer    string `json:"pointer"`
	ServerName string `json:"serverName"` // origin server that offered this deployment
	Reason     Reason `json:"reason"`
	ErrorText  string `json:"errorText,omitempty"`
	FailedAt   int64  `json:"failedAt"` // ms since epoch, local receipt time
}

// Registry tracks failed deployments. It is a thin, JSON-file-backed
// store that rewrites the whole file on every change, like
// pkg/history.FileLedger — the two are small enough that a relational
// backend adds nothing a flat file doesn't already give this registry,
// so unlike History Manager, Failed-Deployment Registry does not take a
// HISTORY_BACKEND-style pluggable driver.
type Registry struct {
	path  string
	mu    sync.RWMutex
	data  map[string]FailedDeployment // entityId -> record
	clock func() time.Time
}

// NewRegistry loads (or creates) a Registry backed by path.
func NewRegistry(path string) (*Registry, error) {
	return NewRegistryWithClock(path, time.Now)
}

// NewRegistryWithClock is NewRegistry with an injectable clock.
func NewRegistryWithClock(path string, clock func() time.Time) (*Registry, error) {
	r := &Registry{path: path, data: make(map[string]FailedDeployment), clock: clock}
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

// Record adds or replaces the failure entry for entityID (a later sync
// sweep hitting the same failure overwrites the reason/error text, so
// the registry always reflects the most recent attempt).
func (r *Registry) Record(_ context.Context, entityID string, f FailedDeployment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f.EntityID = entityID
	f.FailedAt = r.clock().UnixMilli()
	r.data[entityID] = f
	return r.save()
}

// List returns every currently-failed deployment.
func (r *Registry) List(_ context.Context) ([]FailedDeployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]FailedDeployment, 0, len(r.data))
	for _, f := range r.data {
		out = append(out, f)
	}
	return out, nil
}

// GetStatus returns the failure record for entityID, if any.
func (r *Registry) GetStatus(_ context.Context, entityID string) (*FailedDeployment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.data[entityID]
	if !ok {
		return nil, false
	}
	return &f, true
}

// Clear removes entityID's failure record, called on a later successful
// deployment of the same entityId (§4.4).
func (r *Registry) Clear(_ context.Context, entityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[entityID]; !ok {
		return nil
	}
	delete(r.data, entityID)
	return r.save()
}
