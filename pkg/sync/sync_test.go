package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/contentmesh/server/pkg/cluster"
	"github.com/contentmesh/server/pkg/config"
	"github.com/contentmesh/server/pkg/contenthash"
	"github.com/contentmesh/server/pkg/deploy"
	"github.com/contentmesh/server/pkg/entity"
	"github.com/contentmesh/server/pkg/faileddeploy"
	"github.com/contentmesh/server/pkg/history"
	"github.com/contentmesh/server/pkg/pointer"
	"github.com/contentmesh/server/pkg/storage"
	"github.com/contentmesh/server/pkg/validation"
	"github.com/stretchr/testify/require"
)

// fakePeer is a hand-rolled cluster.PeerClient for driving syncPeer/
// applyEvent without a real HTTP peer or DAO. Each Get* is a canned
// response keyed by the argument it was called with; a call counter
// lets tests assert how many times something was actually fetched.
type fakePeer struct {
	mu sync.Mutex

	name       string
	watermarks map[string]int64

	history []history.Event

	entities   map[string]*entity.Entity
	audits     map[string]*entity.AuditInfo
	content    map[string][]byte
	contentErr map[string]error

	getEntityCalls int
}

func newFakePeer(name string) *fakePeer {
	return &fakePeer{
		name:       name,
		watermarks: make(map[string]int64),
		entities:   make(map[string]*entity.Entity),
		audits:     make(map[string]*entity.AuditInfo),
		content:    make(map[string][]byte),
		contentErr: make(map[string]error),
	}
}

func (f *fakePeer) Name() string   { return f.name }
func (f *fakePeer) IsActive() bool { return true }

func (f *fakePeer) LastKnownTimestamp(origin string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watermarks[origin]
}

func (f *fakePeer) UpdateTimestamp(origin string, t int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t > f.watermarks[origin] {
		f.watermarks[origin] = t
	}
}

func (f *fakePeer) MinWatermark() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var min int64
	first := true
	for _, t := range f.watermarks {
		if first || t < min {
			min = t
			first = false
		}
	}
	return min
}

func (f *fakePeer) GetHistory(context.Context, int64) ([]history.Event, error) {
	return f.history, nil
}

func (f *fakePeer) GetEntity(_ context.Context, _ entity.Type, id string) (*entity.Entity, error) {
	f.mu.Lock()
	f.getEntityCalls++
	f.mu.Unlock()
	e, ok := f.entities[id]
	if !ok {
		return nil, fmt.Errorf("fakePeer %s: no entity %s", f.name, id)
	}
	return e, nil
}

func (f *fakePeer) GetAuditInfo(_ context.Context, _ entity.Type, id string) (*entity.AuditInfo, error) {
	a, ok := f.audits[id]
	if !ok {
		return nil, fmt.Errorf("fakePeer %s: no audit for %s", f.name, id)
	}
	return a, nil
}

func (f *fakePeer) GetContent(_ context.Context, hash string) ([]byte, error) {
	if err, ok := f.contentErr[hash]; ok {
		return nil, err
	}
	data, ok := f.content[hash]
	if !ok {
		return nil, fmt.Errorf("fakePeer %s: no content %s", f.name, hash)
	}
	return data, nil
}

var _ cluster.PeerClient = (*fakePeer)(nil)

type wireEntity struct {
	Type      entity.Type       `json:"type"`
	Pointers  []string          `json:"pointers"`
	Timestamp int64             `json:"timestamp"`
	Content   map[string]string `json:"content"`
}

func mustMarshal(t *testing.T, we wireEntity) []byte {
	t.Helper()
	raw, err := json.Marshal(we)
	require.NoError(t, err)
	return raw
}

type fakeExternal struct{}

func (fakeExternal) IsContentStoredAlready(context.Context, string) (bool, error) { return false, nil }
func (fakeExternal) FetchOverlappingDeployments(context.Context, entity.Type, []string) ([]*entity.AuditInfo, error) {
	return nil, nil
}
func (fakeExternal) AccessCheck(context.Context, entity.Type, string, string) error { return nil }

var _ validation.External = fakeExternal{}

func newTestSynchronizer(t *testing.T) (*Synchronizer, *deploy.Service, *faileddeploy.Registry) {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.NewFileStore(filepath.Join(dir, "storage"))
	require.NoError(t, err)
	ledger, err := history.NewFileLedger(filepath.Join(dir, "history.json"), 10*time.Minute)
	require.NoError(t, err)
	failed, err := faileddeploy.NewRegistry(filepath.Join(dir, "failed.json"))
	require.NoError(t, err)

	svc := deploy.NewService(deploy.Config{
		Store:    store,
		Pointers: pointer.NewManager(),
		Ledger:   ledger,
		Failed:   failed,
		Env: &config.Environment{
			ServerName:             "local",
			MaxUploadSizePerTypeMB: map[string]float64{"*": 100},
		},
		External: fakeExternal{},
	})

	s := New(Config{Deploy: svc, Failed: failed, Store: store, Interval: time.Second})
	return s, svc, failed
}

func TestSyncPeerAppliesNewEventAndAdvancesWatermark(t *testing.T) {
	s, svc, _ := newTestSynchronizer(t)
	peer := newFakePeer("peer-a")

	raw := mustMarshal(t, wireEntity{Type: "scene", Pointers: []string{"0,0"}, Timestamp: 1000, Content: map[string]string{}})
	id := contenthash.Hash(raw)
	e, err := entity.Parse(raw)
	require.NoError(t, err)

	peer.entities[id] = e
	peer.audits[id] = &entity.AuditInfo{Version: "1.0.0"}
	peer.content[id] = raw
	peer.history = []history.Event{{ServerName: "origin-1", EntityID: id, EntityType: "scene", Timestamp: 1000}}

	err = s.syncPeer(context.Background(), peer)
	require.NoError(t, err)

	active, ok := svc.CachedEntity(id)
	require.True(t, ok)
	require.Equal(t, id, active.ID)
	require.Equal(t, int64(1000), peer.LastKnownTimestamp("origin-1"))
}

func TestSyncPeerSkipsAlreadyCaughtUpEvent(t *testing.T) {
	s, _, _ := newTestSynchronizer(t)
	peer := newFakePeer("peer-a")
	peer.UpdateTimestamp("origin-1", 5000)
	peer.history = []history.Event{{ServerName: "origin-1", EntityID: "bOLD", EntityType: "scene", Timestamp: 1000}}

	err := s.syncPeer(context.Background(), peer)
	require.NoError(t, err)
	require.Zero(t, peer.getEntityCalls, "an event already at or below the watermark must never be fetched")
}

func TestSyncPeerDedupesByEntityID(t *testing.T) {
	s, _, _ := newTestSynchronizer(t)
	peer := newFakePeer("peer-a")

	raw := mustMarshal(t, wireEntity{Type: "scene", Pointers: []string{"0,0"}, Timestamp: 1000, Content: map[string]string{}})
	id := contenthash.Hash(raw)
	e, err := entity.Parse(raw)
	require.NoError(t, err)
	peer.entities[id] = e
	peer.audits[id] = &entity.AuditInfo{Version: "1.0.0"}
	peer.content[id] = raw
	peer.history = []history.Event{
		{ServerName: "origin-1", EntityID: id, EntityType: "scene", Timestamp: 1000},
		{ServerName: "origin-1", EntityID: id, EntityType: "scene", Timestamp: 1000},
	}

	err = s.syncPeer(context.Background(), peer)
	require.NoError(t, err)
	require.Equal(t, 1, peer.getEntityCalls)
}

func TestApplyEventRecordsNoEntityOrAuditOnEntityFetchFailure(t *testing.T) {
	s, svc, failed := newTestSynchronizer(t)
	peer := newFakePeer("peer-a")
	evt := history.Event{ServerName: "origin-1", EntityID: "bMISSING", EntityType: "scene", Timestamp: 1000}

	s.applyEvent(context.Background(), peer, evt)

	status, ok := failed.GetStatus(context.Background(), "bMISSING")
	require.True(t, ok)
	require.Equal(t, faileddeploy.ReasonNoEntityOrAudit, status.Reason)

	_, ok = svc.CachedEntity("bMISSING")
	require.False(t, ok)
}

func TestApplyEventCommitsWithIncompleteContentAndReinstatesFailure(t *testing.T) {
	s, svc, failed := newTestSynchronizer(t)
	peer := newFakePeer("peer-a")

	missingHash := contenthash.Hash([]byte("unreachable content"))
	raw := mustMarshal(t, wireEntity{
		Type: "scene", Pointers: []string{"0,0"}, Timestamp: 1000,
		Content: map[string]string{"file.txt": missingHash},
	})
	id := contenthash.Hash(raw)
	e, err := entity.Parse(raw)
	require.NoError(t, err)

	peer.entities[id] = e
	peer.audits[id] = &entity.AuditInfo{Version: "1.0.0"}
	peer.content[id] = raw
	peer.contentErr[missingHash] = fmt.Errorf("peer does not have this content")

	evt := history.Event{ServerName: "origin-1", EntityID: id, EntityType: "scene", Timestamp: 1000}
	s.applyEvent(context.Background(), peer, evt)

	// S6: the pointer still lands despite the missing content.
	active, ok := svc.CachedEntity(id)
	require.True(t, ok)
	require.Equal(t, id, active.ID)

	status, ok := failed.GetStatus(context.Background(), id)
	require.True(t, ok, "the FETCH_PROBLEM record must survive the successful commit")
	require.Equal(t, faileddeploy.ReasonFetchFailed, status.Reason)

	require.Equal(t, int64(1000), peer.LastKnownTimestamp("origin-1"), "watermark still advances once the pointer has committed")
}

func TestApplyEventDoesNotAdvanceWatermarkOnDeploymentError(t *testing.T) {
	s, _, failed := newTestSynchronizer(t)
	peer := newFakePeer("peer-a")

	// an entity.json that fails to parse (no pointers) makes the deploy
	// pipeline itself reject the event, independent of validation.
	raw := mustMarshal(t, wireEntity{Type: "scene", Pointers: nil, Timestamp: 1000, Content: map[string]string{}})
	id := contenthash.Hash(raw)
	peer.entities[id] = &entity.Entity{ID: id, Type: "scene"}
	peer.audits[id] = &entity.AuditInfo{Version: "1.0.0"}
	peer.content[id] = raw

	evt := history.Event{ServerName: "origin-1", EntityID: id, EntityType: "scene", Timestamp: 1000}
	s.applyEvent(context.Background(), peer, evt)

	status, ok := failed.GetStatus(context.Background(), id)
	require.True(t, ok)
	require.Equal(t, faileddeploy.ReasonDeploymentError, status.Reason)
	require.Zero(t, peer.LastKnownTimestamp("origin-1"))
}
