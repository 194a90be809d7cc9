package validation

import (
	"context"
	"testing"
	"time"

	"github.com/contentmesh/server/pkg/config"
	"github.com/contentmesh/server/pkg/contenthash"
	"github.com/contentmesh/server/pkg/entity"
	"github.com/stretchr/testify/require"
)

type fakeExternal struct {
	stored      map[string]bool
	overlapping []*entity.AuditInfo
	accessErr   error
}

func (f *fakeExternal) IsContentStoredAlready(_ context.Context, hash string) (bool, error) {
	return f.stored[hash], nil
}

func (f *fakeExternal) FetchOverlappingDeployments(_ context.Context, _ entity.Type, _ []string) ([]*entity.AuditInfo, error) {
	return f.overlapping, nil
}

func (f *fakeExternal) AccessCheck(_ context.Context, _ entity.Type, _, _ string) error {
	return f.accessErr
}

func testEnv() *config.Environment {
	return &config.Environment{
		RequestTTLBackwards:    10 * time.Minute,
		RequestTTLForwards:     5 * time.Minute,
		MaxUploadSizePerTypeMB: map[string]float64{"*": 50},
	}
}

func TestRecentAcceptsWithinWindow(t *testing.T) {
	now := int64(1_000_000)
	e := &entity.Entity{Timestamp: now - 1000}
	errs := Recent(context.Background(), Args{Deployment: Deployment{Entity: e}, Env: testEnv(), Now: now})
	require.Empty(t, errs)
}

func TestRecentRejectsTooOld(t *testing.T) {
	now := int64(1_000_000)
	e := &entity.Entity{Timestamp: now - (20 * time.Minute).Milliseconds()}
	errs := Recent(context.Background(), Args{Deployment: Deployment{Entity: e}, Env: testEnv(), Now: now})
	require.Len(t, errs, 1)
	require.Contains(t, errs[0], "The request is not recent enough")
}

func TestRecentRejectsTooFarInFuture(t *testing.T) {
	now := int64(1_000_000)
	e := &entity.Entity{Timestamp: now + (10 * time.Minute).Milliseconds()}
	errs := Recent(context.Background(), Args{Deployment: Deployment{Entity: e}, Env: testEnv(), Now: now})
	require.Len(t, errs, 1)
	require.Contains(t, errs[0], "The request is not recent enough")
}

func TestIPFSHashingRejectsInvalidHashes(t *testing.T) {
	e := &entity.Entity{ID: "not-a-cid", Content: map[string]string{"a.png": "also-not-a-cid"}}
	errs := IPFSHashing(context.Background(), Args{Deployment: Deployment{Entity: e}})
	require.Len(t, errs, 2)
}

func TestIPFSHashingAcceptsValidHashes(t *testing.T) {
	validHash := contenthash.Hash([]byte("x"))
	e := &entity.Entity{ID: contenthash.Hash([]byte("entity")), Content: map[string]string{"a.png": validHash}}
	errs := IPFSHashing(context.Background(), Args{Deployment: Deployment{Entity: e}})
	require.Empty(t, errs)
}

func TestContentRejectsUnuploadedUnstoredHash(t *testing.T) {
	e := &entity.Entity{ID: "bSELF", Content: map[string]string{"a.png": "bMISSING"}}
	ext := &fakeExternal{stored: map[string]bool{}}
	errs := Content(context.Background(), Args{
		Deployment: Deployment{Entity: e, Files: map[string][]byte{}},
		External:   ext,
	})
	require.Len(t, errs, 1)
	require.Equal(t, "This hash is referenced in the entity but was not uploaded or previously available: bMISSING", errs[0])
}

func TestContentAcceptsAlreadyStoredHash(t *testing.T) {
	e := &entity.Entity{ID: "bSELF", Content: map[string]string{"a.png": "bKNOWN"}}
	ext := &fakeExternal{stored: map[string]bool{"bKNOWN": true}}
	errs := Content(context.Background(), Args{
		Deployment: Deployment{Entity: e, Files: map[string][]byte{}},
		External:   ext,
	})
	require.Empty(t, errs)
}

func TestContentRejectsOrphanUpload(t *testing.T) {
	e := &entity.Entity{ID: "bSELF", Content: map[string]string{}}
	ext := &fakeExternal{stored: map[string]bool{}}
	errs := Content(context.Background(), Args{
		Deployment: Deployment{Entity: e, Files: map[string][]byte{"bORPHAN": []byte("x")}},
		External:   ext,
	})
	require.Len(t, errs, 1)
	require.Equal(t, "This hash was uploaded but is not referenced in the entity: bORPHAN", errs[0])
}

func TestRequestSizeV3RejectsOverBudget(t *testing.T) {
	e := &entity.Entity{Type: "scene", Pointers: []string{"0,0"}}
	bigFile := make([]byte, 60*1024*1024)
	errs := RequestSizeV3(context.Background(), Args{
		Deployment: Deployment{Entity: e, Files: map[string][]byte{"b1": bigFile}},
		Env:        testEnv(),
	})
	require.Len(t, errs, 1)
}

func TestRequestSizeV3AcceptsWithinBudget(t *testing.T) {
	e := &entity.Entity{Type: "scene", Pointers: []string{"0,0", "0,1"}}
	smallFile := make([]byte, 1024)
	errs := RequestSizeV3(context.Background(), Args{
		Deployment: Deployment{Entity: e, Files: map[string][]byte{"b1": smallFile}},
		Env:        testEnv(),
	})
	require.Empty(t, errs)
}

func TestSignatureRejectsEmptyChain(t *testing.T) {
	e := &entity.Entity{ID: "bENTITY"}
	errs := Signature(context.Background(), Args{
		Deployment: Deployment{Entity: e, Audit: &entity.AuditInfo{}},
	})
	require.Len(t, errs, 1)
	require.Equal(t, "the signature is invalid", errs[0])
}

func TestLegacyEntitySkippedWithoutMigrationData(t *testing.T) {
	errs := LegacyEntity(context.Background(), Args{
		Deployment: Deployment{Entity: &entity.Entity{}, Audit: &entity.AuditInfo{}},
	})
	require.Empty(t, errs)
}

func TestLegacyEntityRejectsNewerOverlap(t *testing.T) {
	audit := &entity.AuditInfo{
		Version:       "1.0.0",
		MigrationData: &entity.MigrationData{OriginalVersion: "0.5.0"},
	}
	ext := &fakeExternal{overlapping: []*entity.AuditInfo{{Version: "2.0.0"}}}
	errs := LegacyEntity(context.Background(), Args{
		Deployment: Deployment{Entity: &entity.Entity{Pointers: []string{"0,0"}}, Audit: audit},
		Env:        &config.Environment{AllowLegacyEntities: true},
		External:   ext,
	})
	require.Len(t, errs, 1)
}

func TestLegacyEntityAllowsOlderNonLegacyOverlap(t *testing.T) {
	audit := &entity.AuditInfo{
		Version:       "1.0.0",
		MigrationData: &entity.MigrationData{OriginalVersion: "0.5.0"},
	}
	ext := &fakeExternal{overlapping: []*entity.AuditInfo{{Version: "0.3.0"}}}
	errs := LegacyEntity(context.Background(), Args{
		Deployment: Deployment{Entity: &entity.Entity{Pointers: []string{"0,0"}}, Audit: audit},
		Env:        &config.Environment{AllowLegacyEntities: true},
		External:   ext,
	})
	require.Empty(t, errs)
}

func TestLegacyEntityRejectedWhenDisabledByConfig(t *testing.T) {
	audit := &entity.AuditInfo{
		Version:       "1.0.0",
		MigrationData: &entity.MigrationData{OriginalVersion: "0.5.0"},
	}
	errs := LegacyEntity(context.Background(), Args{
		Deployment: Deployment{Entity: &entity.Entity{Pointers: []string{"0,0"}}, Audit: audit},
		Env:        &config.Environment{AllowLegacyEntities: false},
	})
	require.Len(t, errs, 1)
}
