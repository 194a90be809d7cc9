package storage

import (
	"context"
	"fmt"

	"github.com/contentmesh/server/pkg/config"
)

// Backend names the storage driver selected by configuration.
type Backend string

const (
	BackendFS  Backend = "fs"
	BackendS3  Backend = "s3"
	BackendGCS Backend = "gcs"
)

// NewFromEnv builds the Store selected by env.StorageBackend, wiring
// whichever backend-specific fields env.Load populated.
func NewFromEnv(ctx context.Context, env *config.Environment) (Store, error) {
	switch Backend(env.StorageBackend) {
	case "", BackendFS:
		return NewFileStore(env.StorageRootFolder)
	case BackendS3:
		if env.S3Bucket == "" {
			return nil, fmt.Errorf("storage: S3_BUCKET is required for s3 backend")
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   env.S3Bucket,
			Region:   env.S3Region,
			Endpoint: env.S3Endpoint,
			Prefix:   env.S3Prefix,
		})
	case BackendGCS:
		if env.GCSBucket == "" {
			return nil, fmt.Errorf("storage: GCS_BUCKET is required for gcs backend")
		}
		return newGCSStoreFromEnv(ctx, env)
	default:
		return nil, fmt.Errorf("storage: unsupported backend %q", env.StorageBackend)
	}
}
