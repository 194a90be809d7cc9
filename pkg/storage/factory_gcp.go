//go:build gcp

package storage

import (
	"context"

	"github.com/contentmesh/server/pkg/config"
)

func newGCSStoreFromEnv(ctx context.Context, env *config.Environment) (Store, error) {
	return NewGCSStore(ctx, GCSStoreConfig{
		Bucket: env.GCSBucket,
		Prefix: env.GCSPrefix,
	})
}
