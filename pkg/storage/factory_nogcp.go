//go:build !gcp

package storage

import (
	"context"
	"fmt"

	"github.com/contentmesh/server/pkg/config"
)

func newGCSStoreFromEnv(_ context.Context, _ *config.Environment) (Store, error) {
	return nil, fmt.Errorf("storage: GCS backend is not enabled in this build (use -tags gcp)")
}
