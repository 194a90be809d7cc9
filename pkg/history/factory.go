package history

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/contentmesh/server/pkg/config"
)

// NewFromEnv builds the Ledger selected by env.HistoryBackend.
func NewFromEnv(env *config.Environment) (Ledger, error) {
	switch env.HistoryBackend {
	case "", "file":
		return NewFileLedger(filepath.Join(env.StorageRootFolder, "history.json"), env.ImmutableTimeDelta)
	case "sqlite":
		db, err := sql.Open("sqlite", env.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("history: open sqlite: %w", err)
		}
		return NewSQLiteLedger(db, env.ImmutableTimeDelta)
	case "postgres":
		db, err := sql.Open("postgres", env.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("history: open postgres: %w", err)
		}
		return NewPostgresLedger(db, env.ImmutableTimeDelta)
	default:
		return nil, fmt.Errorf("history: unsupported backend %q", env.HistoryBackend)
	}
}
