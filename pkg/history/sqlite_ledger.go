package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/contentmesh/server/pkg/entity"
	_ "modernc.org/sqlite"
)

// SQLiteLedger is a Ledger backed by an embedded modernc.org/sqlite
// database, for durable single-node deployments (§4.3).
type SQLiteLedger struct {
	db    *sql.DB
	delta time.Duration
	clock func() time.Time
}

// NewSQLiteLedger opens db (already connected with the "sqlite" driver)
// and ensures the events table exists.
func NewSQLiteLedger(db *sql.DB, immutableDelta time.Duration) (*SQLiteLedger, error) {
	l := &SQLiteLedger{db: db, delta: immutableDelta, clock: time.Now}
	if err := l.migrate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLedger) migrate() error {
	const query = `
		CREATE TABLE IF NOT EXISTS history_events (
			entity_id   TEXT PRIMARY KEY,
			server_name TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			timestamp   INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_history_events_timestamp ON history_events (timestamp, entity_id);
	`
	_, err := l.db.ExecContext(context.Background(), query)
	return err
}

func (l *SQLiteLedger) Append(ctx context.Context, event Event) error {
	const query = `INSERT OR IGNORE INTO history_events (entity_id, server_name, entity_type, timestamp) VALUES (?, ?, ?, ?)`
	_, err := l.db.ExecContext(ctx, query, event.EntityID, event.ServerName, string(event.EntityType), event.Timestamp)
	if err != nil {
		return fmt.Errorf("history: sqlite append: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) GetHistory(ctx context.Context, filter Filter) ([]Event, error) {
	query := `SELECT entity_id, server_name, entity_type, timestamp FROM history_events WHERE 1=1`
	var args []any
	if filter.From != 0 {
		query += ` AND timestamp >= ?`
		args = append(args, filter.From)
	}
	if filter.To != 0 {
		query += ` AND timestamp <= ?`
		args = append(args, filter.To)
	}
	if filter.ServerName != "" {
		query += ` AND server_name = ?`
		args = append(args, filter.ServerName)
	}
	query += ` ORDER BY timestamp ASC, entity_id ASC`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: sqlite query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var e Event
		var entityType string
		if err := rows.Scan(&e.EntityID, &e.ServerName, &entityType, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("history: sqlite scan: %w", err)
		}
		e.EntityType = entity.Type(entityType)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (l *SQLiteLedger) ImmutableTime(ctx context.Context) (int64, error) {
	row := l.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(timestamp), 0) FROM history_events`)
	var latest int64
	if err := row.Scan(&latest); err != nil {
		return 0, fmt.Errorf("history: sqlite immutable time: %w", err)
	}
	return immutableTimeFrom(latest, l.delta, l.clock()), nil
}
