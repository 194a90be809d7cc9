package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/contentmesh/server/pkg/entity"
	_ "github.com/lib/pq"
)

// PostgresLedger is a Ledger backed by PostgreSQL, for clustered
// deployments where multiple server processes share one durable history
// (§4.3).
type PostgresLedger struct {
	db    *sql.DB
	delta time.Duration
	clock func() time.Time
}

// NewPostgresLedger opens db (already connected with the "postgres"
// driver) and ensures the events table exists.
func NewPostgresLedger(db *sql.DB, immutableDelta time.Duration) (*PostgresLedger, error) {
	l := &PostgresLedger{db: db, delta: immutableDelta, clock: time.Now}
	if err := l.migrate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *PostgresLedger) migrate() error {
	const query = `
		CREATE TABLE IF NOT EXISTS history_events (
			entity_id   TEXT PRIMARY KEY,
			server_name TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			timestamp   BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_history_events_timestamp ON history_events (timestamp, entity_id);
	`
	_, err := l.db.ExecContext(context.Background(), query)
	return err
}

func (l *PostgresLedger) Append(ctx context.Context, event Event) error {
	const query = `
		INSERT INTO history_events (entity_id, server_name, entity_type, timestamp)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (entity_id) DO NOTHING
	`
	_, err := l.db.ExecContext(ctx, query, event.EntityID, event.ServerName, string(event.EntityType), event.Timestamp)
	if err != nil {
		return fmt.Errorf("history: postgres append: %w", err)
	}
	return nil
}

func (l *PostgresLedger) GetHistory(ctx context.Context, filter Filter) ([]Event, error) {
	query := `SELECT entity_id, server_name, entity_type, timestamp FROM history_events WHERE TRUE`
	var args []any
	n := 1
	if filter.From != 0 {
		query += fmt.Sprintf(" AND timestamp >= $%d", n)
		args = append(args, filter.From)
		n++
	}
	if filter.To != 0 {
		query += fmt.Sprintf(" AND timestamp <= $%d", n)
		args = append(args, filter.To)
		n++
	}
	if filter.ServerName != "" {
		query += fmt.Sprintf(" AND server_name = $%d", n)
		args = append(args, filter.ServerName)
		n++
	}
	query += " ORDER BY timestamp ASC, entity_id ASC"

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: postgres query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var e Event
		var entityType string
		if err := rows.Scan(&e.EntityID, &e.ServerName, &entityType, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("history: postgres scan: %w", err)
		}
		e.EntityType = entity.Type(entityType)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (l *PostgresLedger) ImmutableTime(ctx context.Context) (int64, error) {
	row := l.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(timestamp), 0) FROM history_events`)
	var latest int64
	if err := row.Scan(&latest); err != nil {
		return 0, fmt.Errorf("history: postgres immutable time: %w", err)
	}
	return immutableTimeFrom(latest, l.delta, l.clock()), nil
}
