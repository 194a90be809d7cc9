package history

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/contentmesh/server/pkg/entity"
	"github.com/stretchr/testify/require"
)

func newMockLedger(t *testing.T, delta time.Duration) (*PostgresLedger, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS history_events")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ledger, err := NewPostgresLedger(db, delta)
	require.NoError(t, err)
	return ledger, mock
}

func TestNewPostgresLedgerRunsMigrationOnce(t *testing.T) {
	_, mock := newMockLedger(t, time.Minute)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedgerAppendInsertsEvent(t *testing.T) {
	ledger, mock := newMockLedger(t, time.Minute)

	event := Event{EntityID: "bEVENT1", ServerName: "node-a", EntityType: "scene", Timestamp: 1000}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO history_events")).
		WithArgs(event.EntityID, event.ServerName, string(event.EntityType), event.Timestamp).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, ledger.Append(context.Background(), event))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedgerGetHistoryAppliesFilterAndOrdering(t *testing.T) {
	ledger, mock := newMockLedger(t, time.Minute)

	rows := sqlmock.NewRows([]string{"entity_id", "server_name", "entity_type", "timestamp"}).
		AddRow("bEVENT1", "node-a", "scene", int64(1000)).
		AddRow("bEVENT2", "node-b", "profile", int64(2000))

	mock.ExpectQuery(regexp.QuoteMeta("WHERE TRUE AND timestamp >= $1 AND server_name = $2 ORDER BY timestamp ASC, entity_id ASC")).
		WithArgs(int64(500), "node-a").
		WillReturnRows(rows)

	events, err := ledger.GetHistory(context.Background(), Filter{From: 500, ServerName: "node-a"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, entity.Type("scene"), events[0].EntityType)
	require.Equal(t, "bEVENT2", events[1].EntityID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedgerImmutableTimeAppliesDelta(t *testing.T) {
	delta := 10 * time.Minute
	ledger, mock := newMockLedger(t, delta)
	ledger.clock = func() time.Time { return time.UnixMilli(100_000_000) }

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(timestamp), 0) FROM history_events")).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(99_999_999)))

	imm, err := ledger.ImmutableTime(context.Background())
	require.NoError(t, err)
	require.Equal(t, immutableTimeFrom(99_999_999, delta, ledger.clock()), imm)
	require.NoError(t, mock.ExpectationsWereMet())
}
