package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileLedgerAppendIsIdempotentOnEntityID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	l, err := NewFileLedger(path, 10*time.Minute)
	require.NoError(t, err)

	ctx := context.Background()
	first := Event{ServerName: "peer-a", EntityID: "bA", EntityType: "scene", Timestamp: 100}
	second := Event{ServerName: "peer-b", EntityID: "bA", EntityType: "scene", Timestamp: 999}

	require.NoError(t, l.Append(ctx, first))
	require.NoError(t, l.Append(ctx, second))

	events, err := l.GetHistory(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "peer-a", events[0].ServerName, "second append with the same entityId must be silently ignored")
}

func TestFileLedgerGetHistoryOrdersByTimestampThenEntityID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	l, err := NewFileLedger(path, 10*time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	events := []Event{
		{EntityID: "bZ", Timestamp: 100},
		{EntityID: "bA", Timestamp: 100},
		{EntityID: "bM", Timestamp: 50},
	}
	for _, e := range events {
		require.NoError(t, l.Append(ctx, e))
	}

	got, err := l.GetHistory(ctx, Filter{})
	require.NoError(t, err)
	require.Equal(t, []string{"bM", "bA", "bZ"}, []string{got[0].EntityID, got[1].EntityID, got[2].EntityID})
}

func TestFileLedgerGetHistoryFiltersByServerAndWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	l, err := NewFileLedger(path, 10*time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, Event{EntityID: "bA", ServerName: "peer-a", Timestamp: 100}))
	require.NoError(t, l.Append(ctx, Event{EntityID: "bB", ServerName: "peer-b", Timestamp: 200}))

	got, err := l.GetHistory(ctx, Filter{ServerName: "peer-a"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "bA", got[0].EntityID)

	got, err = l.GetHistory(ctx, Filter{From: 150})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "bB", got[0].EntityID)
}

func TestFileLedgerImmutableTimeIsBoundedByDelta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	fixedNow := time.UnixMilli(1_000_000)
	l, err := NewFileLedgerWithClock(path, 10*time.Minute, func() time.Time { return fixedNow })
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, Event{EntityID: "bA", Timestamp: fixedNow.UnixMilli()}))

	tImm, err := l.ImmutableTime(ctx)
	require.NoError(t, err)
	require.Equal(t, fixedNow.Add(-10*time.Minute).UnixMilli(), tImm)
}

func TestImmutableTimeFromCapsAtLatestEvent(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	delta := 10 * time.Minute
	latest := now.Add(-20 * time.Minute).UnixMilli() // well before now-delta

	tImm := immutableTimeFrom(latest, delta, now)
	require.Equal(t, latest, tImm, "T_imm must not exceed the latest recorded event")
}
