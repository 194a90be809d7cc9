package history

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"
)

// FileLedger is a local-JSON-file Ledger, for single-node development use
// (§4.3: "History may be persisted as a compact append-only file").
type FileLedger struct {
	path  string
	mu    sync.RWMutex
	data  map[string]Event // entityId -> event, for the idempotent-append check
	delta time.Duration
	clock func() time.Time
}

// NewFileLedger loads (or creates) a FileLedger backed by path.
func NewFileLedger(path string, immutableDelta time.Duration) (*FileLedger, error) {
	return NewFileLedgerWithClock(path, immutableDelta, time.Now)
}

// NewFileLedgerWithClock is NewFileLedger with an injectable clock, for
// deterministic ImmutableTime tests.
func NewFileLedgerWithClock(path string, immutableDelta time.Duration, clock func() time.Time) (*FileLedger, error) {
	l := &FileLedger{
		path:  path,
		data:  make(map[string]Event),
		delta: immutableDelta,
		clock: clock,
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLedger) load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		return nil
	}
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, &l.data)
}

func (l *FileLedger) save() error {
	raw, err := json.MarshalIndent(l.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.path, raw, 0o600)
}

func (l *FileLedger) Append(_ context.Context, event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.data[event.EntityID]; exists {
		return nil // idempotent on entityId (§4.3)
	}
	l.data[event.EntityID] = event
	return l.save()
}

func (l *FileLedger) GetHistory(_ context.Context, filter Filter) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	events := make([]Event, 0, len(l.data))
	for _, e := range l.data {
		if matchesFilter(e, filter) {
			events = append(events, e)
		}
	}
	sortEvents(events)
	return events, nil
}

func (l *FileLedger) ImmutableTime(_ context.Context) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var latest int64
	for _, e := range l.data {
		if e.Timestamp > latest {
			latest = e.Timestamp
		}
	}
	return immutableTimeFrom(latest, l.delta, l.clock()), nil
}
