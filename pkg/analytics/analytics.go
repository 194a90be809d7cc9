// Package analytics implements the fire-and-forget analytics emission
// step of the deploy pipeline (§4.5 step 12): recording that a deployment
// happened must never slow down or fail the deployment itself.
package analytics

import (
	"log/slog"

	"github.com/contentmesh/server/pkg/entity"
)

// Event is one deployment fact worth recording downstream.
type Event struct {
	EntityID   string
	EntityType entity.Type
	ServerName string
	Timestamp  int64
	Synced     bool // true if this deployment arrived via the Synchronizer rather than a local client
}

// Sink accepts Events. Record must not block the caller on I/O; a Sink
// queues and drains asynchronously.
type Sink interface {
	Record(evt Event)
	Close()
}

// Channel is a bounded, single-worker Sink: events are queued on a
// channel and drained by one background goroutine, modeled on this
// module's bounded-worker fan-out idiom (one goroutine, a fixed-capacity
// channel standing in for the semaphore) rather than spawning a goroutine
// per event. A full queue drops the event and logs it, because analytics
// must never apply backpressure to a deployment.
type Channel struct {
	events chan Event
	done   chan struct{}
	logger *slog.Logger
}

// NewChannel starts a Channel sink with the given queue depth, draining
// into emit. emit runs on the single background worker goroutine, so it
// does not need its own synchronization.
func NewChannel(queueDepth int, logger *slog.Logger, emit func(Event)) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Channel{
		events: make(chan Event, queueDepth),
		done:   make(chan struct{}),
		logger: logger,
	}
	go c.run(emit)
	return c
}

func (c *Channel) run(emit func(Event)) {
	defer close(c.done)
	for evt := range c.events {
		emit(evt)
	}
}

// Record enqueues evt, dropping it (and logging) if the queue is full.
func (c *Channel) Record(evt Event) {
	select {
	case c.events <- evt:
	default:
		c.logger.Warn("analytics queue full, dropping event",
			"entity_id", evt.EntityID, "entity_type", string(evt.EntityType))
	}
}

// Close stops accepting new events and waits for the worker to drain
// whatever was already queued.
func (c *Channel) Close() {
	close(c.events)
	<-c.done
}

// Discard is a Sink that drops every event, used where analytics are
// configured off entirely.
type Discard struct{}

func (Discard) Record(Event) {}
func (Discard) Close()       {}

var _ Sink = (*Channel)(nil)
var _ Sink = Discard{}

// LogEmitter returns an emit function for NewChannel that writes each
// event as a structured log line, the default sink until a real
// analytics backend is configured.
func LogEmitter(logger *slog.Logger) func(Event) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(evt Event) {
		logger.Info("deployment analytics",
			"entity_id", evt.EntityID,
			"entity_type", string(evt.EntityType),
			"server_name", evt.ServerName,
			"timestamp", evt.Timestamp,
			"synced", evt.Synced,
		)
	}
}
