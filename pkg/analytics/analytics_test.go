package analytics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChannelDeliversEventsToEmitter(t *testing.T) {
	var mu sync.Mutex
	var got []Event

	c := NewChannel(4, nil, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	})

	c.Record(Event{EntityID: "bA"})
	c.Record(Event{EntityID: "bB"})
	c.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
}

func TestChannelDropsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	release := make(chan struct{})
	var blockOnce sync.Once

	c := NewChannel(1, nil, func(e Event) {
		blockOnce.Do(func() { close(block) })
		<-release
	})
	defer func() {
		close(release)
		c.Close()
	}()

	c.Record(Event{EntityID: "first"}) // picked up by the worker, blocks it
	<-block

	c.Record(Event{EntityID: "second"}) // fills the 1-slot queue
	c.Record(Event{EntityID: "third"})  // must be dropped, not block this test
}

func TestDiscardIsANoOp(t *testing.T) {
	var d Discard
	d.Record(Event{EntityID: "bA"})
	d.Close()
}
