package audit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/audit"
)

func TestDispatcher_WritesQueuedEventsOnStop(t *testing.T) {
	// GIVEN: A started dispatcher
	sink := audit.NewMemorySink()
	d := audit.NewDispatcher(sink, 16, nil)
	d.Start()

	// WHEN: Events are emitted and the dispatcher stopped
	for _, op := range []string{"create_draft", "submit", "approve"} {
		require.True(t, d.Emit(audit.Event{Operation: op, Target: "p1", ActorID: "u1", Outcome: audit.OutcomeSuccess}))
	}
	d.Stop()

	// THEN: All of them are in the sink, newest first, with ids and times
	events, err := sink.List(context.Background(), audit.Filter{Target: "p1"})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "approve", events[0].Operation)
	for _, e := range events {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.At.IsZero())
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	// GIVEN: A dispatcher that is never started, with room for one event
	d := audit.NewDispatcher(audit.NewMemorySink(), 1, nil)
	var dropped []audit.Event
	d.OnDrop = func(e audit.Event) { dropped = append(dropped, e) }

	// WHEN: Two events are emitted
	assert.True(t, d.Emit(audit.Event{Operation: "first"}))
	assert.False(t, d.Emit(audit.Event{Operation: "second"}))

	// THEN: The second was dropped without blocking
	require.Len(t, dropped, 1)
	assert.Equal(t, "second", dropped[0].Operation)
}

type failingSink struct {
	mu    sync.Mutex
	calls int
}

func (f *failingSink) Append(context.Context, audit.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("disk full")
}

func (f *failingSink) List(context.Context, audit.Filter) ([]audit.Event, error) { return nil, nil }

func TestDispatcher_SinkFailureDoesNotStopWorker(t *testing.T) {
	sink := &failingSink{}
	d := audit.NewDispatcher(sink, 4, nil)
	d.Start()

	d.Emit(audit.Event{Operation: "a"})
	d.Emit(audit.Event{Operation: "b"})
	d.Stop()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, 2, sink.calls)
}

func TestDispatcher_Restart(t *testing.T) {
	sink := audit.NewMemorySink()
	d := audit.NewDispatcher(sink, 4, nil)

	d.Start()
	d.Start()
	d.Stop()
	d.Stop()

	d.Start()
	d.Emit(audit.Event{Operation: "after-restart", At: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
	d.Stop()

	events, err := sink.List(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), events[0].At)
}

func TestMemorySink_Filters(t *testing.T) {
	ctx := context.Background()
	sink := audit.NewMemorySink()
	require.NoError(t, sink.Append(ctx, audit.Event{ID: "1", Target: "p1", ActorID: "a"}))
	require.NoError(t, sink.Append(ctx, audit.Event{ID: "2", Target: "p2", ActorID: "a"}))
	require.NoError(t, sink.Append(ctx, audit.Event{ID: "3", Target: "p1", ActorID: "b"}))

	byActor, err := sink.List(ctx, audit.Filter{ActorID: "a"})
	require.NoError(t, err)
	assert.Len(t, byActor, 2)

	limited, err := sink.List(ctx, audit.Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "3", limited[0].ID)
}
