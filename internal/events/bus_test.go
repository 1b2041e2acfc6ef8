package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunningBus(t *testing.T) EventBus {
	t.Helper()
	bus := NewEventBus(DefaultEventBusConfig(), hclog.NewNullLogger())
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() { bus.Stop(context.Background()) })
	return bus
}

func TestEventBus_StartTwiceFails(t *testing.T) {
	bus := newRunningBus(t)
	assert.Error(t, bus.Start(context.Background()))
}

func TestEventBus_PublishRequiresRunning(t *testing.T) {
	bus := NewEventBus(DefaultEventBusConfig(), hclog.NewNullLogger())
	err := bus.PublishAsync(Event{Type: EventInfo, Source: "system"})
	assert.Error(t, err)
}

func TestEventBus_PublishValidation(t *testing.T) {
	bus := newRunningBus(t)

	assert.Error(t, bus.PublishAsync(Event{Source: "system"}), "type is required")
	assert.Error(t, bus.PublishAsync(Event{Type: EventInfo}), "source is required")
	assert.NoError(t, bus.PublishAsync(Event{Type: EventInfo, Source: "system"}))
}

func TestEventBus_DeliversToMatchingSubscribers(t *testing.T) {
	bus := newRunningBus(t)

	var mu sync.Mutex
	var byType, bySource, all []Event
	record := func(dst *[]Event) EventHandler {
		return func(ev Event) error {
			mu.Lock()
			*dst = append(*dst, ev)
			mu.Unlock()
			return nil
		}
	}

	_, err := bus.Subscribe(EventFilter{Types: []EventType{EventPlaybackStarted}}, record(&byType))
	require.NoError(t, err)
	_, err = bus.Subscribe(EventFilter{Sources: []string{"session:abc"}}, record(&bySource))
	require.NoError(t, err)
	_, err = bus.Subscribe(EventFilter{}, record(&all))
	require.NoError(t, err)

	require.NoError(t, bus.PublishAsync(Event{Type: EventPlaybackStarted, Source: "session:abc"}))
	require.NoError(t, bus.PublishAsync(Event{Type: EventPlaybackEnded, Source: "session:other"}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(all) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, byType, 1)
	assert.Equal(t, EventPlaybackStarted, byType[0].Type)
	require.Len(t, bySource, 1)
	assert.Equal(t, "session:abc", bySource[0].Source)

	// Delivered events carry generated IDs and timestamps
	assert.NotEmpty(t, byType[0].ID)
	assert.False(t, byType[0].Timestamp.IsZero())
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := newRunningBus(t)

	var mu sync.Mutex
	count := 0
	sub, err := bus.Subscribe(EventFilter{}, func(ev Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.PublishAsync(Event{Type: EventInfo, Source: "system"}))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Unsubscribe(sub.ID))
	assert.Error(t, bus.Unsubscribe(sub.ID))

	require.NoError(t, bus.PublishAsync(Event{Type: EventInfo, Source: "system"}))
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestEventBus_StatsAndRecentEvents(t *testing.T) {
	bus := newRunningBus(t)

	require.NoError(t, bus.PublishAsync(Event{Type: EventPlaybackStarted, Source: "session:a"}))
	require.NoError(t, bus.PublishAsync(Event{Type: EventPlaybackStarted, Source: "session:b"}))
	require.NoError(t, bus.PublishAsync(Event{Type: EventPlaybackEnded, Source: "session:a"}))

	assert.Eventually(t, func() bool {
		return bus.GetStats().TotalEvents == 3
	}, 2*time.Second, 10*time.Millisecond)

	stats := bus.GetStats()
	assert.Equal(t, int64(2), stats.EventsByType[string(EventPlaybackStarted)])
	assert.Equal(t, int64(2), stats.EventsBySource["session:a"])
	assert.Len(t, stats.RecentEvents, 3)
}

func TestEventBus_HandlerPanicDoesNotKillBus(t *testing.T) {
	bus := newRunningBus(t)

	_, err := bus.Subscribe(EventFilter{}, func(ev Event) error {
		panic("handler exploded")
	})
	require.NoError(t, err)

	var mu sync.Mutex
	delivered := 0
	_, err = bus.Subscribe(EventFilter{}, func(ev Event) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.PublishAsync(Event{Type: EventInfo, Source: "system"}))
	require.NoError(t, bus.PublishAsync(Event{Type: EventInfo, Source: "system"}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, bus.Health())
}

func TestEventBus_StopIsIdempotent(t *testing.T) {
	bus := NewEventBus(DefaultEventBusConfig(), hclog.NewNullLogger())
	require.NoError(t, bus.Start(context.Background()))
	require.NoError(t, bus.Stop(context.Background()))
	require.NoError(t, bus.Stop(context.Background()))
	assert.Error(t, bus.Health())
}

func TestNewSystemEvent(t *testing.T) {
	ev := NewSystemEvent(EventSystemStarted, "Started", "backend is up")
	assert.Equal(t, EventSystemStarted, ev.Type)
	assert.Equal(t, "system", ev.Source)
	assert.Equal(t, "Started", ev.Title)
	assert.Equal(t, "backend is up", ev.Message)
}

func TestMatchesFilter(t *testing.T) {
	ev := Event{Type: EventPlaybackStarted, Source: "session:abc"}

	assert.True(t, MatchesFilter(ev, EventFilter{}))
	assert.True(t, MatchesFilter(ev, EventFilter{Types: []EventType{EventPlaybackStarted}}))
	assert.False(t, MatchesFilter(ev, EventFilter{Types: []EventType{EventPlaybackEnded}}))
	assert.True(t, MatchesFilter(ev, EventFilter{Sources: []string{"session:abc"}}))
	assert.False(t, MatchesFilter(ev, EventFilter{Sources: []string{"session:other"}}))
	assert.False(t, MatchesFilter(ev, EventFilter{
		Types:   []EventType{EventPlaybackStarted},
		Sources: []string{"session:other"},
	}))
}
