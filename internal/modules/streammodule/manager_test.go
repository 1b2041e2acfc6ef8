package streammodule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/stagepass/stagepass/internal/database"
	"github.com/stagepass/stagepass/internal/events"
)

func newTestManager(t *testing.T, cfg *ManagerConfig) (*Manager, events.EventBus, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&database.PlaybackSessionRecord{}, &database.QualitySwitchRecord{}))

	bus := events.NewEventBus(events.DefaultEventBusConfig(), hclog.NewNullLogger())
	require.NoError(t, bus.Start(context.Background()))

	if cfg == nil {
		cfg = DefaultManagerConfig()
	}
	cfg.SampleInterval = time.Hour

	m := NewManager(hclog.NewNullLogger(), db, bus, cfg)
	m.Start()
	t.Cleanup(func() {
		m.Shutdown()
		bus.Stop(context.Background())
	})
	return m, bus, db
}

func TestManager_CreateAndGetSession(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	session, controller, err := m.CreateSession(CreateSessionOptions{EventID: "evt-100"})
	require.NoError(t, err)
	require.NotNil(t, session)
	require.NotNil(t, controller)

	got, gotController, ok := m.GetSession(session.ID())
	require.True(t, ok)
	assert.Same(t, session, got)
	assert.Same(t, controller, gotController)
	assert.Contains(t, m.ListSessions(), session.ID())

	// An open record is written immediately
	record, err := m.Store().GetRecord(session.ID())
	require.NoError(t, err)
	assert.Equal(t, "evt-100", record.EventID)
	assert.Equal(t, string(StateLoading), record.State)
	assert.Nil(t, record.EndedAt)
}

func TestManager_SessionLimit(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.MaxConcurrentSessions = 2
	m, _, _ := newTestManager(t, cfg)

	_, _, err := m.CreateSession(CreateSessionOptions{EventID: "evt-1"})
	require.NoError(t, err)
	s2, _, err := m.CreateSession(CreateSessionOptions{EventID: "evt-2"})
	require.NoError(t, err)

	_, _, err = m.CreateSession(CreateSessionOptions{EventID: "evt-3"})
	assert.ErrorContains(t, err, "session limit reached")

	// Destroying one frees a slot
	require.NoError(t, m.DestroySession(s2.ID()))
	_, _, err = m.CreateSession(CreateSessionOptions{EventID: "evt-4"})
	assert.NoError(t, err)
}

func TestManager_DestroySessionFinalizesRecord(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	session, controller, err := m.CreateSession(CreateSessionOptions{EventID: "evt-100"})
	require.NoError(t, err)

	sink := newFakeSink()
	require.NoError(t, controller.Initialize(context.Background(), sink, "https://cdn.example.com/replay.mp4"))
	session.emit(Event{Kind: EventPlaying})

	require.NoError(t, m.DestroySession(session.ID()))

	_, _, ok := m.GetSession(session.ID())
	assert.False(t, ok)
	assert.Equal(t, 1, sink.detachedCount())

	record, err := m.Store().GetRecord(session.ID())
	require.NoError(t, err)
	assert.Equal(t, string(StatePlaying), record.State)
	assert.NotNil(t, record.EndedAt)

	assert.Error(t, m.DestroySession(session.ID()))
}

func TestManager_ObservePersistsTransitions(t *testing.T) {
	m, _, db := newTestManager(t, nil)

	session, controller, err := m.CreateSession(CreateSessionOptions{
		EventID: "evt-100",
		AlternateSources: []QualityVariant{
			{Label: "1080p", BandwidthBps: 5000000, Locator: "https://cdn.example.com/1080.mp4"},
		},
	})
	require.NoError(t, err)

	require.NoError(t, controller.Initialize(context.Background(), newFakeSink(), "https://cdn.example.com/720.mp4"))

	// The loaded event backfills the resolved source
	record, err := m.Store().GetRecord(session.ID())
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/720.mp4", record.Locator)
	assert.Equal(t, string(StreamTypeProgressive), record.StreamType)

	session.emit(Event{Kind: EventPlaying})
	record, err = m.Store().GetRecord(session.ID())
	require.NoError(t, err)
	assert.Equal(t, string(StatePlaying), record.State)

	require.NoError(t, session.SetQuality("1080p"))
	var switches []database.QualitySwitchRecord
	require.NoError(t, db.Where("session_id = ?", session.ID()).Find(&switches).Error)
	require.Len(t, switches, 1)
	assert.Equal(t, "1080p", switches[0].Quality)
}

func TestManager_PublishesOnEventBus(t *testing.T) {
	m, bus, _ := newTestManager(t, nil)

	var mu sync.Mutex
	var seen []events.EventType
	_, err := bus.Subscribe(events.EventFilter{
		Types: []events.EventType{
			events.EventPlaybackSessionCreated,
			events.EventPlaybackStarted,
			events.EventPlaybackSessionDestroyed,
		},
	}, func(ev events.Event) error {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	session, controller, err := m.CreateSession(CreateSessionOptions{EventID: "evt-100"})
	require.NoError(t, err)
	require.NoError(t, controller.Initialize(context.Background(), newFakeSink(), "https://cdn.example.com/replay.mp4"))
	session.emit(Event{Kind: EventPlaying})
	require.NoError(t, m.DestroySession(session.ID()))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []events.EventType{
		events.EventPlaybackSessionCreated,
		events.EventPlaybackStarted,
		events.EventPlaybackSessionDestroyed,
	}, seen)
}

func TestManager_ReapsIdleSessions(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.SessionIdleTimeout = 30 * time.Millisecond
	cfg.CleanupInterval = 10 * time.Millisecond
	m, _, _ := newTestManager(t, cfg)

	session, _, err := m.CreateSession(CreateSessionOptions{EventID: "evt-100"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, _, ok := m.GetSession(session.ID())
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	record, err := m.Store().GetRecord(session.ID())
	require.NoError(t, err)
	assert.NotNil(t, record.EndedAt)
	assert.Equal(t, string(StateIdle), record.State)
}

func TestManager_ShutdownDestroysAllSessions(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	s1, _, err := m.CreateSession(CreateSessionOptions{EventID: "evt-1"})
	require.NoError(t, err)
	s2, _, err := m.CreateSession(CreateSessionOptions{EventID: "evt-2"})
	require.NoError(t, err)

	m.Shutdown()

	assert.Empty(t, m.ListSessions())
	for _, id := range []string{s1.ID(), s2.ID()} {
		record, err := m.Store().GetRecord(id)
		require.NoError(t, err)
		assert.NotNil(t, record.EndedAt)
	}
}
