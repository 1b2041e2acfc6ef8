package streammodule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"github.com/stagepass/stagepass/internal/events"
)

// ManagerConfig contains configuration for the stream manager
type ManagerConfig struct {
	MaxConcurrentSessions int
	SessionIdleTimeout    time.Duration
	CleanupInterval       time.Duration

	// Playback tuning passed through to sessions and controllers
	SampleInterval      time.Duration
	BehindLiveThreshold float64
	SeekStep            float64
	VolumeStep          float64
}

// DefaultManagerConfig returns the built-in manager settings
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		MaxConcurrentSessions: 100,
		SessionIdleTimeout:    2 * time.Hour,
		CleanupInterval:       30 * time.Second,
		SampleInterval:        DefaultSampleInterval,
		BehindLiveThreshold:   DefaultBehindLiveThreshold,
		SeekStep:              DefaultSeekStep,
		VolumeStep:            DefaultVolumeStep,
	}
}

// CreateSessionOptions parameterizes one new playback session
type CreateSessionOptions struct {
	EventID          string
	Live             bool
	DVR              bool
	AlternateSources []QualityVariant

	// Test and embedding overrides for the protocol collaborators
	Manifests ManifestLoader
	Signal    SignalDialer
}

// managedSession pairs a session with its controller and activity tracking
type managedSession struct {
	session    *StreamingSession
	controller *PlaybackController

	mu           sync.Mutex
	lastActivity time.Time
	lastState    PlaybackState
}

func (m *managedSession) touch() {
	m.mu.Lock()
	m.lastActivity = time.Now()
	m.mu.Unlock()
}

func (m *managedSession) idleSince() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// Manager owns all live playback sessions. Sessions are independent of each
// other; the manager only enforces limits, persists their traces and fans
// their events out to the platform bus.
type Manager struct {
	logger   hclog.Logger
	eventBus events.EventBus
	config   *ManagerConfig
	store    *SessionStore

	registry *prometheus.Registry
	prom     *PromMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*managedSession
}

// NewManager creates a new stream manager
func NewManager(logger hclog.Logger, db *gorm.DB, eventBus events.EventBus, managerConfig *ManagerConfig) *Manager {
	if managerConfig == nil {
		managerConfig = DefaultManagerConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	log := logger.Named("stream-manager")
	return &Manager{
		logger:   log,
		eventBus: eventBus,
		config:   managerConfig,
		store:    NewSessionStore(db, log),
		registry: registry,
		prom:     NewPromMetrics(registry),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*managedSession),
	}
}

// Start launches the idle-session cleanup loop
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.cleanupLoop()
	m.logger.Info("stream manager started",
		"max_sessions", m.config.MaxConcurrentSessions,
		"idle_timeout", m.config.SessionIdleTimeout)
}

// Shutdown destroys all sessions and stops the cleanup loop
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	sessions := make([]*managedSession, 0, len(m.sessions))
	for _, ms := range m.sessions {
		sessions = append(sessions, ms)
	}
	m.sessions = make(map[string]*managedSession)
	m.mu.Unlock()

	for _, ms := range sessions {
		m.teardown(ms)
	}
	m.logger.Info("stream manager stopped", "sessions_destroyed", len(sessions))
}

// Registry exposes the manager's metrics registry for the /metrics route
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// Store exposes the session record store
func (m *Manager) Store() *SessionStore { return m.store }

// CreateSession builds a session and its controller and begins tracking
// them. The caller drives Initialize through the returned controller.
func (m *Manager) CreateSession(opts CreateSessionOptions) (*StreamingSession, *PlaybackController, error) {
	m.mu.Lock()
	if len(m.sessions) >= m.config.MaxConcurrentSessions {
		count := len(m.sessions)
		m.mu.Unlock()
		return nil, nil, fmt.Errorf("session limit reached (%d active)", count)
	}
	m.mu.Unlock()

	session := NewStreamingSession(m.logger, SessionOptions{
		Live:             opts.Live,
		DVR:              opts.DVR,
		AlternateSources: opts.AlternateSources,
		SampleInterval:   m.config.SampleInterval,
		Manifests:        opts.Manifests,
		Signal:           opts.Signal,
		Prom:             m.prom,
	})
	controller := NewPlaybackController(m.logger, session, ControllerConfig{
		BehindLiveThreshold: m.config.BehindLiveThreshold,
		SeekStep:            m.config.SeekStep,
		VolumeStep:          m.config.VolumeStep,
	})

	ms := &managedSession{
		session:      session,
		controller:   controller,
		lastActivity: time.Now(),
	}
	session.OnAll(func(ev Event) { m.observe(ms, ev) })

	m.mu.Lock()
	m.sessions[session.ID()] = ms
	m.mu.Unlock()

	if err := m.store.CreateRecord(session, opts.EventID); err != nil {
		m.logger.Error("failed to persist session record", "session_id", session.ID(), "error", err)
	}
	m.publish(events.EventPlaybackSessionCreated, session.ID(), map[string]interface{}{
		"event_id": opts.EventID,
		"live":     opts.Live,
	})

	m.logger.Info("session created", "session_id", session.ID(), "event_id", opts.EventID, "live", opts.Live)
	return session, controller, nil
}

// GetSession returns a live session and its controller
func (m *Manager) GetSession(sessionID string) (*StreamingSession, *PlaybackController, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil, false
	}
	return ms.session, ms.controller, true
}

// ListSessions returns all live session IDs
func (m *Manager) ListSessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// DestroySession tears one session down and finalizes its record
func (m *Manager) DestroySession(sessionID string) error {
	m.mu.Lock()
	ms, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	m.teardown(ms)
	return nil
}

// observe tracks session activity, persists transitions and republishes
// events on the platform bus
func (m *Manager) observe(ms *managedSession, ev Event) {
	ms.touch()

	switch ev.Kind {
	case EventLoaded:
		if err := m.store.UpdateSource(ms.session); err != nil {
			m.logger.Error("failed to backfill session source", "session_id", ev.SessionID, "error", err)
		}
	case EventPlaying:
		m.recordState(ms, StatePlaying)
		m.publish(events.EventPlaybackStarted, ev.SessionID, nil)
	case EventPaused:
		m.recordState(ms, StatePaused)
		m.publish(events.EventPlaybackPaused, ev.SessionID, nil)
	case EventBuffering:
		m.recordState(ms, StateBuffering)
		m.publish(events.EventPlaybackBuffering, ev.SessionID, nil)
	case EventEnded:
		m.recordState(ms, StateEnded)
		m.publish(events.EventPlaybackEnded, ev.SessionID, nil)
	case EventError:
		m.recordState(ms, StateError)
		m.publish(events.EventPlaybackError, ev.SessionID, map[string]interface{}{
			"reason": string(ev.Reason),
		})
	case EventQualityChange:
		if err := m.store.RecordQualitySwitch(ev.SessionID, ev.Quality); err != nil {
			m.logger.Error("failed to record quality switch", "session_id", ev.SessionID, "error", err)
		}
		m.publish(events.EventPlaybackQualityChanged, ev.SessionID, map[string]interface{}{
			"quality": ev.Quality,
		})
	case EventMetrics:
		if ev.Metrics != nil {
			m.publish(events.EventPlaybackMetrics, ev.SessionID, map[string]interface{}{
				"bandwidth_mbps":        ev.Metrics.BandwidthMbps,
				"buffer_health_seconds": ev.Metrics.BufferHealthSeconds,
				"rebuffer_count":        ev.Metrics.RebufferCount,
			})
		}
	}
}

func (m *Manager) recordState(ms *managedSession, state PlaybackState) {
	ms.mu.Lock()
	ms.lastState = state
	ms.mu.Unlock()
	if err := m.store.UpdateState(ms.session.ID(), state); err != nil {
		m.logger.Error("failed to persist state transition", "session_id", ms.session.ID(), "error", err)
	}
}

func (m *Manager) teardown(ms *managedSession) {
	id := ms.session.ID()
	metrics := ms.session.Metrics()

	ms.controller.Close()
	ms.session.Destroy()

	ms.mu.Lock()
	state := ms.lastState
	ms.mu.Unlock()
	if state == "" {
		state = StateIdle
	}
	if err := m.store.CloseRecord(id, state, metrics); err != nil {
		m.logger.Error("failed to finalize session record", "session_id", id, "error", err)
	}
	m.publish(events.EventPlaybackSessionDestroyed, id, nil)
	m.logger.Info("session destroyed", "session_id", id, "final_state", state)
}

func (m *Manager) publish(eventType events.EventType, sessionID string, data map[string]interface{}) {
	if m.eventBus == nil {
		return
	}
	err := m.eventBus.PublishAsync(events.Event{
		Type:   eventType,
		Source: "session:" + sessionID,
		Data:   data,
	})
	if err != nil {
		m.logger.Debug("event publish dropped", "type", eventType, "error", err)
	}
}

// cleanupLoop destroys sessions with no activity past the idle timeout
func (m *Manager) cleanupLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.reapIdleSessions()
		}
	}
}

func (m *Manager) reapIdleSessions() {
	cutoff := time.Now().Add(-m.config.SessionIdleTimeout)

	m.mu.Lock()
	var idle []*managedSession
	for id, ms := range m.sessions {
		if ms.idleSince().Before(cutoff) {
			idle = append(idle, ms)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, ms := range idle {
		m.logger.Info("reaping idle session", "session_id", ms.session.ID())
		m.teardown(ms)
	}
}
