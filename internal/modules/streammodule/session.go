package streammodule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// SessionOptions configures one playback session
type SessionOptions struct {
	// Live marks the session as a live stream (supplied by the event record)
	Live bool

	// DVR marks a live stream whose buffer can be seeked backward
	DVR bool

	// AlternateSources lists single-file renditions for progressive locators
	AlternateSources []QualityVariant

	// SampleInterval overrides the 1-second metrics cadence
	SampleInterval time.Duration

	// Manifests and Signal override the default protocol collaborators,
	// mainly for tests
	Manifests ManifestLoader
	Signal    SignalDialer

	// Prom, when set, exports per-session metrics series
	Prom *PromMetrics
}

// StreamingSession orchestrates one playback session: it selects the backend
// adapter for a locator, owns the quality catalog and metrics collector, and
// re-emits adapter events through a uniform listener registry. Sessions are
// independent; any number may coexist.
type StreamingSession struct {
	id     string
	logger hclog.Logger
	opts   SessionOptions

	catalog   *QualityCatalog
	collector *MetricsCollector

	mu         sync.Mutex
	adapter    BackendAdapter
	streamType StreamType
	locator    string
	sink       MediaSink
	generation int
	pending    chan error
	loadedSeen bool
	destroyed  bool

	listenerMu   sync.Mutex
	listeners    map[EventKind]map[int]EventHandler
	allListeners map[int]EventHandler
	nextListener int

	// dispatchMu serializes delivery so listeners observe events in the
	// order the adapter emitted them
	dispatchMu sync.Mutex
}

// NewStreamingSession creates a session. The hosting component owns the
// returned session and must call Destroy when done with it.
func NewStreamingSession(logger hclog.Logger, opts SessionOptions) *StreamingSession {
	s := &StreamingSession{
		id:           uuid.New().String(),
		logger:       logger.Named("session"),
		opts:         opts,
		listeners:    make(map[EventKind]map[int]EventHandler),
		allListeners: make(map[int]EventHandler),
	}
	s.catalog = NewQualityCatalog(s.logger)
	s.catalog.OnChange(func(v QualityVariant) {
		s.emit(Event{Kind: EventQualityChange, Quality: v.Label})
	})
	s.collector = NewMetricsCollector(s.logger, s.id, opts.SampleInterval, opts.Prom, func(snap SessionMetrics) {
		s.emit(Event{Kind: EventMetrics, Metrics: &snap})
	})
	return s
}

// ID returns the session identifier
func (s *StreamingSession) ID() string { return s.id }

// Type returns the resolved protocol of the active locator
func (s *StreamingSession) Type() StreamType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamType
}

// Locator returns the active media locator
func (s *StreamingSession) Locator() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locator
}

// IsLive reports live classification. Realtime-peer sessions are always live.
func (s *StreamingSession) IsLive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Live || s.streamType == StreamTypeRealtimePeer
}

// Catalog returns the session's quality catalog
func (s *StreamingSession) Catalog() *QualityCatalog { return s.catalog }

// Metrics returns the current metrics snapshot
func (s *StreamingSession) Metrics() SessionMetrics { return s.collector.Snapshot() }

// Initialize resolves the locator's protocol, replaces any previous adapter
// and blocks until the backend reports loaded, an error arrives, or ctx is
// done. A second Initialize while one is pending supersedes it: the old
// adapter is destroyed and the old caller receives ErrSuperseded.
func (s *StreamingSession) Initialize(ctx context.Context, sink MediaSink, locator string) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrSessionDestroyed
	}

	// Supersede any in-flight initialize
	if s.pending != nil {
		s.pending <- ErrSuperseded
		s.pending = nil
	}
	old := s.adapter
	s.adapter = nil

	streamType := ResolveStreamType(locator)
	s.streamType = streamType
	s.locator = locator
	s.sink = sink
	s.loadedSeen = false
	s.generation++
	gen := s.generation

	adapter := NewBackendAdapter(streamType, AdapterDeps{
		Logger:           s.logger,
		Emit:             func(ev Event) { s.handleAdapterEvent(gen, ev) },
		Manifests:        s.opts.Manifests,
		Signal:           s.opts.Signal,
		AlternateSources: s.opts.AlternateSources,
	})
	s.adapter = adapter
	pending := make(chan error, 1)
	s.pending = pending
	s.mu.Unlock()

	if old != nil {
		old.Destroy()
	}

	s.logger.Info("initializing playback",
		"session_id", s.id,
		"stream_type", streamType,
		"locator", locator)

	if !adapter.Load(sink, locator) {
		// The adapter subscribed to the sink before the rejection; tear it
		// down so stray sink events stop here.
		s.mu.Lock()
		if s.adapter == adapter {
			s.adapter = nil
		}
		s.mu.Unlock()
		adapter.Destroy()

		err := fmt.Errorf("backend rejected locator %q", locator)
		s.settlePending(gen, err)
		s.emit(Event{Kind: EventError, Reason: ErrorReasonNetwork, Err: err})
		return err
	}

	s.collector.Attach(adapter, func() string { return s.catalog.Current().Label })
	s.collector.Start()

	select {
	case err := <-pending:
		return err
	case <-ctx.Done():
		s.settlePending(gen, nil)
		return ctx.Err()
	}
}

// Refresh re-initializes the current locator on the current sink. Used as
// the retry path for recoverable errors.
func (s *StreamingSession) Refresh(ctx context.Context) error {
	s.mu.Lock()
	sink, locator := s.sink, s.locator
	s.mu.Unlock()
	if sink == nil || locator == "" {
		return fmt.Errorf("nothing to refresh")
	}
	return s.Initialize(ctx, sink, locator)
}

// handleAdapterEvent forwards one adapter event, dropping events from
// superseded adapters and resolving a pending Initialize on loaded or error
func (s *StreamingSession) handleAdapterEvent(gen int, ev Event) {
	s.mu.Lock()
	if s.destroyed || gen != s.generation {
		s.mu.Unlock()
		return
	}
	adapter := s.adapter
	s.mu.Unlock()

	switch ev.Kind {
	case EventLoaded:
		if adapter != nil {
			s.catalog.Populate(adapter.Variants())
		}
		s.mu.Lock()
		s.loadedSeen = true
		s.mu.Unlock()
		s.settlePending(gen, nil)
	case EventQualityChange:
		// Backend-initiated switch (or rendition discovery): refresh the
		// catalog and sync selection without re-firing the change callback.
		if adapter != nil {
			s.catalog.Populate(adapter.Variants())
		}
		s.catalog.setCurrent(ev.Quality)
	case EventError:
		s.settlePending(gen, fmt.Errorf("playback failed: %s", ev.Reason))
	case EventBuffering:
		s.collector.RecordBufferingStart()
	case EventPlaying, EventPaused, EventEnded:
		s.collector.RecordBufferingEnd()
	}

	s.emit(ev)
}

// settlePending resolves the Initialize waiter for a generation, if any.
// A nil error only resolves successfully when loaded has been seen.
func (s *StreamingSession) settlePending(gen int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.pending == nil {
		return
	}
	s.pending <- err
	s.pending = nil
}

// Transport commands. All are no-ops, not errors, when no adapter is
// attached or the session is destroyed.

func (s *StreamingSession) Play() {
	if a := s.activeAdapter(); a != nil {
		a.Play()
	}
}

func (s *StreamingSession) Pause() {
	if a := s.activeAdapter(); a != nil {
		a.Pause()
	}
}

// Seek moves the playhead. Disabled for realtime-peer and live-without-DVR
// sessions, where the target position is not retained.
func (s *StreamingSession) Seek(seconds float64) {
	s.mu.Lock()
	adapter := s.adapter
	disabled := SeekDisabled(s.streamType, s.opts.Live, s.opts.DVR)
	destroyed := s.destroyed
	s.mu.Unlock()
	if destroyed || adapter == nil {
		return
	}
	if disabled {
		s.logger.Warn("seek ignored for live session without DVR", "target", seconds)
		return
	}
	adapter.Seek(seconds)
}

// SeekToLiveEdge jumps the playhead to the live edge. Unlike Seek, the jump
// is permitted for live sessions without DVR: rejoining the edge never reads
// from a buffer that was not retained.
func (s *StreamingSession) SeekToLiveEdge(seconds float64) {
	s.mu.Lock()
	adapter := s.adapter
	destroyed := s.destroyed
	s.mu.Unlock()
	if destroyed || adapter == nil {
		return
	}
	adapter.Seek(seconds)
}

// SetVolume clamps to [0,1] and applies to the sink
func (s *StreamingSession) SetVolume(v float64) {
	s.mu.Lock()
	sink := s.sink
	destroyed := s.destroyed
	s.mu.Unlock()
	if destroyed || sink == nil {
		return
	}
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	sink.SetVolume(v)
}

// SetQuality validates against the catalog, commands the adapter and
// records the new selection. Local failures are returned, never emitted.
func (s *StreamingSession) SetQuality(label string) error {
	adapter := s.activeAdapter()
	if adapter == nil {
		return nil
	}
	if err := adapter.SetQuality(label); err != nil {
		s.logger.Warn("quality switch rejected", "label", label, "error", err)
		return err
	}
	return s.catalog.Select(label)
}

// On registers a handler for one event kind and returns an unsubscribe
// function
func (s *StreamingSession) On(kind EventKind, handler EventHandler) func() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.nextListener++
	id := s.nextListener
	if s.listeners[kind] == nil {
		s.listeners[kind] = make(map[int]EventHandler)
	}
	s.listeners[kind][id] = handler
	return func() {
		s.listenerMu.Lock()
		defer s.listenerMu.Unlock()
		delete(s.listeners[kind], id)
	}
}

// OnAll registers a handler for every event kind
func (s *StreamingSession) OnAll(handler EventHandler) func() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.nextListener++
	id := s.nextListener
	s.allListeners[id] = handler
	return func() {
		s.listenerMu.Lock()
		defer s.listenerMu.Unlock()
		delete(s.allListeners, id)
	}
}

// emit tags an event and delivers it to listeners in emission order
func (s *StreamingSession) emit(ev Event) {
	ev.SessionID = s.id
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.listenerMu.Lock()
	handlers := make([]EventHandler, 0, len(s.listeners[ev.Kind])+len(s.allListeners))
	for _, h := range s.listeners[ev.Kind] {
		handlers = append(handlers, h)
	}
	for _, h := range s.allListeners {
		handlers = append(handlers, h)
	}
	s.listenerMu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Destroy stops the metrics collector, destroys the adapter and clears all
// listeners. Idempotent; operations after Destroy are no-ops.
func (s *StreamingSession) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	if s.pending != nil {
		s.pending <- ErrSessionDestroyed
		s.pending = nil
	}
	adapter := s.adapter
	s.adapter = nil
	s.sink = nil
	s.mu.Unlock()

	s.collector.Stop()
	s.collector.Detach()
	if adapter != nil {
		adapter.Destroy()
	}

	s.listenerMu.Lock()
	s.listeners = make(map[EventKind]map[int]EventHandler)
	s.allListeners = make(map[int]EventHandler)
	s.listenerMu.Unlock()

	s.logger.Info("session destroyed", "session_id", s.id)
}

func (s *StreamingSession) activeAdapter() BackendAdapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil
	}
	return s.adapter
}
