package streammodule

import (
	"errors"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// SinkError lets a rendering sink report a failure already classified into
// the normalized taxonomy. Unclassified sink errors default to decode.
type SinkError struct {
	Reason ErrorReason
	Err    error
}

func (e *SinkError) Error() string {
	if e.Err != nil {
		return string(e.Reason) + ": " + e.Err.Error()
	}
	return string(e.Reason)
}

func (e *SinkError) Unwrap() error { return e.Err }

// normalizeError maps an arbitrary backend failure onto the error taxonomy
func normalizeError(err error, fallback ErrorReason) ErrorReason {
	var sinkErr *SinkError
	if errors.As(err, &sinkErr) {
		return sinkErr.Reason
	}
	return fallback
}

// AdapterDeps bundles the collaborators a backend variant may need. Unused
// fields are ignored by variants that have no use for them.
type AdapterDeps struct {
	Logger hclog.Logger

	// Emit delivers lifecycle events to the owning session. Required.
	Emit func(Event)

	// Manifests fetches and parses streaming manifests (segmented-http and
	// dynamic-adaptive variants). Nil selects the default HTTP loader.
	Manifests ManifestLoader

	// Signal dials the peer signaling channel (realtime-peer variant).
	// Nil selects the default websocket dialer.
	Signal SignalDialer

	// AlternateSources lists the known single-file renditions for a
	// progressive locator, supplied by the event-data layer.
	AlternateSources []QualityVariant
}

// NewBackendAdapter constructs the adapter variant matching a stream type
func NewBackendAdapter(streamType StreamType, deps AdapterDeps) BackendAdapter {
	switch streamType {
	case StreamTypeSegmentedHTTP:
		return newSegmentedHTTPAdapter(deps)
	case StreamTypeDynamicAdaptive:
		return newDynamicAdaptiveAdapter(deps)
	case StreamTypeRealtimePeer:
		return newRealtimePeerAdapter(deps)
	default:
		return newProgressiveAdapter(deps)
	}
}

// baseAdapter carries the sink wiring shared by all variants: native event
// translation, transport delegation, stats sampling, idempotent teardown.
type baseAdapter struct {
	logger     hclog.Logger
	streamType StreamType
	emit       func(Event)

	mu           sync.Mutex
	sink         MediaSink
	locator      string
	unsubscribe  func()
	destroyed    bool
	bandwidthBps float64
	latencyMs    float64
}

func newBaseAdapter(streamType StreamType, logger hclog.Logger, emit func(Event)) baseAdapter {
	return baseAdapter{
		logger:     logger,
		streamType: streamType,
		emit:       emit,
	}
}

func (a *baseAdapter) Type() StreamType { return a.streamType }

// attach binds the sink, subscribes to its native events and points it at
// the locator. Returns false if the synchronous attach is rejected.
func (a *baseAdapter) attach(sink MediaSink, locator string) bool {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return false
	}
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	a.sink = sink
	a.locator = locator
	a.unsubscribe = sink.Subscribe(a.onSinkEvent)
	a.mu.Unlock()

	if err := sink.Attach(locator); err != nil {
		a.logger.Error("sink rejected locator", "locator", locator, "error", err)
		return false
	}
	return true
}

// onSinkEvent translates a native sink event into the uniform event set
func (a *baseAdapter) onSinkEvent(ev SinkEvent) {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return
	}
	sink := a.sink
	a.mu.Unlock()

	switch ev.Kind {
	case SinkEventCanPlay:
		a.emit(Event{Kind: EventLoaded, Duration: sink.Duration()})
	case SinkEventPlay:
		a.emit(Event{Kind: EventPlaying})
	case SinkEventPause:
		a.emit(Event{Kind: EventPaused})
	case SinkEventWaiting:
		a.emit(Event{Kind: EventBuffering})
	case SinkEventEnded:
		a.emit(Event{Kind: EventEnded})
	case SinkEventTimeUpdate:
		a.emit(Event{
			Kind:     EventProgress,
			Position: sink.CurrentTime(),
			Duration: sink.Duration(),
			Buffered: sink.Buffered(),
		})
	case SinkEventError:
		a.emit(Event{Kind: EventError, Reason: normalizeError(ev.Err, ErrorReasonDecode), Err: ev.Err})
	}
}

func (a *baseAdapter) Play() {
	a.mu.Lock()
	sink := a.sink
	a.mu.Unlock()
	if sink == nil {
		return
	}
	if err := sink.Play(); err != nil {
		// Platform autoplay policy rejections land here; a later
		// user-gesture-triggered Play recovers.
		a.emit(Event{Kind: EventError, Reason: normalizeError(err, ErrorReasonAutoplayBlocked), Err: err})
	}
}

func (a *baseAdapter) Pause() {
	a.mu.Lock()
	sink := a.sink
	a.mu.Unlock()
	if sink != nil {
		sink.Pause()
	}
}

func (a *baseAdapter) Seek(seconds float64) {
	a.mu.Lock()
	sink := a.sink
	a.mu.Unlock()
	if sink == nil {
		return
	}
	if seconds < 0 {
		seconds = 0
	}
	if d := sink.Duration(); d > 0 && seconds > d {
		seconds = d
	}
	sink.Seek(seconds)
}

// Stats derives buffer health from the sink and merges in the variant's
// bandwidth and latency estimates
func (a *baseAdapter) Stats() AdapterStats {
	a.mu.Lock()
	sink := a.sink
	stats := AdapterStats{BandwidthBps: a.bandwidthBps, LatencyMs: a.latencyMs}
	a.mu.Unlock()
	if sink == nil {
		return stats
	}
	stats.DroppedFrames = sink.DroppedFrames()
	position := sink.CurrentTime()
	for _, r := range sink.Buffered() {
		if position >= r.Start && position <= r.End {
			stats.BufferHealthSeconds = r.End - position
			break
		}
	}
	return stats
}

func (a *baseAdapter) setEstimates(bandwidthBps, latencyMs float64) {
	a.mu.Lock()
	a.bandwidthBps = bandwidthBps
	a.latencyMs = latencyMs
	a.mu.Unlock()
}

// releaseSink detaches from the sink exactly once. Further calls are no-ops.
func (a *baseAdapter) releaseSink() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return false
	}
	a.destroyed = true
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
	if a.sink != nil {
		a.sink.Detach()
		a.sink = nil
	}
	return true
}

func (a *baseAdapter) currentSink() MediaSink {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sink
}

func (a *baseAdapter) isDestroyed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.destroyed
}
