package streammodule

import (
	"errors"
	"time"
)

// StreamType identifies the protocol backend used for a media locator
type StreamType string

const (
	StreamTypeProgressive     StreamType = "progressive"
	StreamTypeSegmentedHTTP   StreamType = "segmented-http"
	StreamTypeDynamicAdaptive StreamType = "dynamic-adaptive"
	StreamTypeRealtimePeer    StreamType = "realtime-peer"
)

// QualityLabelAuto is the synthetic catalog entry for automatic selection
const QualityLabelAuto = "auto"

// QualityVariant describes one rendition of a stream
type QualityVariant struct {
	Label        string `json:"label"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	BandwidthBps int    `json:"bandwidth_bps"`
	Locator      string `json:"locator,omitempty"`
}

// TimeRange is a buffered interval in seconds
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// SessionMetrics is the read-only snapshot produced by the MetricsCollector.
// It is mutated only on the collector's sampling tick.
type SessionMetrics struct {
	CurrentQuality      string  `json:"current_quality"`
	BandwidthMbps       float64 `json:"bandwidth_mbps"`
	LatencyMs           float64 `json:"latency_ms"`
	BufferHealthSeconds float64 `json:"buffer_health_seconds"`
	DroppedFrames       int     `json:"dropped_frames"`
	RebufferCount       int     `json:"rebuffer_count"`
	TotalRebufferMs     int64   `json:"total_rebuffer_ms"`
}

// PlaybackState represents the UI-facing player state machine
type PlaybackState string

const (
	StateIdle      PlaybackState = "idle"
	StateLoading   PlaybackState = "loading"
	StatePlaying   PlaybackState = "playing"
	StatePaused    PlaybackState = "paused"
	StateBuffering PlaybackState = "buffering"
	StateEnded     PlaybackState = "ended"
	StateError     PlaybackState = "error"
)

// ErrorReason is the normalized error taxonomy surfaced through error events.
// Backend-internal failures are mapped onto these before they reach listeners.
type ErrorReason string

const (
	ErrorReasonNetwork         ErrorReason = "network"
	ErrorReasonUnsupported     ErrorReason = "unsupported"
	ErrorReasonDecode          ErrorReason = "decode"
	ErrorReasonProtocol        ErrorReason = "protocol"
	ErrorReasonAutoplayBlocked ErrorReason = "autoplay-blocked"
)

// Local operation errors. These are returned to the caller and never change
// session state.
var (
	ErrInvalidQuality       = errors.New("quality label not present in catalog")
	ErrUnsupportedOperation = errors.New("operation not supported by this backend")
	ErrSuperseded           = errors.New("initialize superseded by a newer call")
	ErrSessionDestroyed     = errors.New("session already destroyed")
)

// EventKind enumerates the uniform event set re-emitted by a StreamingSession.
// Every backend's native event names are mapped onto these.
type EventKind string

const (
	EventLoaded        EventKind = "loaded"
	EventPlaying       EventKind = "playing"
	EventPaused        EventKind = "paused"
	EventBuffering     EventKind = "buffering"
	EventEnded         EventKind = "ended"
	EventError         EventKind = "error"
	EventQualityChange EventKind = "qualityChange"
	EventProgress      EventKind = "progress"
	EventMetrics       EventKind = "metrics"
)

// Event is a single session event. Adapter events are forwarded verbatim,
// tagged with a timestamp at re-emission.
type Event struct {
	Kind      EventKind       `json:"kind"`
	SessionID string          `json:"session_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Reason    ErrorReason     `json:"reason,omitempty"`
	Err       error           `json:"-"`
	Quality   string          `json:"quality,omitempty"`
	Position  float64         `json:"position,omitempty"`
	Duration  float64         `json:"duration,omitempty"`
	Buffered  []TimeRange     `json:"buffered,omitempty"`
	Metrics   *SessionMetrics `json:"metrics,omitempty"`
}

// EventHandler consumes session events
type EventHandler func(Event)

// AdapterStats holds the protocol-specific counters a backend exposes to the
// MetricsCollector on each sampling tick.
type AdapterStats struct {
	BandwidthBps        float64
	LatencyMs           float64
	BufferHealthSeconds float64
	DroppedFrames       int
}

// SinkEventKind enumerates the native events a rendering sink produces
type SinkEventKind string

const (
	SinkEventCanPlay    SinkEventKind = "canplay"
	SinkEventPlay       SinkEventKind = "play"
	SinkEventPause      SinkEventKind = "pause"
	SinkEventWaiting    SinkEventKind = "waiting"
	SinkEventEnded      SinkEventKind = "ended"
	SinkEventError      SinkEventKind = "error"
	SinkEventTimeUpdate SinkEventKind = "timeupdate"
)

// SinkEvent is a native rendering-surface event
type SinkEvent struct {
	Kind SinkEventKind
	Err  error
}

// MediaSink is the drawable media surface supplied by the hosting UI. The
// streaming core drives it but never owns it.
type MediaSink interface {
	// Attach points the sink at a locator. Expected failures are reported
	// through sink events, not the return value.
	Attach(locator string) error
	Detach()

	Play() error
	Pause()
	Seek(seconds float64)
	SetVolume(v float64)

	CurrentTime() float64
	// Duration returns +Inf for live streams with no known end
	Duration() float64
	Buffered() []TimeRange
	DroppedFrames() int

	// Subscribe registers a native event handler and returns an unsubscribe
	// function. Handlers are invoked in event order.
	Subscribe(fn func(SinkEvent)) func()
}

// BackendAdapter is the common contract all protocol variants implement.
// Lifecycle is reported through the emit callback supplied at construction,
// never by throwing across the session boundary.
type BackendAdapter interface {
	Type() StreamType

	// Load attaches media to the sink. Returns false only for failures that
	// are detectable synchronously; asynchronous outcomes arrive as loaded
	// or error events.
	Load(sink MediaSink, locator string) bool

	Play()
	Pause()
	Seek(seconds float64)

	// SetQuality switches renditions. Returns ErrInvalidQuality or
	// ErrUnsupportedOperation for local failures.
	SetQuality(label string) error

	// Variants lists the renditions discovered for the loaded locator,
	// sorted descending by bandwidth for display.
	Variants() []QualityVariant

	// Stats exposes counters for the MetricsCollector
	Stats() AdapterStats

	// Destroy releases all backend resources. Idempotent.
	Destroy()
}
