package streammodule

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Default gesture tuning. Overridable per controller.
const (
	DefaultBehindLiveThreshold = 10.0
	DefaultSeekStep            = 10.0
	DefaultVolumeStep          = 0.1
)

// LiveTimeLabel is the sentinel rendered instead of a numeric time for live
// sessions
const LiveTimeLabel = "LIVE"

// Keyboard shortcut keys understood by HandleKey
const (
	KeySpace      = " "
	KeyMute       = "m"
	KeyFullscreen = "f"
	KeyArrowLeft  = "arrowleft"
	KeyArrowRight = "arrowright"
	KeyArrowUp    = "arrowup"
	KeyArrowDown  = "arrowdown"
)

// PercentRange is a buffered interval expressed against duration
type PercentRange struct {
	StartPercent float64 `json:"start_percent"`
	EndPercent   float64 `json:"end_percent"`
}

// ControllerConfig tunes the UI-facing behavior
type ControllerConfig struct {
	BehindLiveThreshold float64
	SeekStep            float64
	VolumeStep          float64
}

func (c *ControllerConfig) applyDefaults() {
	if c.BehindLiveThreshold <= 0 {
		c.BehindLiveThreshold = DefaultBehindLiveThreshold
	}
	if c.SeekStep <= 0 {
		c.SeekStep = DefaultSeekStep
	}
	if c.VolumeStep <= 0 {
		c.VolumeStep = DefaultVolumeStep
	}
}

// PlaybackController maintains the UI state machine for one session. It is
// driven purely by session events and never polls; user gestures flow back
// through it as session commands.
type PlaybackController struct {
	logger  hclog.Logger
	session *StreamingSession
	cfg     ControllerConfig

	mu          sync.Mutex
	state       PlaybackState
	currentTime float64
	duration    float64
	buffered    []TimeRange
	volume      float64
	savedVolume float64
	muted       bool
	fullscreen  bool
	playing     bool
	dragging    bool
	dragPercent float64
	behindLive  bool
	lastError   ErrorReason

	unsubscribe func()
}

// NewPlaybackController creates a controller bound to a session. Close must
// be called on unmount to release the event subscription.
func NewPlaybackController(logger hclog.Logger, session *StreamingSession, cfg ControllerConfig) *PlaybackController {
	cfg.applyDefaults()
	c := &PlaybackController{
		logger:  logger.Named("playback-controller"),
		session: session,
		cfg:     cfg,
		state:   StateIdle,
		volume:  1,
	}
	c.unsubscribe = session.OnAll(c.handleEvent)
	return c
}

// Initialize drives the session load and tracks the loading state
func (c *PlaybackController) Initialize(ctx context.Context, sink MediaSink, locator string) error {
	c.mu.Lock()
	c.state = StateLoading
	c.lastError = ""
	c.mu.Unlock()

	if err := c.session.Initialize(ctx, sink, locator); err != nil {
		c.mu.Lock()
		if c.state == StateLoading {
			c.state = StateError
		}
		c.mu.Unlock()
		return err
	}
	c.mu.Lock()
	if c.state == StateLoading {
		c.state = StatePaused
	}
	c.mu.Unlock()
	return nil
}

// Refresh retries after a recoverable error with one re-initialize of the
// same locator
func (c *PlaybackController) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateLoading
	c.lastError = ""
	c.mu.Unlock()

	if err := c.session.Refresh(ctx); err != nil {
		c.mu.Lock()
		if c.state == StateLoading {
			c.state = StateError
		}
		c.mu.Unlock()
		return err
	}
	c.mu.Lock()
	if c.state == StateLoading {
		c.state = StatePaused
	}
	c.mu.Unlock()
	return nil
}

func (c *PlaybackController) handleEvent(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case EventLoaded:
		c.duration = ev.Duration
	case EventPlaying:
		c.state = StatePlaying
		c.playing = true
	case EventPaused:
		c.state = StatePaused
		c.playing = false
	case EventBuffering:
		if c.state != StateError && c.state != StateEnded {
			c.state = StateBuffering
		}
	case EventEnded:
		c.state = StateEnded
		c.playing = false
	case EventError:
		c.state = StateError
		c.playing = false
		c.lastError = ev.Reason
	case EventProgress:
		c.currentTime = ev.Position
		c.duration = ev.Duration
		c.buffered = ev.Buffered
	case EventMetrics:
		c.recomputeBehindLiveLocked()
	}
}

// recomputeBehindLiveLocked updates the behind-live indicator from the
// latest playhead and buffer positions
func (c *PlaybackController) recomputeBehindLiveLocked() {
	if !c.session.IsLive() {
		c.behindLive = false
		return
	}
	edge := c.liveEdgeLocked()
	c.behindLive = edge-c.currentTime > c.cfg.BehindLiveThreshold
}

// liveEdgeLocked is the most recent playable position: a finite duration,
// otherwise the end of the furthest buffered range
func (c *PlaybackController) liveEdgeLocked() float64 {
	if c.duration > 0 && !math.IsInf(c.duration, 1) {
		return c.duration
	}
	edge := 0.0
	for _, r := range c.buffered {
		if r.End > edge {
			edge = r.End
		}
	}
	return edge
}

// State returns the current playback state
func (c *PlaybackController) State() PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the reason of the most recent error event
func (c *PlaybackController) LastError() ErrorReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// AutoplayBlocked reports whether the distinct play-button recovery applies
// instead of the generic retry affordance
func (c *PlaybackController) AutoplayBlocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError == ErrorReasonAutoplayBlocked
}

// CurrentTimeLabel formats the displayed time. While dragging it tracks the
// pointer, not the playhead.
func (c *PlaybackController) CurrentTimeLabel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.IsLive() {
		return LiveTimeLabel
	}
	t := c.currentTime
	if c.dragging {
		t = c.dragPercent / 100 * c.duration
	}
	return formatTime(t)
}

// DurationLabel formats the total duration, or the live sentinel when the
// duration is infinite or unknown
func (c *PlaybackController) DurationLabel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.IsLive() || math.IsInf(c.duration, 1) || c.duration <= 0 {
		return LiveTimeLabel
	}
	return formatTime(c.duration)
}

// ProgressPercent is the playhead position against duration. Live sessions
// always report 100 and suppress seeking affordances entirely.
func (c *PlaybackController) ProgressPercent() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.IsLive() {
		return 100
	}
	if c.duration <= 0 || math.IsInf(c.duration, 1) {
		return 0
	}
	if c.dragging {
		return c.dragPercent
	}
	return clampPercent(c.currentTime / c.duration * 100)
}

// SeekEnabled reports whether the scrubber and arrow-key seeking apply
func (c *PlaybackController) SeekEnabled() bool {
	return !c.session.IsLive()
}

// BufferedSegments maps each buffered interval to a percent range for the
// scrubber's buffered indicator. Empty for live sessions, whose scrubber
// is suppressed.
func (c *PlaybackController) BufferedSegments() []PercentRange {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.IsLive() || c.duration <= 0 || math.IsInf(c.duration, 1) {
		return nil
	}
	segments := make([]PercentRange, 0, len(c.buffered))
	for _, r := range c.buffered {
		segments = append(segments, PercentRange{
			StartPercent: clampPercent(r.Start / c.duration * 100),
			EndPercent:   clampPercent(r.End / c.duration * 100),
		})
	}
	return segments
}

// IsBehindLive reports whether the playhead trails the live edge beyond the
// configured threshold
func (c *PlaybackController) IsBehindLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.behindLive
}

// GoLive seeks to the live edge, even for live sessions whose user seeking
// is gated off. The indicator clears on the next metrics tick once the
// playhead has caught up.
func (c *PlaybackController) GoLive() {
	c.mu.Lock()
	if !c.session.IsLive() || !c.behindLive {
		c.mu.Unlock()
		return
	}
	edge := c.liveEdgeLocked()
	c.mu.Unlock()
	c.session.SeekToLiveEdge(edge)
}

// TogglePlay flips between play and pause
func (c *PlaybackController) TogglePlay() {
	c.mu.Lock()
	playing := c.playing
	c.mu.Unlock()
	if playing {
		c.session.Pause()
	} else {
		c.session.Play()
	}
}

// SetVolume applies a clamped volume and clears mute
func (c *PlaybackController) SetVolume(v float64) {
	v = clampUnit(v)
	c.mu.Lock()
	c.volume = v
	c.muted = false
	c.mu.Unlock()
	c.session.SetVolume(v)
}

// ToggleMute silences the sink, remembering the volume to restore
func (c *PlaybackController) ToggleMute() {
	c.mu.Lock()
	if c.muted {
		c.muted = false
		c.volume = c.savedVolume
	} else {
		c.muted = true
		c.savedVolume = c.volume
		c.volume = 0
	}
	v := c.volume
	c.mu.Unlock()
	c.session.SetVolume(v)
}

// ToggleFullscreen flips the tracked fullscreen flag; the hosting surface
// performs the actual transition
func (c *PlaybackController) ToggleFullscreen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fullscreen = !c.fullscreen
}

// Fullscreen reports the tracked fullscreen flag
func (c *PlaybackController) Fullscreen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fullscreen
}

// Volume returns the current volume
func (c *PlaybackController) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// PointerDown enters the drag-scrub sub-state at a scrubber percent.
// Ignored for live sessions.
func (c *PlaybackController) PointerDown(percent float64) {
	if !c.SeekEnabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dragging = true
	c.dragPercent = clampPercent(percent)
}

// PointerMove tracks the pointer while dragging. The session playhead is
// not touched until release.
func (c *PlaybackController) PointerMove(percent float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dragging {
		return
	}
	c.dragPercent = clampPercent(percent)
}

// PointerUp commits the dragged position with a single seek and exits the
// drag sub-state
func (c *PlaybackController) PointerUp(percent float64) {
	c.mu.Lock()
	if !c.dragging {
		c.mu.Unlock()
		return
	}
	c.dragging = false
	c.dragPercent = clampPercent(percent)
	target := c.dragPercent / 100 * c.duration
	c.mu.Unlock()
	c.session.Seek(target)
}

// PointerLeave while dragging commits at the last tracked position rather
// than cancelling, so no stale drag state survives the pointer leaving the
// scrubber
func (c *PlaybackController) PointerLeave() {
	c.mu.Lock()
	if !c.dragging {
		c.mu.Unlock()
		return
	}
	c.dragging = false
	target := c.dragPercent / 100 * c.duration
	c.mu.Unlock()
	c.session.Seek(target)
}

// HandleKey dispatches a document-level keyboard shortcut. Keys are matched
// case-insensitively by their lowercase name.
func (c *PlaybackController) HandleKey(key string) {
	switch key {
	case KeySpace:
		c.TogglePlay()
	case KeyMute:
		c.ToggleMute()
	case KeyFullscreen:
		c.ToggleFullscreen()
	case KeyArrowLeft, KeyArrowRight:
		if !c.SeekEnabled() {
			return
		}
		c.mu.Lock()
		target := c.currentTime
		c.mu.Unlock()
		if key == KeyArrowLeft {
			target -= c.cfg.SeekStep
		} else {
			target += c.cfg.SeekStep
		}
		c.session.Seek(target)
	case KeyArrowUp:
		c.SetVolume(c.Volume() + c.cfg.VolumeStep)
	case KeyArrowDown:
		c.SetVolume(c.Volume() - c.cfg.VolumeStep)
	}
}

// Close releases the session subscription. Mirrors unmount: keyboard and
// event bindings must not outlive the controller.
func (c *PlaybackController) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

// formatTime renders MM:SS, or H:MM:SS once an hour is reached
func formatTime(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = 0
	}
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
