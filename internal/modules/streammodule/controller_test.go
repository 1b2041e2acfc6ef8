package streammodule

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// vodController wires a controller to an initialized video-on-demand session
// backed by a fake sink
func vodController(t *testing.T, cfg ControllerConfig) (*PlaybackController, *StreamingSession, *fakeSink) {
	t.Helper()
	s := newTestSession(SessionOptions{})
	c := NewPlaybackController(hclog.NewNullLogger(), s, cfg)
	sink := newFakeSink()
	sink.duration = 120
	require.NoError(t, c.Initialize(context.Background(), sink, "https://cdn.example.com/replay.mp4"))
	t.Cleanup(func() {
		c.Close()
		s.Destroy()
	})
	return c, s, sink
}

func TestPlaybackController_StateTransitions(t *testing.T) {
	c, s, _ := vodController(t, ControllerConfig{})
	assert.Equal(t, StatePaused, c.State())

	s.emit(Event{Kind: EventPlaying})
	assert.Equal(t, StatePlaying, c.State())

	s.emit(Event{Kind: EventBuffering})
	assert.Equal(t, StateBuffering, c.State())

	s.emit(Event{Kind: EventPlaying})
	s.emit(Event{Kind: EventPaused})
	assert.Equal(t, StatePaused, c.State())

	s.emit(Event{Kind: EventEnded})
	assert.Equal(t, StateEnded, c.State())

	// Buffering does not mask a terminal state
	s.emit(Event{Kind: EventBuffering})
	assert.Equal(t, StateEnded, c.State())

	s.emit(Event{Kind: EventError, Reason: ErrorReasonDecode})
	assert.Equal(t, StateError, c.State())
	s.emit(Event{Kind: EventBuffering})
	assert.Equal(t, StateError, c.State())
}

func TestPlaybackController_InitializeFailureEntersError(t *testing.T) {
	s := newTestSession(SessionOptions{})
	defer s.Destroy()
	c := NewPlaybackController(hclog.NewNullLogger(), s, ControllerConfig{})
	defer c.Close()

	sink := newFakeSink()
	sink.attachErr = assert.AnError
	require.Error(t, c.Initialize(context.Background(), sink, "https://cdn.example.com/replay.mp4"))
	assert.Equal(t, StateError, c.State())
}

func TestPlaybackController_ProgressDisplay(t *testing.T) {
	c, s, _ := vodController(t, ControllerConfig{})

	s.emit(Event{
		Kind:     EventProgress,
		Position: 10,
		Duration: 120,
		Buffered: []TimeRange{{Start: 0, End: 45}},
	})

	assert.InDelta(t, 8.33, c.ProgressPercent(), 0.01)
	assert.Equal(t, "00:10", c.CurrentTimeLabel())
	assert.Equal(t, "02:00", c.DurationLabel())
	assert.True(t, c.SeekEnabled())

	segments := c.BufferedSegments()
	require.Len(t, segments, 1)
	assert.InDelta(t, 0, segments[0].StartPercent, 0.01)
	assert.InDelta(t, 37.5, segments[0].EndPercent, 0.01)
}

func TestPlaybackController_HourLongDurationLabel(t *testing.T) {
	c, s, _ := vodController(t, ControllerConfig{})

	s.emit(Event{Kind: EventProgress, Position: 3725, Duration: 5400})
	assert.Equal(t, "1:02:05", c.CurrentTimeLabel())
	assert.Equal(t, "1:30:00", c.DurationLabel())
}

func TestPlaybackController_LiveDisplay(t *testing.T) {
	s := newTestSession(SessionOptions{Live: true})
	defer s.Destroy()
	c := NewPlaybackController(hclog.NewNullLogger(), s, ControllerConfig{})
	defer c.Close()

	s.emit(Event{
		Kind:     EventProgress,
		Position: 30,
		Duration: 0,
		Buffered: []TimeRange{{Start: 0, End: 55}},
	})

	assert.Equal(t, 100.0, c.ProgressPercent())
	assert.False(t, c.SeekEnabled())
	assert.Equal(t, LiveTimeLabel, c.CurrentTimeLabel())
	assert.Equal(t, LiveTimeLabel, c.DurationLabel())
	assert.Nil(t, c.BufferedSegments())

	// The scrubber is suppressed entirely
	c.PointerDown(50)
	c.PointerUp(50)
	assert.Equal(t, 100.0, c.ProgressPercent())
}

func TestPlaybackController_DragScrubCommitsOnce(t *testing.T) {
	c, s, sink := vodController(t, ControllerConfig{})
	s.emit(Event{Kind: EventProgress, Position: 10, Duration: 120})

	c.PointerDown(20)
	c.PointerMove(40)
	c.PointerMove(60)

	// While dragging, the displayed time follows the pointer and the
	// playhead stays put
	assert.Equal(t, 60.0, c.ProgressPercent())
	assert.Equal(t, "01:12", c.CurrentTimeLabel())
	assert.Empty(t, sink.seekTargets())

	c.PointerUp(75)
	assert.Equal(t, []float64{90}, sink.seekTargets())

	// Further pointer motion after release is inert
	c.PointerMove(10)
	c.PointerUp(10)
	assert.Equal(t, []float64{90}, sink.seekTargets())
}

func TestPlaybackController_PointerLeaveCommits(t *testing.T) {
	c, s, sink := vodController(t, ControllerConfig{})
	s.emit(Event{Kind: EventProgress, Position: 10, Duration: 120})

	c.PointerDown(25)
	c.PointerMove(50)
	c.PointerLeave()
	assert.Equal(t, []float64{60}, sink.seekTargets())

	c.PointerLeave()
	assert.Equal(t, []float64{60}, sink.seekTargets())
}

func TestPlaybackController_BehindLiveAndGoLive(t *testing.T) {
	loader := &fakeManifestLoader{manifest: &Manifest{
		Renditions: []Rendition{{Height: 720, BandwidthBps: 2000000, URI: "https://cdn.example.com/720.m3u8"}},
	}}
	s := newTestSession(SessionOptions{Live: true, DVR: true, Manifests: loader})
	defer s.Destroy()
	c := NewPlaybackController(hclog.NewNullLogger(), s, ControllerConfig{})
	defer c.Close()

	sink := newFakeSink()
	require.NoError(t, c.Initialize(context.Background(), sink, "https://cdn.example.com/live.m3u8"))

	s.emit(Event{
		Kind:     EventProgress,
		Position: 30,
		Buffered: []TimeRange{{Start: 0, End: 55}},
	})
	assert.False(t, c.IsBehindLive(), "indicator only updates on metrics ticks")

	// GoLive before the indicator is set is a no-op
	c.GoLive()
	assert.Empty(t, sink.seekTargets())

	s.emit(Event{Kind: EventMetrics, Metrics: &SessionMetrics{}})
	assert.True(t, c.IsBehindLive())

	c.GoLive()
	assert.Equal(t, []float64{55}, sink.seekTargets())

	// Playhead catches up; the next tick clears the indicator
	s.emit(Event{Kind: EventProgress, Position: 54, Buffered: []TimeRange{{Start: 0, End: 55}}})
	s.emit(Event{Kind: EventMetrics, Metrics: &SessionMetrics{}})
	assert.False(t, c.IsBehindLive())
}

func TestPlaybackController_GoLiveWithoutDVR(t *testing.T) {
	loader := &fakeManifestLoader{manifest: &Manifest{
		Renditions: []Rendition{{Height: 720, BandwidthBps: 2000000, URI: "https://cdn.example.com/720.m3u8"}},
	}}
	s := newTestSession(SessionOptions{Live: true, Manifests: loader})
	defer s.Destroy()
	c := NewPlaybackController(hclog.NewNullLogger(), s, ControllerConfig{})
	defer c.Close()

	sink := newFakeSink()
	require.NoError(t, c.Initialize(context.Background(), sink, "https://cdn.example.com/live.m3u8"))

	// Playhead falls behind the edge, e.g. after a long pause
	s.emit(Event{
		Kind:     EventProgress,
		Position: 30,
		Buffered: []TimeRange{{Start: 0, End: 55}},
	})
	s.emit(Event{Kind: EventMetrics, Metrics: &SessionMetrics{}})
	assert.True(t, c.IsBehindLive())

	// User seeks stay gated without DVR
	s.Seek(40)
	assert.Empty(t, sink.seekTargets())

	// Catching up to the edge is not a user seek
	c.GoLive()
	assert.Equal(t, []float64{55}, sink.seekTargets())

	s.emit(Event{Kind: EventProgress, Position: 54, Buffered: []TimeRange{{Start: 0, End: 55}}})
	s.emit(Event{Kind: EventMetrics, Metrics: &SessionMetrics{}})
	assert.False(t, c.IsBehindLive())
}

func TestPlaybackController_TogglePlay(t *testing.T) {
	c, s, sink := vodController(t, ControllerConfig{})

	c.TogglePlay()
	assert.Equal(t, 1, sink.playCount)

	s.emit(Event{Kind: EventPlaying})
	c.TogglePlay()
	assert.Equal(t, 1, sink.pauseCount)

	s.emit(Event{Kind: EventPaused})
	c.TogglePlay()
	assert.Equal(t, 2, sink.playCount)
}

func TestPlaybackController_MuteRestoresVolume(t *testing.T) {
	c, _, sink := vodController(t, ControllerConfig{})

	c.SetVolume(0.3)
	assert.Equal(t, 0.3, c.Volume())

	c.ToggleMute()
	assert.Equal(t, 0.0, c.Volume())

	c.ToggleMute()
	assert.Equal(t, 0.3, c.Volume())
	assert.Equal(t, []float64{0.3, 0, 0.3}, sink.volumes)
}

func TestPlaybackController_ToggleFullscreen(t *testing.T) {
	c, _, _ := vodController(t, ControllerConfig{})

	assert.False(t, c.Fullscreen())
	c.ToggleFullscreen()
	assert.True(t, c.Fullscreen())
	c.ToggleFullscreen()
	assert.False(t, c.Fullscreen())
}

func TestPlaybackController_HandleKey(t *testing.T) {
	c, s, sink := vodController(t, ControllerConfig{})
	s.emit(Event{Kind: EventProgress, Position: 10, Duration: 120})

	c.HandleKey(KeySpace)
	assert.Equal(t, 1, sink.playCount)

	c.HandleKey(KeyMute)
	assert.Equal(t, 0.0, c.Volume())
	c.HandleKey(KeyMute)
	assert.Equal(t, 1.0, c.Volume())

	c.HandleKey(KeyFullscreen)
	assert.True(t, c.Fullscreen())

	c.HandleKey(KeyArrowRight)
	c.HandleKey(KeyArrowLeft)
	assert.Equal(t, []float64{20, 0}, sink.seekTargets())

	c.HandleKey(KeyArrowDown)
	assert.InDelta(t, 0.9, c.Volume(), 1e-9)
	c.HandleKey(KeyArrowUp)
	assert.InDelta(t, 1.0, c.Volume(), 1e-9)

	// Unknown keys are ignored
	c.HandleKey("x")
	assert.Equal(t, 1, sink.playCount)
}

func TestPlaybackController_ArrowSeekDisabledForLive(t *testing.T) {
	s := newTestSession(SessionOptions{Live: true})
	defer s.Destroy()
	c := NewPlaybackController(hclog.NewNullLogger(), s, ControllerConfig{})
	defer c.Close()

	sink := newFakeSink()
	require.NoError(t, c.Initialize(context.Background(), sink, "https://cdn.example.com/feed.mp4"))

	c.HandleKey(KeyArrowRight)
	assert.Empty(t, sink.seekTargets())
}

func TestPlaybackController_ErrorThenRefresh(t *testing.T) {
	c, s, sink := vodController(t, ControllerConfig{})

	s.emit(Event{Kind: EventError, Reason: ErrorReasonNetwork})
	assert.Equal(t, StateError, c.State())
	assert.Equal(t, ErrorReasonNetwork, c.LastError())
	assert.False(t, c.AutoplayBlocked())

	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, StatePaused, c.State())
	assert.Empty(t, c.LastError())
	assert.Len(t, sink.attachedLocators(), 2, "one re-initialize per retry")
}

func TestPlaybackController_AutoplayBlocked(t *testing.T) {
	c, s, _ := vodController(t, ControllerConfig{})

	s.emit(Event{Kind: EventError, Reason: ErrorReasonAutoplayBlocked})
	assert.Equal(t, StateError, c.State())
	assert.True(t, c.AutoplayBlocked())
}

func TestPlaybackController_CloseStopsTracking(t *testing.T) {
	c, s, _ := vodController(t, ControllerConfig{})

	c.Close()
	c.Close()

	s.emit(Event{Kind: EventPlaying})
	assert.Equal(t, StatePaused, c.State())
}

func TestPlaybackController_ConfigOverrides(t *testing.T) {
	c, s, sink := vodController(t, ControllerConfig{SeekStep: 5, VolumeStep: 0.25})
	s.emit(Event{Kind: EventProgress, Position: 50, Duration: 120})

	c.HandleKey(KeyArrowRight)
	assert.Equal(t, []float64{55}, sink.seekTargets())

	c.HandleKey(KeyArrowDown)
	assert.InDelta(t, 0.75, c.Volume(), 1e-9)
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "00:00", formatTime(0))
	assert.Equal(t, "00:59", formatTime(59.9))
	assert.Equal(t, "10:05", formatTime(605))
	assert.Equal(t, "1:00:00", formatTime(3600))
	assert.Equal(t, "00:00", formatTime(-5))
}
