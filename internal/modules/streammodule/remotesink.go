package streammodule

import (
	"errors"
	"math"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

// Wire message types for the player websocket. The hosting UI reports its
// native surface events upstream and receives playback commands plus the
// session event feed downstream.
const (
	wireTypeSinkEvent = "sink_event"
	wireTypeCommand   = "command"
	wireTypeEvent     = "event"
)

const (
	commandAttach    = "attach"
	commandDetach    = "detach"
	commandPlay      = "play"
	commandPause     = "pause"
	commandSeek      = "seek"
	commandSetVolume = "set_volume"
)

// ClientMessage is one frame received from the hosting UI
type ClientMessage struct {
	Type          string      `json:"type"`
	Event         string      `json:"event,omitempty"`
	ErrorReason   string      `json:"error_reason,omitempty"`
	Position      float64     `json:"position"`
	Duration      float64     `json:"duration"`
	Live          bool        `json:"live,omitempty"`
	Buffered      []TimeRange `json:"buffered,omitempty"`
	DroppedFrames int         `json:"dropped_frames"`
}

// ServerMessage is one frame sent to the hosting UI
type ServerMessage struct {
	Type    string  `json:"type"`
	Command string  `json:"command,omitempty"`
	Locator string  `json:"locator,omitempty"`
	Seconds float64 `json:"seconds,omitempty"`
	Volume  float64 `json:"volume,omitempty"`
	Event   *Event  `json:"payload,omitempty"`
}

// remoteSink adapts a websocket-connected player surface to the MediaSink
// contract. Commands go out as frames; the surface reports position,
// buffered ranges and native events back, which are cached for the
// synchronous accessors.
type remoteSink struct {
	logger hclog.Logger
	conn   *websocket.Conn

	writeMu sync.Mutex

	mu            sync.RWMutex
	position      float64
	duration      float64
	buffered      []TimeRange
	droppedFrames int
	subs          map[int]func(SinkEvent)
	nextSub       int
	closed        bool
}

func newRemoteSink(logger hclog.Logger, conn *websocket.Conn) *remoteSink {
	return &remoteSink{
		logger:   logger.Named("remote-sink"),
		conn:     conn,
		duration: math.NaN(),
		subs:     make(map[int]func(SinkEvent)),
	}
}

// send writes one frame, serializing against other writers on the conn
func (r *remoteSink) send(msg ServerMessage) error {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return errors.New("sink connection closed")
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.conn.WriteJSON(msg)
}

func (r *remoteSink) command(name string, mutate func(*ServerMessage)) error {
	msg := ServerMessage{Type: wireTypeCommand, Command: name}
	if mutate != nil {
		mutate(&msg)
	}
	return r.send(msg)
}

func (r *remoteSink) Attach(locator string) error {
	return r.command(commandAttach, func(m *ServerMessage) { m.Locator = locator })
}

func (r *remoteSink) Detach() {
	if err := r.command(commandDetach, nil); err != nil {
		r.logger.Debug("detach command dropped", "error", err)
	}
}

func (r *remoteSink) Play() error {
	return r.command(commandPlay, nil)
}

func (r *remoteSink) Pause() {
	if err := r.command(commandPause, nil); err != nil {
		r.logger.Debug("pause command dropped", "error", err)
	}
}

func (r *remoteSink) Seek(seconds float64) {
	err := r.command(commandSeek, func(m *ServerMessage) { m.Seconds = seconds })
	if err != nil {
		r.logger.Debug("seek command dropped", "error", err)
	}
}

func (r *remoteSink) SetVolume(v float64) {
	err := r.command(commandSetVolume, func(m *ServerMessage) { m.Volume = v })
	if err != nil {
		r.logger.Debug("volume command dropped", "error", err)
	}
}

func (r *remoteSink) CurrentTime() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.position
}

func (r *remoteSink) Duration() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if math.IsNaN(r.duration) {
		return 0
	}
	return r.duration
}

func (r *remoteSink) Buffered() []TimeRange {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TimeRange, len(r.buffered))
	copy(out, r.buffered)
	return out
}

func (r *remoteSink) DroppedFrames() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.droppedFrames
}

func (r *remoteSink) Subscribe(fn func(SinkEvent)) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// handleClientMessage updates the cached surface state and fans the native
// event out to subscribers in arrival order.
func (r *remoteSink) handleClientMessage(msg ClientMessage) {
	if msg.Type != wireTypeSinkEvent {
		return
	}

	r.mu.Lock()
	r.position = msg.Position
	if msg.Live && msg.Duration <= 0 {
		r.duration = math.Inf(1)
	} else {
		r.duration = msg.Duration
	}
	if msg.Buffered != nil {
		r.buffered = msg.Buffered
	}
	if msg.DroppedFrames > r.droppedFrames {
		r.droppedFrames = msg.DroppedFrames
	}
	handlers := make([]func(SinkEvent), 0, len(r.subs))
	for _, fn := range r.subs {
		handlers = append(handlers, fn)
	}
	r.mu.Unlock()

	ev := SinkEvent{Kind: SinkEventKind(msg.Event)}
	if ev.Kind == SinkEventError {
		reason := ErrorReason(msg.ErrorReason)
		if reason == "" {
			reason = ErrorReasonDecode
		}
		ev.Err = &SinkError{Reason: reason, Err: errors.New("surface reported failure")}
	}
	for _, fn := range handlers {
		fn(ev)
	}
}

// close marks the sink dead; subsequent commands fail at the conn
func (r *remoteSink) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}
