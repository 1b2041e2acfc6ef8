package streammodule

import (
	"context"
	"sync"
)

// realtimePeerAdapter plays peer-to-peer realtime streams. The transport
// negotiation itself lives behind the signaling channel; this adapter owns
// the channel lifecycle and maps its outcomes onto the uniform event set.
// Realtime sessions have a single sender-controlled rendition: no seeking,
// no manual quality switches.
type realtimePeerAdapter struct {
	baseAdapter
	signal SignalDialer

	connMu    sync.Mutex
	conn      SignalConn
	readyOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newRealtimePeerAdapter(deps AdapterDeps) *realtimePeerAdapter {
	dialer := deps.Signal
	if dialer == nil {
		dialer = NewWebsocketSignalDialer(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &realtimePeerAdapter{
		baseAdapter: newBaseAdapter(StreamTypeRealtimePeer, deps.Logger.Named("realtime-peer-adapter"), deps.Emit),
		signal:      dialer,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (a *realtimePeerAdapter) Load(sink MediaSink, locator string) bool {
	if !a.attach(sink, locator) {
		return false
	}
	go a.connect(locator)
	return true
}

// connect dials the signaling channel and pumps its messages until the
// session is destroyed or the channel drops
func (a *realtimePeerAdapter) connect(locator string) {
	conn, err := a.signal.Dial(a.ctx, locator)
	if err != nil {
		if a.ctx.Err() != nil {
			return
		}
		a.logger.Error("signaling dial failed", "locator", locator, "error", err)
		a.emit(Event{Kind: EventError, Reason: normalizeError(err, ErrorReasonProtocol), Err: err})
		return
	}

	a.connMu.Lock()
	if a.isDestroyed() {
		a.connMu.Unlock()
		conn.Close()
		return
	}
	a.conn = conn
	a.connMu.Unlock()

	if err := conn.Write(SignalMessage{Type: SignalJoin}); err != nil {
		a.emit(Event{Kind: EventError, Reason: ErrorReasonProtocol, Err: err})
		return
	}

	a.wg.Add(1)
	go a.readLoop(conn)
}

func (a *realtimePeerAdapter) readLoop(conn SignalConn) {
	defer a.wg.Done()
	for {
		msg, err := conn.Read()
		if err != nil {
			if a.ctx.Err() != nil || a.isDestroyed() {
				return
			}
			a.logger.Warn("signaling channel dropped", "error", err)
			a.emit(Event{Kind: EventError, Reason: ErrorReasonNetwork, Err: err})
			return
		}

		switch msg.Type {
		case SignalReady:
			// Peer connection is negotiated; media arrives through the
			// sink, whose canplay event reports loaded.
			a.readyOnce.Do(func() {
				a.logger.Debug("peer negotiation complete")
			})
		case SignalErrorType:
			a.emit(Event{Kind: EventError, Reason: ErrorReasonProtocol, Err: &SinkError{Reason: ErrorReasonProtocol}})
			a.logger.Error("peer signaling error", "detail", msg.Error)
		case SignalBye:
			a.emit(Event{Kind: EventEnded})
			return
		}
	}
}

// Seek is a no-op: realtime-peer sessions have no retained buffer
func (a *realtimePeerAdapter) Seek(seconds float64) {
	a.logger.Warn("seek ignored for realtime-peer session", "target", seconds)
}

// SetQuality rejects manual switches; rendition selection is sender-driven
func (a *realtimePeerAdapter) SetQuality(label string) error {
	if label == QualityLabelAuto {
		return nil
	}
	return ErrUnsupportedOperation
}

func (a *realtimePeerAdapter) Variants() []QualityVariant { return nil }

func (a *realtimePeerAdapter) Destroy() {
	a.cancel()

	a.connMu.Lock()
	conn := a.conn
	a.conn = nil
	a.connMu.Unlock()
	if conn != nil {
		_ = conn.Write(SignalMessage{Type: SignalBye})
		conn.Close()
	}

	if a.releaseSink() {
		a.logger.Debug("realtime-peer adapter destroyed")
	}
	a.wg.Wait()
}
