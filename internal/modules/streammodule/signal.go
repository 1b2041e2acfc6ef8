package streammodule

import (
	"context"
	"strings"

	"github.com/gorilla/websocket"
)

// SignalMessage is one message on the peer signaling channel
type SignalMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Signaling message types
const (
	SignalJoin      = "join"
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
	SignalReady     = "ready"
	SignalBye       = "bye"
	SignalErrorType = "error"
)

// SignalConn is an established signaling channel
type SignalConn interface {
	Read() (SignalMessage, error)
	Write(msg SignalMessage) error
	Close() error
}

// SignalDialer opens signaling channels for realtime-peer sessions
type SignalDialer interface {
	Dial(ctx context.Context, locator string) (SignalConn, error)
}

// websocketSignalConn wraps a websocket connection as a SignalConn
type websocketSignalConn struct {
	conn *websocket.Conn
}

func (c *websocketSignalConn) Read() (SignalMessage, error) {
	var msg SignalMessage
	err := c.conn.ReadJSON(&msg)
	return msg, err
}

func (c *websocketSignalConn) Write(msg SignalMessage) error {
	return c.conn.WriteJSON(msg)
}

func (c *websocketSignalConn) Close() error {
	return c.conn.Close()
}

// websocketSignalDialer is the default dialer. Peer locators use the
// webrtc:// or peer:// scheme; the signaling endpoint is the same host and
// path over secure websocket.
type websocketSignalDialer struct {
	dialer *websocket.Dialer
}

// NewWebsocketSignalDialer creates the default signaling dialer
func NewWebsocketSignalDialer(dialer *websocket.Dialer) SignalDialer {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &websocketSignalDialer{dialer: dialer}
}

func (d *websocketSignalDialer) Dial(ctx context.Context, locator string) (SignalConn, error) {
	endpoint := signalEndpoint(locator)
	conn, resp, err := d.dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &websocketSignalConn{conn: conn}, nil
}

// signalEndpoint rewrites a peer locator scheme to its websocket endpoint
func signalEndpoint(locator string) string {
	lower := strings.ToLower(locator)
	switch {
	case strings.HasPrefix(lower, schemeWebRTC):
		return "wss://" + locator[len(schemeWebRTC):]
	case strings.HasPrefix(lower, schemePeer):
		return "wss://" + locator[len(schemePeer):]
	default:
		return locator
	}
}
