package feed

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// pingMessageType is the frame type used for application-level
// heartbeats. The feed expects text pings rather than control frames.
const pingMessageType = websocket.TextMessage

// Conn is the slice of a websocket connection the adapter uses. The
// indirection exists so the state machine can be driven by a scripted
// fake in tests instead of a live transport.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens transport connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type wsDialer struct {
	handshakeTimeout time.Duration
}

// NewWSDialer returns the production gorilla/websocket dialer.
func NewWSDialer(handshakeTimeout time.Duration) Dialer {
	return &wsDialer{handshakeTimeout: handshakeTimeout}
}

func (d *wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
