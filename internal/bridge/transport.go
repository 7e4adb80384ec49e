package bridge

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// Transport carries ws2s JSON messages to and from a bridge.
type Transport interface {
	// Send writes one message.
	Send(ctx context.Context, msg []byte) error
	// Recv blocks for the next message.
	Recv(ctx context.Context) ([]byte, error)
	// Close tears the transport down; pending Send/Recv calls return errors.
	Close(reason string) error
}

// Dialer opens a Transport to a bridge URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebSocketDialer dials bridges over WebSocket text messages.
type WebSocketDialer struct {
	HTTPClient *http.Client
	Header     http.Header
	// ReadLimit caps a single inbound message; 0 keeps the library default.
	ReadLimit int64
}

func (d WebSocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.Header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial bridge %s: %w", url, err)
	}
	if d.ReadLimit > 0 {
		c.SetReadLimit(d.ReadLimit)
	}
	return &wsTransport{c: c}, nil
}

type wsTransport struct {
	c *websocket.Conn
}

func (t *wsTransport) Send(ctx context.Context, msg []byte) error {
	return t.c.Write(ctx, websocket.MessageText, msg)
}

func (t *wsTransport) Recv(ctx context.Context) ([]byte, error) {
	for {
		typ, b, err := t.c.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ == websocket.MessageText {
			return b, nil
		}
		// bridges only speak JSON text; binary frames are skipped
	}
}

func (t *wsTransport) Close(reason string) error {
	return t.c.Close(websocket.StatusNormalClosure, reason)
}
