// Package ws provides the websocket transport used by the session engine.
package ws

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"

	"github.com/vovakirdan/plugterm/internal/core"
)

// readLimit bounds a single gateway frame. Join acknowledgments carry the
// channel history and easily exceed the library default.
const readLimit = 1 << 20

// Dialer opens gateway connections. It satisfies core.Dialer.
type Dialer struct {
	URL    string
	Header http.Header
	Client *http.Client
}

// Dial connects to the gateway URL.
func (d Dialer) Dial(ctx context.Context) (core.Transport, error) {
	opts := &websocket.DialOptions{
		HTTPHeader: d.Header,
		HTTPClient: d.Client,
	}
	c, resp, err := websocket.Dial(ctx, d.URL, opts)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	c.SetReadLimit(readLimit)
	return NewConn(c), nil
}

// Conn adapts a websocket connection to core.Transport. Frames are JSON,
// written as text messages. Binary messages are read the same way and left
// to the frame decoder.
type Conn struct {
	conn *websocket.Conn
}

// NewConn wraps an established websocket connection.
func NewConn(c *websocket.Conn) *Conn {
	return &Conn{conn: c}
}

// Read returns the next message. A clean close by the gateway is reported
// as core.ErrClosedByServer.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		if isNormalClose(err) {
			return nil, fmt.Errorf("%w: %w", core.ErrClosedByServer, err)
		}
		return nil, err
	}
	return data, nil
}

// Write sends payload as a single text message.
func (c *Conn) Write(ctx context.Context, payload []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

// Close tears the connection down without waiting for a close handshake.
func (c *Conn) Close() error {
	return c.conn.CloseNow()
}

func isNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
