package ws_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/plugterm/internal/core"
	"github.com/vovakirdan/plugterm/internal/proto"
	"github.com/vovakirdan/plugterm/internal/transport/ws"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestDialerSendsHeadersAndTextFrames(t *testing.T) {
	received := make(chan []byte, 1)
	headers := make(chan http.Header, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer c.CloseNow()

		ctx := r.Context()
		if err := c.Write(ctx, websocket.MessageText, []byte(`{"event":0}`)); err != nil {
			t.Errorf("write: %v", err)
			return
		}
		typ, data, err := c.Read(ctx)
		if err != nil {
			t.Errorf("read: %v", err)
			return
		}
		if typ != websocket.MessageText {
			t.Errorf("message type = %v, want text", typ)
		}
		received <- data
		_ = c.Close(websocket.StatusNormalClosure, "")
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d := ws.Dialer{URL: wsURL(server), Header: http.Header{"User-Agent": []string{"plugterm-test"}}}
	conn, err := d.Dial(ctx)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "plugterm-test", (<-headers).Get("User-Agent"))

	data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":0}`, string(data))

	require.NoError(t, conn.Write(ctx, []byte(`{"event":9001}`)))
	assert.JSONEq(t, `{"event":9001}`, string(<-received))

	_, err = conn.Read(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrClosedByServer)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestConnReadsBinaryFrames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer c.CloseNow()
		_ = c.Write(r.Context(), websocket.MessageBinary, []byte(`{"event":0}`))
		_, _, _ = c.Read(r.Context())
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := ws.Dialer{URL: wsURL(server)}.Dial(ctx)
	require.NoError(t, err)
	defer conn.Close()

	data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":0}`, string(data))
}

func TestConnAbnormalCloseIsNotClean(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		_ = c.Close(websocket.StatusInternalError, "boom")
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := ws.Dialer{URL: wsURL(server)}.Dial(ctx)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Read(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrClosedByServer)
}

// A binary frame the decoder cannot use is logged and skipped; the handshake
// continues on the next text frame.
func TestSessionSurvivesBinaryFrames(t *testing.T) {
	frames := make(chan []byte, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer c.CloseNow()

		ctx := r.Context()
		_ = c.Write(ctx, websocket.MessageBinary, []byte(`{"event":42}`))
		_ = c.Write(ctx, websocket.MessageBinary, []byte{0xff, 0x00})
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"event":0}`))
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			frames <- data
		}
	}))
	defer server.Close()

	s := core.NewSession(ws.Dialer{URL: wsURL(server)}, nil, core.Options{Token: "tok"})
	result := make(chan error, 1)
	go func() { result <- s.Run(context.Background()) }()
	go func() {
		for {
			select {
			case <-s.Events():
			case <-s.Done():
				return
			}
		}
	}()

	select {
	case data := <-frames:
		frame, err := proto.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, proto.EventAuthenticate, frame.Event)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not authenticate after binary frames")
	}
	require.Eventually(t, func() bool {
		return s.Phase() == core.PhaseAuthenticating
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Quit(context.Background()))
	select {
	case err := <-result:
		require.NoError(t, err)
		assert.Equal(t, core.ExitOK, core.ExitCode(err))
	case <-time.After(5 * time.Second):
		t.Fatal("session did not quit")
	}
}

func TestDialFailureIsWrapped(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := ws.Dialer{URL: wsURL(server)}.Dial(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial ws://")
}
