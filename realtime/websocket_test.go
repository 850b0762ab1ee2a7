package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism-board/domain"
)

// broker is a minimal STOMP server for one client connection.
type broker struct {
	t        *testing.T
	upgrader websocket.Upgrader
	reject   string

	mu      sync.Mutex
	auth    string
	conn    *websocket.Conn
	frames  chan *frame.Frame
	writeMu sync.Mutex
}

func newBroker(t *testing.T) (*broker, *httptest.Server) {
	b := &broker{t: t, frames: make(chan *frame.Frame, 16)}
	srv := httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *broker) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "Bearer expired" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.auth = r.Header.Get("Authorization")
	b.conn = ws
	b.mu.Unlock()

	connect, err := readFrame(ws)
	if err != nil || connect.Command != frame.CONNECT {
		ws.Close()
		return
	}
	b.frames <- connect
	if b.reject != "" {
		b.write(newFrame(frame.ERROR, frame.Message, b.reject))
		ws.Close()
		return
	}
	b.write(newFrame(frame.CONNECTED, frame.Version, "1.2"))
	for {
		f, err := readFrame(ws)
		if err != nil {
			return
		}
		b.frames <- f
	}
}

func (b *broker) write(f *frame.Frame) {
	raw, err := encodeFrame(f)
	if err != nil {
		b.t.Errorf("encode %s: %v", f.Command, err)
		return
	}
	b.writeRaw(raw)
}

func (b *broker) writeRaw(raw []byte) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.mu.Lock()
	ws := b.conn
	b.mu.Unlock()
	_ = ws.WriteMessage(websocket.TextMessage, raw)
}

func (b *broker) next() *frame.Frame {
	b.t.Helper()
	select {
	case f := <-b.frames:
		return f
	case <-time.After(2 * time.Second):
		b.t.Fatal("broker received no frame")
	}
	return nil
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestWebSocketHandshake(t *testing.T) {
	b, srv := newBroker(t)
	tr := &WebSocketTransport{}

	conn, err := tr.Dial(context.Background(), wsURL(srv), "tok")
	require.NoError(t, err)
	defer conn.Close()

	connect := b.next()
	assert.Equal(t, "1.2", connect.Header.Get(frame.AcceptVersion))
	assert.Equal(t, "Bearer tok", connect.Header.Get("Authorization"))
	b.mu.Lock()
	assert.Equal(t, "Bearer tok", b.auth)
	b.mu.Unlock()
}

func TestWebSocketSubscribeAndDeliver(t *testing.T) {
	b, srv := newBroker(t)
	conn, err := (&WebSocketTransport{}).Dial(context.Background(), wsURL(srv), "tok")
	require.NoError(t, err)
	defer conn.Close()
	b.next()

	got := make(chan string, 1)
	sub, err := conn.Subscribe("/topic/tasks", func(body []byte) { got <- string(body) })
	require.NoError(t, err)
	assert.Equal(t, "/topic/tasks", sub.Topic)

	f := b.next()
	assert.Equal(t, frame.SUBSCRIBE, f.Command)
	assert.Equal(t, sub.ID, f.Header.Get(frame.Id))
	assert.Equal(t, "/topic/tasks", f.Header.Get(frame.Destination))

	b.writeRaw([]byte("\n"))
	b.write(withBody(newFrame(frame.MESSAGE, frame.Subscription, sub.ID, frame.Destination, "/topic/tasks"), []byte(`{"type":"TASK"}`)))
	select {
	case body := <-got:
		assert.Equal(t, `{"type":"TASK"}`, body)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	require.NoError(t, conn.Unsubscribe(sub))
	f = b.next()
	assert.Equal(t, frame.UNSUBSCRIBE, f.Command)
	assert.Equal(t, sub.ID, f.Header.Get(frame.Id))

	require.NoError(t, conn.Send("/app/support", []byte(`{"text":"hi"}`)))
	f = b.next()
	assert.Equal(t, frame.SEND, f.Command)
	assert.Equal(t, "/app/support", f.Header.Get(frame.Destination))
	assert.Equal(t, "13", f.Header.Get(frame.ContentLength))
	assert.Equal(t, `{"text":"hi"}`, string(f.Body))
}

func TestWebSocketCloseSendsDisconnect(t *testing.T) {
	b, srv := newBroker(t)
	conn, err := (&WebSocketTransport{}).Dial(context.Background(), wsURL(srv), "")
	require.NoError(t, err)
	b.next()

	require.NoError(t, conn.Close())
	assert.Equal(t, frame.DISCONNECT, b.next().Command)
	select {
	case <-conn.Done():
	default:
		t.Fatal("done not closed")
	}
	assert.NoError(t, conn.Err())
	assert.ErrorIs(t, conn.Send("/app/x", nil), ErrNotConnected)
}

func TestWebSocketServerErrorEndsConn(t *testing.T) {
	b, srv := newBroker(t)
	conn, err := (&WebSocketTransport{}).Dial(context.Background(), wsURL(srv), "tok")
	require.NoError(t, err)
	b.next()

	b.write(newFrame(frame.ERROR, frame.Message, "session closed"))
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("conn not failed")
	}
	require.Error(t, conn.Err())
	assert.Contains(t, conn.Err().Error(), "session closed")
}

func TestWebSocketHandshakeRejected(t *testing.T) {
	b, srv := newBroker(t)
	b.reject = "bad credentials"

	_, err := (&WebSocketTransport{}).Dial(context.Background(), wsURL(srv), "tok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad credentials")
}

func TestWebSocketUnauthorizedUpgrade(t *testing.T) {
	_, srv := newBroker(t)
	_, err := (&WebSocketTransport{}).Dial(context.Background(), wsURL(srv), "expired")
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
}
