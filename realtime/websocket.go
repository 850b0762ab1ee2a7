package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
)

// WebSocketTransport speaks STOMP 1.2 over a WebSocket, the protocol the
// board backend exposes at /ws.
type WebSocketTransport struct {
	Dialer *websocket.Dialer
	Logger *log.Logger
	// WriteTimeout bounds every frame write so a stalled peer cannot block
	// Subscribe or Send indefinitely.
	WriteTimeout time.Duration
}

// Dial upgrades the connection and performs the STOMP handshake. The
// bearer token travels on both the HTTP upgrade and the CONNECT frame.
func (t *WebSocketTransport) Dial(ctx context.Context, endpoint, token string) (Conn, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := t.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial %s: %w", endpoint, domain.ErrSessionExpired)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	connect := newFrame(frame.CONNECT, frame.AcceptVersion, "1.2", frame.Host, u.Hostname(), frame.HeartBeat, "0,0")
	if token != "" {
		connect.Header.Add("Authorization", "Bearer "+token)
	}
	raw, err := encodeFrame(connect)
	if err != nil {
		ws.Close()
		return nil, err
	}
	if err := ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		ws.Close()
		return nil, fmt.Errorf("stomp connect: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultHandshakeTimeout)
	}
	_ = ws.SetReadDeadline(deadline)
	reply, err := readFrame(ws)
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("stomp handshake: %w", err)
	}
	switch reply.Command {
	case frame.CONNECTED:
	case frame.ERROR:
		ws.Close()
		return nil, fmt.Errorf("stomp handshake rejected: %s", reply.Header.Get(frame.Message))
	default:
		ws.Close()
		return nil, fmt.Errorf("stomp handshake: unexpected %s frame", reply.Command)
	}
	_ = ws.SetReadDeadline(time.Time{})

	writeTimeout := t.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	c := &stompConn{
		ws:           ws,
		logger:       logger,
		writeTimeout: writeTimeout,
		handlers:     make(map[string]MessageHandler),
		done:         make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// readFrame returns the next non-heartbeat frame.
func readFrame(ws *websocket.Conn) (*frame.Frame, error) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		f, err := decodeFrame(data)
		if err != nil {
			return nil, err
		}
		if f != nil {
			return f, nil
		}
	}
}

type stompConn struct {
	ws           *websocket.Conn
	logger       *log.Logger
	writeTimeout time.Duration

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string]MessageHandler
	err      error

	done      chan struct{}
	closeOnce sync.Once
}

func (c *stompConn) write(f *frame.Frame) error {
	raw, err := encodeFrame(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, raw)
}

func (c *stompConn) Subscribe(topic string, handler MessageHandler) (Subscription, error) {
	sub := Subscription{ID: "sub-" + uuid.NewString(), Topic: topic}
	c.mu.Lock()
	c.handlers[sub.ID] = handler
	c.mu.Unlock()
	if err := c.write(newFrame(frame.SUBSCRIBE, frame.Id, sub.ID, frame.Destination, topic, frame.Ack, "auto")); err != nil {
		c.mu.Lock()
		delete(c.handlers, sub.ID)
		c.mu.Unlock()
		return Subscription{}, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return sub, nil
}

func (c *stompConn) Unsubscribe(sub Subscription) error {
	c.mu.Lock()
	delete(c.handlers, sub.ID)
	c.mu.Unlock()
	if err := c.write(newFrame(frame.UNSUBSCRIBE, frame.Id, sub.ID)); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.Topic, err)
	}
	return nil
}

func (c *stompConn) Send(destination string, body []byte) error {
	return c.write(withBody(newFrame(frame.SEND, frame.Destination, destination, frame.ContentType, "application/json"), body))
}

func (c *stompConn) Done() <-chan struct{} { return c.done }

func (c *stompConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *stompConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		if raw, err := encodeFrame(newFrame(frame.DISCONNECT)); err == nil {
			_ = c.ws.WriteMessage(websocket.TextMessage, raw)
		}
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		close(c.done)
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *stompConn) fail(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		c.writeMu.Lock()
		close(c.done)
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}

func (c *stompConn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = errors.New("closed by server")
			}
			c.fail(err)
			return
		}
		f, err := decodeFrame(data)
		if err != nil {
			c.logger.WithError(err).Warn("realtime: dropping unreadable frame")
			continue
		}
		if f == nil {
			continue
		}
		switch f.Command {
		case frame.RECEIPT:
		case frame.MESSAGE:
			c.mu.Lock()
			h := c.handlers[f.Header.Get(frame.Subscription)]
			c.mu.Unlock()
			if h != nil {
				h(f.Body)
			}
		case frame.ERROR:
			c.fail(fmt.Errorf("broker error: %s", f.Header.Get(frame.Message)))
			return
		default:
			c.logger.WithField("command", f.Command).Debug("realtime: ignoring frame")
		}
	}
}
