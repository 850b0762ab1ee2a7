package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNotConnected is returned by operations that need a live connection.
var ErrNotConnected = errors.New("realtime: not connected")

// MessageHandler receives the raw body of every frame delivered for a
// subscription. It runs on the transport's read goroutine.
type MessageHandler func(body []byte)

// Subscription identifies one transport-level subscription.
type Subscription struct {
	ID    string
	Topic string
}

// Conn is one live publish/subscribe connection.
type Conn interface {
	Subscribe(topic string, handler MessageHandler) (Subscription, error)
	Unsubscribe(sub Subscription) error
	Send(destination string, body []byte) error
	// Done is closed when the connection ends for any reason.
	Done() <-chan struct{}
	// Err reports why the connection ended; nil after a local Close.
	Err() error
	Close() error
}

// Transport opens connections. The token is sent with the handshake.
type Transport interface {
	Dial(ctx context.Context, endpoint, token string) (Conn, error)
}

// EndpointURL derives the realtime endpoint from the REST base URL: the
// path gains "/ws" and https/http become wss/ws.
func EndpointURL(apiBaseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(apiBaseURL))
	if err != nil {
		return "", fmt.Errorf("parse api base url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported api base url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("api base url %q has no host", apiBaseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
