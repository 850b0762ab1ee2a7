// Package realtimetest provides an in-memory Transport for tests.
package realtimetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"prism-board/realtime"
)

var ErrDialRefused = errors.New("realtimetest: dial refused")

// Transport hands out Conns. Dials fail while FailFirst is positive or
// FailAll is set, and block on Gate when it is non-nil. Conns dialed while
// SubscribeGate is non-nil block in Subscribe until it is closed or the
// Conn is.
type Transport struct {
	mu            sync.Mutex
	FailFirst     int
	FailAll       bool
	Gate          chan struct{}
	SubscribeGate chan struct{}
	dials     int
	tokens    []string
	conns     []*Conn
}

func (t *Transport) Dial(ctx context.Context, _ string, token string) (realtime.Conn, error) {
	t.mu.Lock()
	t.dials++
	t.tokens = append(t.tokens, token)
	gate, subGate := t.Gate, t.SubscribeGate
	fail := t.FailAll || t.FailFirst > 0
	if t.FailFirst > 0 {
		t.FailFirst--
	}
	t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, ErrDialRefused
	}
	c := NewConn()
	c.stall = subGate
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()
	return c, nil
}

// SetFailAll switches permanent failure on or off.
func (t *Transport) SetFailAll(v bool) {
	t.mu.Lock()
	t.FailAll = v
	t.mu.Unlock()
}

// SetSubscribeGate sets the gate handed to Conns dialed from now on.
func (t *Transport) SetSubscribeGate(gate chan struct{}) {
	t.mu.Lock()
	t.SubscribeGate = gate
	t.mu.Unlock()
}

func (t *Transport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *Transport) Tokens() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.tokens...)
}

// Last returns the most recently dialed Conn, or nil.
func (t *Transport) Last() *Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

// Conn records subscriptions and sends and lets tests push frames.
type Conn struct {
	mu       sync.Mutex
	next     int
	subs     map[string]realtime.Subscription
	handlers map[string]realtime.MessageHandler
	sent     []Sent
	subCalls int
	unsubs   []string
	closed   bool
	err      error
	stall    chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// Sent is one published message.
type Sent struct {
	Destination string
	Body        []byte
}

func NewConn() *Conn {
	return &Conn{
		subs:     make(map[string]realtime.Subscription),
		handlers: make(map[string]realtime.MessageHandler),
		done:     make(chan struct{}),
	}
}

func (c *Conn) Subscribe(topic string, handler realtime.MessageHandler) (realtime.Subscription, error) {
	if c.stall != nil {
		select {
		case <-c.stall:
		case <-c.done:
			return realtime.Subscription{}, realtime.ErrNotConnected
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return realtime.Subscription{}, realtime.ErrNotConnected
	}
	c.next++
	c.subCalls++
	sub := realtime.Subscription{ID: fmt.Sprintf("sub-%d", c.next), Topic: topic}
	c.subs[sub.ID] = sub
	c.handlers[sub.ID] = handler
	return sub, nil
}

func (c *Conn) Unsubscribe(sub realtime.Subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubs = append(c.unsubs, sub.Topic)
	delete(c.subs, sub.ID)
	delete(c.handlers, sub.ID)
	if c.closed {
		return realtime.ErrNotConnected
	}
	return nil
}

func (c *Conn) Send(destination string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return realtime.ErrNotConnected
	}
	c.sent = append(c.sent, Sent{Destination: destination, Body: append([]byte(nil), body...)})
	return nil
}

func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// Drop simulates the server going away.
func (c *Conn) Drop(err error) {
	c.mu.Lock()
	c.err = err
	c.closed = true
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Deliver pushes body to every handler subscribed to topic and returns
// how many received it.
func (c *Conn) Deliver(topic string, body []byte) int {
	c.mu.Lock()
	var hs []realtime.MessageHandler
	for id, sub := range c.subs {
		if sub.Topic == topic {
			hs = append(hs, c.handlers[id])
		}
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(body)
	}
	return len(hs)
}

// Topics lists the live subscription topics, one entry per subscription.
func (c *Conn) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for _, sub := range c.subs {
		out = append(out, sub.Topic)
	}
	return out
}

// SubscribeCalls counts every Subscribe call, including released ones.
func (c *Conn) SubscribeCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subCalls
}

// Unsubscribed lists the topics passed to Unsubscribe, in order.
func (c *Conn) Unsubscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.unsubs...)
}

func (c *Conn) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}
