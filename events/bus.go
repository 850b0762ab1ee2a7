// Package events is the application-facing face of the realtime layer:
// topic subscriptions, outbound messages and per-feature hooks.
package events

import (
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
	"prism-board/subscription"
)

const (
	TopicTasks           = "/topic/tasks"
	TopicSupportMessages = "/topic/support/messages"
)

// ConversationTopic is the topic carrying messages of one support
// conversation.
func ConversationTopic(id string) string {
	return "/topic/support/conversations/" + id
}

// Subscriber is implemented by *subscription.Registry.
type Subscriber interface {
	Subscribe(topic string, fn subscription.Callback) func()
}

// Sender is implemented by *realtime.Manager.
type Sender interface {
	Send(destination string, body []byte) error
}

type Bus struct {
	subs   Subscriber
	sender Sender
	logger *log.Logger
}

func NewBus(subs Subscriber, sender Sender, logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Bus{subs: subs, sender: sender, logger: logger}
}

// Subscribe registers fn on topic. It works before the connection exists.
func (b *Bus) Subscribe(topic string, fn subscription.Callback) func() {
	return b.subs.Subscribe(topic, fn)
}

// Send encodes payload as JSON and publishes it. Without a live connection
// it returns realtime.ErrNotConnected.
func (b *Bus) Send(destination string, payload any) error {
	body, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", destination, err)
	}
	if err := b.sender.Send(destination, body); err != nil {
		return fmt.Errorf("send %s: %w", destination, err)
	}
	return nil
}

// Hook subscribes a feature to topic and records what it receives in a
// History of the given capacity.
func (b *Bus) Hook(feature, topic string, capacity int) *Hook {
	h := &Hook{
		feature: feature,
		topic:   topic,
		history: NewHistory(capacity),
		logger:  b.logger.WithFields(log.Fields{"feature": feature, "topic": topic}),
	}
	h.unsub = b.Subscribe(topic, h.receive)
	return h
}

// Hook is one feature's view of a topic.
type Hook struct {
	feature string
	topic   string
	history *History
	logger  *log.Entry
	unsub   func()

	mu       sync.Mutex
	listener func(domain.Event)
	closed   bool
}

func (h *Hook) Feature() string { return h.feature }

func (h *Hook) Topic() string { return h.topic }

func (h *Hook) History() *History { return h.history }

// OnEvent sets the listener called after each event is recorded.
func (h *Hook) OnEvent(fn func(domain.Event)) {
	h.mu.Lock()
	h.listener = fn
	h.mu.Unlock()
}

// Close stops delivery. The history stays readable.
func (h *Hook) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.listener = nil
	h.mu.Unlock()
	h.unsub()
}

func (h *Hook) receive(ev domain.Event) {
	if ev.IsError() {
		h.logger.WithField("raw", ev.Data["raw"]).Debug("events: skipping unreadable payload")
		return
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	fn := h.listener
	h.mu.Unlock()

	h.history.Add(ev)
	if fn != nil {
		fn(ev)
	}
}
