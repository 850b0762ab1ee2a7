// Package subscription multiplexes topic subscribers over one realtime
// connection and survives reconnects.
package subscription

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
	"prism-board/message"
	"prism-board/realtime"
)

// Callback receives every normalized event published on a topic.
type Callback func(domain.Event)

// Source reports connection transitions. *realtime.Manager implements it.
type Source interface {
	OnConnect(func(realtime.Conn))
	OnDisconnect(func(realtime.Conn))
	Conn() (realtime.Conn, bool)
}

type subscriber struct {
	id uint64
	fn Callback
}

type topic struct {
	name   string
	subs   []subscriber
	handle *realtime.Subscription
}

// Registry keeps at most one transport subscription per topic. Topics
// requested while disconnected wait until the next Connected transition.
type Registry struct {
	logger    *log.Logger
	normalize func([]byte) domain.Event

	mu     sync.Mutex
	conn   realtime.Conn
	topics map[string]*topic
	nextID uint64
}

// NewRegistry attaches a Registry to src.
func NewRegistry(src Source, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.StandardLogger()
	}
	r := &Registry{
		logger:    logger,
		normalize: message.Normalize,
		topics:    make(map[string]*topic),
	}
	src.OnConnect(r.connected)
	src.OnDisconnect(r.disconnected)
	if conn, ok := src.Conn(); ok {
		r.connected(conn)
	}
	return r
}

// Subscribe registers fn on name and returns a function that removes it.
// The returned function is safe to call more than once.
func (r *Registry) Subscribe(name string, fn Callback) (unsubscribe func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	t, ok := r.topics[name]
	if !ok {
		t = &topic{name: name}
		r.topics[name] = t
	}
	t.subs = append(t.subs, subscriber{id: id, fn: fn})
	if r.conn != nil && t.handle == nil {
		r.attachLocked(r.conn, t)
	}
	r.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { r.remove(name, id) }) }
}

func (r *Registry) remove(name string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[name]
	if !ok {
		return
	}
	for i, s := range t.subs {
		if s.id == id {
			t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
			break
		}
	}
	if len(t.subs) > 0 {
		return
	}
	delete(r.topics, name)
	if t.handle != nil && r.conn != nil {
		if err := r.conn.Unsubscribe(*t.handle); err != nil {
			r.logger.WithError(err).WithField("topic", name).Warn("subscription: unsubscribe failed")
		}
	}
	t.handle = nil
}

// Topics returns the names with at least one subscriber.
func (r *Registry) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.topics))
	for name := range r.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Live reports whether name has a transport subscription right now.
func (r *Registry) Live(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[name]
	return ok && t.handle != nil
}

// Subscribers returns the number of callbacks on name.
func (r *Registry) Subscribers(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.topics[name]; ok {
		return len(t.subs)
	}
	return 0
}

func (r *Registry) connected(conn realtime.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-conn.Done():
		// Disconnected before its listeners ran.
		return
	default:
	}
	r.conn = conn
	names := make([]string, 0, len(r.topics))
	for name, t := range r.topics {
		if t.handle == nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		r.attachLocked(conn, r.topics[name])
	}
	if len(names) > 0 {
		r.logger.WithField("topics", len(names)).Debug("subscription: subscribed pending topics")
	}
}

func (r *Registry) disconnected(conn realtime.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != conn {
		return
	}
	r.conn = nil
	for _, t := range r.topics {
		if t.handle == nil {
			continue
		}
		if err := conn.Unsubscribe(*t.handle); err != nil {
			r.logger.WithError(err).WithField("topic", t.name).Debug("subscription: release on disconnect")
		}
		t.handle = nil
	}
}

func (r *Registry) attachLocked(conn realtime.Conn, t *topic) {
	handle, err := conn.Subscribe(t.name, r.dispatcher(t))
	if err != nil {
		r.logger.WithError(err).WithField("topic", t.name).Warn("subscription: subscribe failed, will retry on reconnect")
		return
	}
	t.handle = &handle
}

// dispatcher normalizes each frame once and fans it out.
func (r *Registry) dispatcher(t *topic) realtime.MessageHandler {
	return func(body []byte) {
		ev := r.normalize(body)
		if ev.IsError() {
			r.logger.WithField("topic", t.name).Debug("subscription: unreadable payload")
		}
		r.mu.Lock()
		subs := append([]subscriber(nil), t.subs...)
		r.mu.Unlock()
		for _, s := range subs {
			r.deliver(t.name, s.fn, ev)
		}
	}
}

func (r *Registry) deliver(name string, fn Callback, ev domain.Event) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.WithFields(log.Fields{"topic": name, "panic": p}).Error("subscription: callback panicked")
		}
	}()
	fn(ev)
}
