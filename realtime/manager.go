package realtime

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// State is the lifecycle state of the Manager's connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	}
	return "DISCONNECTED"
}

// Config controls the endpoint and reconnect policy.
type Config struct {
	Endpoint       string
	Token          string
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MaxAttempts    int
	ReconnectPause time.Duration
	DialTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.ReconnectPause <= 0 {
		c.ReconnectPause = 500 * time.Millisecond
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	return c
}

// Manager owns a single transport connection and keeps it alive.
//
// Listeners registered with OnDisconnect and OnStateChange are called one at
// a time, in transition order. OnConnect listeners may overlap a Disconnect,
// which closes their connection before its own listeners run. No listener
// may call Connect, Disconnect or Reconnect.
type Manager struct {
	cfg       Config
	backoff   Backoff
	transport Transport
	logger    *log.Logger
	metrics   *Metrics

	// notifyMu serializes transitions with their listener callbacks.
	notifyMu sync.Mutex

	mu         sync.Mutex
	state      State
	conn       Conn
	gen        uint64
	attempts   int
	exhausted  bool
	retry      *time.Timer
	cancelDial context.CancelFunc
	ready      chan struct{}

	onConnect    []func(Conn)
	onDisconnect []func(Conn)
	onState      []func(State)
}

// NewManager creates a Manager in the Disconnected state. metrics may be nil.
func NewManager(cfg Config, transport Transport, logger *log.Logger, metrics *Metrics) *Manager {
	if transport == nil {
		panic("realtime: transport is required")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:       cfg,
		backoff:   Backoff{Base: cfg.BaseDelay, Max: cfg.MaxDelay},
		transport: transport,
		logger:    logger,
		metrics:   metrics,
		ready:     make(chan struct{}),
	}
	metrics.setState(Disconnected)
	return m
}

// OnConnect registers fn to run after every transition to Connected.
func (m *Manager) OnConnect(fn func(Conn)) {
	m.mu.Lock()
	m.onConnect = append(m.onConnect, fn)
	m.mu.Unlock()
}

// OnDisconnect registers fn to run when a connection goes away. On an
// explicit Disconnect of a Connected manager it runs before the transport
// is closed.
func (m *Manager) OnDisconnect(fn func(Conn)) {
	m.mu.Lock()
	m.onDisconnect = append(m.onDisconnect, fn)
	m.mu.Unlock()
}

// OnStateChange registers fn to run after every state change.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	m.onState = append(m.onState, fn)
	m.mu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Exhausted reports whether automatic retries stopped at the attempt cap.
func (m *Manager) Exhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exhausted
}

// Attempts returns the number of automatic retries since the last success.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Conn returns the live connection, if any.
func (m *Manager) Conn() (Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn, m.conn != nil
}

// SetToken replaces the credential used by the next dial. The live
// connection keeps its old credential until Reconnect.
func (m *Manager) SetToken(token string) {
	m.mu.Lock()
	m.cfg.Token = token
	m.mu.Unlock()
}

// Send publishes body to destination on the live connection.
func (m *Manager) Send(destination string, body []byte) error {
	conn, ok := m.Conn()
	if !ok {
		return ErrNotConnected
	}
	return conn.Send(destination, body)
}

// WaitConnected blocks until the Manager is Connected or ctx ends.
func (m *Manager) WaitConnected(ctx context.Context) error {
	m.mu.Lock()
	ready := m.ready
	m.mu.Unlock()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect starts a connection attempt. It is a no-op while Connecting or
// Connected and never blocks on the network.
func (m *Manager) Connect() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.state != Disconnected {
		m.mu.Unlock()
		return
	}
	if m.exhausted {
		m.attempts = 0
		m.exhausted = false
	}
	m.beginLocked()
}

// Disconnect releases every subscription through the OnDisconnect
// listeners, closes the transport and clears the retry state.
func (m *Manager) Disconnect() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	m.gen++
	m.stopRetryLocked()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.attempts = 0
	m.exhausted = false
	conn := m.conn
	m.conn = nil
	prev := m.state
	m.setStateLocked(Disconnected)
	listeners := append([]func(Conn){}, m.onDisconnect...)
	m.mu.Unlock()

	// A connection still in its connect listeners is closed first so that
	// a listener blocked on it returns.
	attaching := conn != nil && prev == Connecting
	if attaching {
		m.closeConn(conn)
	}
	if conn != nil {
		for _, fn := range listeners {
			fn(conn)
		}
		if !attaching {
			m.closeConn(conn)
		}
	}
	if prev != Disconnected {
		m.logger.Info("realtime: disconnected")
		m.emitState(Disconnected)
	}
}

func (m *Manager) closeConn(conn Conn) {
	if err := conn.Close(); err != nil {
		m.logger.WithError(err).Debug("realtime: close connection")
	}
}

// Reconnect tears the connection down and connects again after a short
// fixed pause. It returns immediately.
func (m *Manager) Reconnect() {
	m.Disconnect()

	m.mu.Lock()
	g := m.gen
	m.retry = time.AfterFunc(m.cfg.ReconnectPause, func() { m.fireRetry(g) })
	m.mu.Unlock()
}

// beginLocked moves to Connecting and starts a dial. Called with notifyMu
// and mu held; releases mu.
func (m *Manager) beginLocked() {
	m.gen++
	g := m.gen
	m.stopRetryLocked()
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
	m.cancelDial = cancel
	token := m.cfg.Token
	m.setStateLocked(Connecting)
	m.mu.Unlock()

	m.logger.WithField("endpoint", m.cfg.Endpoint).Debug("realtime: connecting")
	m.emitState(Connecting)
	go m.dial(ctx, cancel, g, token)
}

func (m *Manager) dial(ctx context.Context, cancel context.CancelFunc, g uint64, token string) {
	conn, err := m.transport.Dial(ctx, m.cfg.Endpoint, token)
	cancel()

	listeners, ok := m.dialed(g, conn, err)
	if !ok {
		return
	}
	// Connect listeners finish before State reports Connected. They run
	// without notifyMu so that Disconnect can close a connection whose
	// listeners are stuck on it.
	for _, fn := range listeners {
		fn(conn)
	}
	m.attached(g, conn)
}

// dialed records the outcome of a dial and returns the connect listeners
// to run when it succeeded for the current generation.
func (m *Manager) dialed(g uint64, conn Conn, err error) ([]func(Conn), bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if g != m.gen {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return nil, false
	}
	m.cancelDial = nil
	if err != nil {
		m.metrics.dial(false)
		m.setStateLocked(Disconnected)
		m.scheduleRetryLocked()
		attempts, exhausted := m.attempts, m.exhausted
		m.mu.Unlock()

		m.logger.WithError(err).WithFields(log.Fields{"attempt": attempts, "exhausted": exhausted}).Warn("realtime: connect failed")
		m.emitState(Disconnected)
		return nil, false
	}

	m.metrics.dial(true)
	m.conn = conn
	m.attempts = 0
	m.exhausted = false
	listeners := append([]func(Conn){}, m.onConnect...)
	m.mu.Unlock()
	return listeners, true
}

// attached completes the transition to Connected unless a Disconnect
// took the connection while its listeners ran.
func (m *Manager) attached(g uint64, conn Conn) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if g != m.gen || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(Connected)
	m.mu.Unlock()

	m.logger.WithField("endpoint", m.cfg.Endpoint).Info("realtime: connected")
	m.emitState(Connected)
	go m.watch(g, conn)
}

func (m *Manager) watch(g uint64, conn Conn) {
	<-conn.Done()

	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if g != m.gen || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.setStateLocked(Disconnected)
	m.scheduleRetryLocked()
	attempts, exhausted := m.attempts, m.exhausted
	listeners := append([]func(Conn){}, m.onDisconnect...)
	m.mu.Unlock()

	m.logger.WithError(conn.Err()).WithFields(log.Fields{"attempt": attempts, "exhausted": exhausted}).Warn("realtime: connection lost")
	for _, fn := range listeners {
		fn(conn)
	}
	m.emitState(Disconnected)
}

func (m *Manager) fireRetry(g uint64) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if g != m.gen || m.state != Disconnected {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	m.beginLocked()
}

func (m *Manager) scheduleRetryLocked() {
	if m.attempts >= m.cfg.MaxAttempts {
		if !m.exhausted {
			m.exhausted = true
			m.metrics.retriesExhausted()
		}
		return
	}
	m.attempts++
	delay := m.backoff.Delay(m.attempts)
	g := m.gen
	m.retry = time.AfterFunc(delay, func() { m.fireRetry(g) })
	m.metrics.retryScheduled()
	m.logger.WithFields(log.Fields{"attempt": m.attempts, "delay": delay}).Debug("realtime: reconnect scheduled")
}

func (m *Manager) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == Connected && s != Connected {
		m.ready = make(chan struct{})
	}
	if s == Connected && m.state != Connected {
		close(m.ready)
	}
	m.state = s
	m.metrics.setState(s)
}

func (m *Manager) emitState(s State) {
	m.mu.Lock()
	listeners := append([]func(State){}, m.onState...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}
