package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisTransport carries topics over Redis pub/sub. Topic names map
// one-to-one onto channel names. The client is shared and outlives every
// Conn dialed from it.
type RedisTransport struct {
	Client         *redis.Client
	Logger         *log.Logger
	HealthInterval time.Duration
	// SubscribeTimeout bounds the wait for a subscribe confirmation.
	SubscribeTimeout time.Duration
}

// Dial checks that Redis answers and starts a health loop that fails the
// Conn once a ping is refused.
func (t *RedisTransport) Dial(ctx context.Context, _ string, _ string) (Conn, error) {
	if t.Client == nil {
		return nil, fmt.Errorf("redis transport: client is required")
	}
	if err := t.Client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger := t.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	interval := t.HealthInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	subTimeout := t.SubscribeTimeout
	if subTimeout <= 0 {
		subTimeout = 10 * time.Second
	}
	hctx, cancel := context.WithCancel(context.Background())
	c := &redisConn{
		rc:         t.Client,
		logger:     logger,
		subs:       make(map[string]*redis.PubSub),
		done:       make(chan struct{}),
		ctx:        hctx,
		cancel:     cancel,
		subTimeout: subTimeout,
	}
	go c.health(hctx, interval)
	return c, nil
}

type redisConn struct {
	rc         *redis.Client
	logger     *log.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	subTimeout time.Duration

	mu   sync.Mutex
	subs map[string]*redis.PubSub
	err  error

	done      chan struct{}
	closeOnce sync.Once
}

func (c *redisConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *redisConn) Subscribe(topic string, handler MessageHandler) (Subscription, error) {
	if c.closed() {
		return Subscription{}, ErrNotConnected
	}
	ps, err := c.subscribe(topic)
	if err != nil {
		return Subscription{}, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	sub := Subscription{ID: "sub-" + uuid.NewString(), Topic: topic}
	c.mu.Lock()
	c.subs[sub.ID] = ps
	c.mu.Unlock()

	go func() {
		for msg := range ps.Channel() {
			handler([]byte(msg.Payload))
		}
	}()
	return sub, nil
}

type subscribeResult struct {
	ps  *redis.PubSub
	err error
}

// subscribe waits for the subscribe confirmation so that nothing published
// after Subscribe returns is missed. The wait ends when the Conn closes or
// the subscribe timeout passes.
func (c *redisConn) subscribe(topic string) (*redis.PubSub, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.subTimeout)
	defer cancel()

	ch := make(chan subscribeResult, 1)
	go func() {
		ps := c.rc.Subscribe(ctx, topic)
		_, err := ps.Receive(ctx)
		ch <- subscribeResult{ps: ps, err: err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			_ = r.ps.Close()
			return nil, r.err
		}
		return r.ps, nil
	case <-ctx.Done():
		go func() {
			r := <-ch
			_ = r.ps.Close()
		}()
		if c.closed() {
			return nil, ErrNotConnected
		}
		return nil, ctx.Err()
	}
}

func (c *redisConn) Unsubscribe(sub Subscription) error {
	c.mu.Lock()
	ps, ok := c.subs[sub.ID]
	delete(c.subs, sub.ID)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if err := ps.Close(); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.Topic, err)
	}
	return nil
}

func (c *redisConn) Send(destination string, body []byte) error {
	if c.closed() {
		return ErrNotConnected
	}
	if err := c.rc.Publish(context.Background(), destination, body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", destination, err)
	}
	return nil
}

func (c *redisConn) Done() <-chan struct{} { return c.done }

func (c *redisConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *redisConn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *redisConn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		c.err = err
		subs := c.subs
		c.subs = make(map[string]*redis.PubSub)
		c.mu.Unlock()
		for _, ps := range subs {
			_ = ps.Close()
		}
		close(c.done)
	})
}

func (c *redisConn) health(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.rc.Ping(ctx).Err(); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.WithError(err).Warn("realtime: redis health check failed")
				c.shutdown(fmt.Errorf("redis health: %w", err))
				return
			}
		}
	}
}
