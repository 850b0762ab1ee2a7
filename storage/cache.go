// Package storage holds the optional Redis read-through cache in front of
// the board REST API.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

type backend interface {
	ListTasks(ctx context.Context, groupID string, status domain.Status) ([]domain.Task, error)
	CreateTask(ctx context.Context, groupID string, nt domain.NewTask) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
	ListMembers(ctx context.Context, groupID string) ([]domain.Member, error)
	ListFutureExpenses(ctx context.Context, groupID string) ([]domain.ExpenseLink, error)
}

// Cache wraps the REST client with Redis-backed caching for reads. Every
// successful mutation evicts the cached columns so the next load refetches.
type Cache struct {
	base   backend
	redis  *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
// A nil client or zero TTL turns caching off.
func NewCache(base backend, client *redis.Client, ttl time.Duration, logger *log.Logger) *Cache {
	if base == nil {
		panic("storage.NewCache: base client is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Cache{base: base, redis: client, ttl: ttl, logger: logger}
}

func (c *Cache) ListTasks(ctx context.Context, groupID string, status domain.Status) ([]domain.Task, error) {
	key := tasksCacheKey(groupID, status)
	var tasks []domain.Task
	if c.load(ctx, key, &tasks) {
		return tasks, nil
	}
	tasks, err := c.base.ListTasks(ctx, groupID, status)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, tasks)
	return tasks, nil
}

func (c *Cache) ListMembers(ctx context.Context, groupID string) ([]domain.Member, error) {
	key := membersCacheKey(groupID)
	var members []domain.Member
	if c.load(ctx, key, &members) {
		return members, nil
	}
	members, err := c.base.ListMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, members)
	return members, nil
}

func (c *Cache) ListFutureExpenses(ctx context.Context, groupID string) ([]domain.ExpenseLink, error) {
	key := expensesCacheKey(groupID)
	var expenses []domain.ExpenseLink
	if c.load(ctx, key, &expenses) {
		return expenses, nil
	}
	expenses, err := c.base.ListFutureExpenses(ctx, groupID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, expenses)
	return expenses, nil
}

func (c *Cache) CreateTask(ctx context.Context, groupID string, nt domain.NewTask) (domain.Task, error) {
	t, err := c.base.CreateTask(ctx, groupID, nt)
	if err != nil {
		return domain.Task{}, err
	}
	c.Invalidate(ctx, groupID)
	return t, nil
}

func (c *Cache) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	t, err := c.base.UpdateTask(ctx, id, patch)
	if err != nil {
		return domain.Task{}, err
	}
	c.Invalidate(ctx, t.GroupID)
	return t, nil
}

func (c *Cache) DeleteTask(ctx context.Context, id string) error {
	if err := c.base.DeleteTask(ctx, id); err != nil {
		return err
	}
	// The group of a deleted task is unknown here.
	c.Invalidate(ctx, "")
	return nil
}

// Invalidate drops the cached columns and planned expenses of a group, or
// of every group when groupID is empty. Completing a task can realize its
// expense, so expenses go with the columns. Members are kept.
func (c *Cache) Invalidate(ctx context.Context, groupID string) {
	if c.redis == nil {
		return
	}
	patterns := []string{"tasks:*", "expenses:*"}
	if groupID != "" {
		patterns = []string{"tasks:" + groupID + ":*", expensesCacheKey(groupID)}
	}
	var keys []string
	for _, pattern := range patterns {
		iter := c.redis.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			c.logger.WithError(err).WithField("pattern", pattern).Warn("storage: scan for eviction failed")
			return
		}
	}
	if len(keys) == 0 {
		return
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.WithError(err).WithField("keys", len(keys)).Warn("storage: eviction failed")
	}
}

func (c *Cache) load(ctx context.Context, key string, out any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the API without failing.
			c.logger.WithError(err).WithField("key", key).Debug("storage: cache read failed")
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Debug("storage: cache write failed")
	}
}

func tasksCacheKey(groupID string, status domain.Status) string {
	return "tasks:" + groupID + ":" + string(status)
}

func membersCacheKey(groupID string) string {
	return "members:" + groupID
}

func expensesCacheKey(groupID string) string {
	return "expenses:" + groupID
}
