package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"minimarket/backend/internal/domain"
)

const (
	activeSessionKey = "minimarket:cash_session:active"
	alertSnapshotKey = "minimarket:inventory:alerts"
)

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(addr string, password string, db int) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCache{client: client}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) GetActiveSession(ctx context.Context) (*domain.CashSession, bool, error) {
	var session domain.CashSession
	ok, err := c.getJSON(ctx, activeSessionKey, &session)
	if err != nil || !ok {
		return nil, false, err
	}
	return &session, true, nil
}

func (c *RedisCache) SetActiveSession(ctx context.Context, session *domain.CashSession) error {
	if session == nil {
		return c.ClearActiveSession(ctx)
	}
	return c.setJSON(ctx, activeSessionKey, session, 0)
}

func (c *RedisCache) ClearActiveSession(ctx context.Context) error {
	return c.client.Del(ctx, activeSessionKey).Err()
}

func (c *RedisCache) GetAlerts(ctx context.Context) (*domain.AlertSnapshot, bool, error) {
	var snapshot domain.AlertSnapshot
	ok, err := c.getJSON(ctx, alertSnapshotKey, &snapshot)
	if err != nil || !ok {
		return nil, false, err
	}
	return &snapshot, true, nil
}

func (c *RedisCache) SetAlerts(ctx context.Context, snapshot *domain.AlertSnapshot, ttl time.Duration) error {
	if snapshot == nil {
		return nil
	}
	return c.setJSON(ctx, alertSnapshotKey, snapshot, ttl)
}

func (c *RedisCache) ClearAlerts(ctx context.Context) error {
	return c.client.Del(ctx, alertSnapshotKey).Err()
}

func (c *RedisCache) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(val, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisCache) setJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}
