package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront-sync/internal/domain"
	"github.com/redis/go-redis/v9"
)

func NewRedisStore(client *redis.Client, sessionTTL time.Duration) *RedisStore {
	if sessionTTL <= 0 {
		sessionTTL = 30 * time.Minute
	}
	return &RedisStore{
		client:     client,
		sessionTTL: sessionTTL,
	}
}

type RedisStore struct {
	client     *redis.Client
	sessionTTL time.Duration
}

func (r *RedisStore) SaveSnapshot(ctx context.Context, s *domain.Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot failed: %w", err)
	}
	// snapshots live until the session deletes them
	if err := r.client.Set(ctx, snapshotKey(s.SessionID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisStore) LoadSnapshot(ctx context.Context, sessionID string) (*domain.Snapshot, error) {
	var s domain.Snapshot
	if err := r.get(ctx, snapshotKey(sessionID), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RedisStore) DeleteSnapshot(ctx context.Context, sessionID string) error {
	return r.del(ctx, snapshotKey(sessionID))
}

func (r *RedisStore) SavePaymentSession(ctx context.Context, sessionID string, s *domain.PaymentSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal payment session failed: %w", err)
	}
	if err := r.client.Set(ctx, paymentKey(sessionID), data, r.sessionTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisStore) LoadPaymentSession(ctx context.Context, sessionID string) (*domain.PaymentSession, error) {
	var s domain.PaymentSession
	if err := r.get(ctx, paymentKey(sessionID), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RedisStore) DeletePaymentSession(ctx context.Context, sessionID string) error {
	return r.del(ctx, paymentKey(sessionID))
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) get(ctx context.Context, key string, out any) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get failed: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal %s failed: %w", key, err)
	}
	return nil
}

func (r *RedisStore) del(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}
