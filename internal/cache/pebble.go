package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/fjod/storefront-sync/internal/domain"
)

// PebbleStore keeps snapshots on local disk so a session survives restarts
// without a Redis server.
type PebbleStore struct {
	db         *pebble.DB
	sessionTTL time.Duration
	now        func() time.Time
}

// record wraps stored values; a zero ExpiresAt never expires.
type record struct {
	ExpiresAt time.Time       `json:"expires_at,omitempty"`
	Data      json.RawMessage `json:"data"`
}

func NewPebbleStore(dir string, sessionTTL time.Duration) (*PebbleStore, error) {
	if sessionTTL <= 0 {
		sessionTTL = 30 * time.Minute
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: db, sessionTTL: sessionTTL, now: time.Now}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func (p *PebbleStore) SaveSnapshot(_ context.Context, s *domain.Snapshot) error {
	return p.put(snapshotKey(s.SessionID), s, 0)
}

func (p *PebbleStore) LoadSnapshot(_ context.Context, sessionID string) (*domain.Snapshot, error) {
	var s domain.Snapshot
	if err := p.get(snapshotKey(sessionID), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PebbleStore) DeleteSnapshot(_ context.Context, sessionID string) error {
	return p.del(snapshotKey(sessionID))
}

func (p *PebbleStore) SavePaymentSession(_ context.Context, sessionID string, s *domain.PaymentSession) error {
	return p.put(paymentKey(sessionID), s, p.sessionTTL)
}

func (p *PebbleStore) LoadPaymentSession(_ context.Context, sessionID string) (*domain.PaymentSession, error) {
	var s domain.PaymentSession
	if err := p.get(paymentKey(sessionID), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PebbleStore) DeletePaymentSession(_ context.Context, sessionID string) error {
	return p.del(paymentKey(sessionID))
}

func (p *PebbleStore) put(key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s failed: %w", key, err)
	}
	rec := record{Data: data}
	if ttl > 0 {
		rec.ExpiresAt = p.now().Add(ttl).UTC()
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal %s failed: %w", key, err)
	}
	if err := p.db.Set([]byte(key), val, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set failed: %w", err)
	}
	return nil
}

func (p *PebbleStore) get(key string, out any) error {
	v, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("pebble get failed: %w", err)
	}
	var rec record
	err = json.Unmarshal(v, &rec)
	_ = closer.Close()
	if err != nil {
		return fmt.Errorf("unmarshal %s failed: %w", key, err)
	}

	if !rec.ExpiresAt.IsZero() && !p.now().Before(rec.ExpiresAt) {
		_ = p.del(key)
		return ErrCacheMiss
	}
	if err := json.Unmarshal(rec.Data, out); err != nil {
		return fmt.Errorf("unmarshal %s failed: %w", key, err)
	}
	return nil
}

func (p *PebbleStore) del(key string) error {
	if err := p.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete failed: %w", err)
	}
	return nil
}
