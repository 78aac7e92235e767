package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/storefront-sync/internal/domain"
)

// SnapshotStore persists the cart collection of one local session.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, s *domain.Snapshot) error
	LoadSnapshot(ctx context.Context, sessionID string) (*domain.Snapshot, error)
	DeleteSnapshot(ctx context.Context, sessionID string) error
}

// SessionStore keeps the in-progress payment session of a local session for a short time.
type SessionStore interface {
	SavePaymentSession(ctx context.Context, sessionID string, s *domain.PaymentSession) error
	LoadPaymentSession(ctx context.Context, sessionID string) (*domain.PaymentSession, error)
	DeletePaymentSession(ctx context.Context, sessionID string) error
}

type Store interface {
	SnapshotStore
	SessionStore
	Close() error
}

var ErrCacheMiss = errors.New("cache miss")

func snapshotKey(sessionID string) string {
	return fmt.Sprintf("cart:snapshot:%s", sessionID)
}

func paymentKey(sessionID string) string {
	return fmt.Sprintf("payment:session:%s", sessionID)
}
