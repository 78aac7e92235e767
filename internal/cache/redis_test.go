package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/storefront-sync/internal/config"
	"github.com/fjod/storefront-sync/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a miniredis server and returns a RedisStore on top of it
func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	store := NewRedisStore(client, 10*time.Minute)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func testSnapshot(sessionID string) *domain.Snapshot {
	c := domain.NewCollection()
	c.Carts["local-1"] = &domain.Cart{
		LocalID: "local-1",
		ID:      "cart-1",
		Name:    "Weekly",
		Status:  domain.CartStatusActive,
		Items: []domain.LineItem{
			{Product: domain.Product{ID: "p1", Name: "Apples", Price: domain.Float(1.5)}, Quantity: 3, RemoteItemID: "i1"},
		},
	}
	c.Activate("local-1")
	return domain.NewSnapshot(sessionID, c)
}

func TestRedis_SnapshotRoundTrip(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSnapshot(ctx, testSnapshot("s1")))
	assert.True(t, mr.Exists("cart:snapshot:s1"))
	assert.Equal(t, time.Duration(0), mr.TTL("cart:snapshot:s1"))

	got, err := store.LoadSnapshot(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SnapshotVersion, got.Version)

	c, err := got.Collection()
	require.NoError(t, err)
	assert.Equal(t, "local-1", c.ActiveKey)
	assert.Equal(t, 3, c.ItemCount())
	assert.InDelta(t, 4.5, c.Subtotal(), 1e-9)
}

func TestRedis_LoadSnapshot_Miss(t *testing.T) {
	store, _ := setupTestRedis(t)

	got, err := store.LoadSnapshot(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, got)
}

func TestRedis_LoadSnapshot_InvalidJSON(t *testing.T) {
	store, mr := setupTestRedis(t)
	require.NoError(t, mr.Set("cart:snapshot:s1", "{broken"))

	_, err := store.LoadSnapshot(context.Background(), "s1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestRedis_DeleteSnapshot(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, store.SaveSnapshot(ctx, testSnapshot("s1")))

	require.NoError(t, store.DeleteSnapshot(ctx, "s1"))
	assert.False(t, mr.Exists("cart:snapshot:s1"))
}

func TestRedis_PaymentSessionExpires(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	ps := &domain.PaymentSession{SessionID: "sess", PaymentReference: "ref", CartID: "cart-1"}
	require.NoError(t, store.SavePaymentSession(ctx, "s1", ps))
	assert.Equal(t, 10*time.Minute, mr.TTL("payment:session:s1"))

	got, err := store.LoadPaymentSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "ref", got.PaymentReference)

	mr.FastForward(11 * time.Minute)
	_, err = store.LoadPaymentSession(ctx, "s1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedis_DeletePaymentSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, store.SavePaymentSession(ctx, "s1", &domain.PaymentSession{PaymentReference: "ref"}))

	require.NoError(t, store.DeletePaymentSession(ctx, "s1"))
	_, err := store.LoadPaymentSession(ctx, "s1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestOpen_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := Open(context.Background(), config.StorageConfig{Backend: "redis", RedisAddr: mr.Addr()})
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &RedisStore{}, store)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{Backend: "memcached"})
	assert.Error(t, err)
}
