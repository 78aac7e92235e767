package service

import (
	"context"
	"testing"
	"time"

	"github.com/fjod/storefront-sync/internal/domain"
	"github.com/fjod/storefront-sync/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCart_DeactivatesOthers(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	first, err := f.store.CreateCart(ctx, "Weekly", "")
	require.NoError(t, err)
	_, err = f.store.AddItem(ctx, apples(), 1)
	require.NoError(t, err)

	second, err := f.store.CreateCart(ctx, "Party", "drinks")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Empty(t, f.store.Items(), "working list follows the new active cart")

	active := 0
	for _, c := range f.store.Carts() {
		if c.IsActive {
			active++
			assert.Equal(t, second.ID, c.ID)
		}
	}
	assert.Equal(t, 1, active)
}

func TestCreateCart_GatewayFailure(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.gw.CreateErr = domain.ErrGatewayUnavailable

	_, err := f.store.CreateCart(context.Background(), "Weekly", "")
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.Empty(t, f.store.Carts())
}

func remoteCart(id string, items ...gateway.RemoteItem) gateway.CartDetail {
	return gateway.CartDetail{ID: id, Name: "Cart " + id, Status: domain.CartStatusActive, Items: items}
}

func TestSwitchCart_HydratesAndDropsFailedProducts(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	f.gw.ProductErrs["p2"] = domain.ErrGatewayUnavailable
	f.gw.PutCart(remoteCart("c9",
		gateway.RemoteItem{ID: "i1", ProductID: "p1", Quantity: 2},
		gateway.RemoteItem{ID: "i2", ProductID: "p2", Quantity: 1},
		gateway.RemoteItem{ID: "i3", ProductID: "p3", Quantity: 5},
	))

	cart, err := f.store.SwitchCart(ctx, "c9")
	require.NoError(t, err)

	require.Len(t, cart.Items, 2)
	assert.Equal(t, "p1", cart.Items[0].Product.ID)
	assert.Equal(t, "Apples", cart.Items[0].Product.Name, "full product detail replaces the stub")
	assert.Equal(t, "p3", cart.Items[1].Product.ID)
	assert.True(t, cart.IsActive)
	assert.Len(t, f.gw.CallsFor("product"), 3)

	// switching again must not duplicate lines
	_, err = f.store.SwitchCart(ctx, "c9")
	require.NoError(t, err)
	items := f.store.Items()
	assert.Len(t, items, 2)
	assert.Equal(t, 7, f.store.ItemCount())
}

func TestSwitchCart_LinesAreConfirmed(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	f.gw.PutCart(remoteCart("c9", gateway.RemoteItem{ID: "i1", ProductID: "p1", Quantity: 2}))

	_, err := f.store.SwitchCart(ctx, "c9")
	require.NoError(t, err)
	_, err = f.store.UpdateQuantity(ctx, "p1", 3)
	require.NoError(t, err)
	require.NoError(t, f.store.Flush(ctx))

	writes := lineWrites(f.gw)
	require.Len(t, writes, 1)
	assert.Equal(t, "update", writes[0].Op)
	assert.Equal(t, "c9", writes[0].CartID)
}

func TestSwitchCart_FlushesPendingWritesFirst(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	created, err := f.store.CreateCart(ctx, "Weekly", "")
	require.NoError(t, err)
	_, err = f.store.AddItem(ctx, apples(), 2)
	require.NoError(t, err)

	f.gw.PutCart(remoteCart("other"))
	_, err = f.store.SwitchCart(ctx, "other")
	require.NoError(t, err)

	remote, ok := f.gw.Cart(created.ID)
	require.True(t, ok)
	require.Len(t, remote.Items, 1)
	assert.Equal(t, 2, remote.Items[0].Quantity)
}

func TestSwitchCart_KeepsUnsyncedLines(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	weekly, err := f.store.CreateCart(ctx, "Weekly", "")
	require.NoError(t, err)
	_, err = f.store.AddItem(ctx, apples(), 2)
	require.NoError(t, err)
	_, err = f.store.AddItem(ctx, bread(), 1)
	require.NoError(t, err)
	require.NoError(t, f.store.Flush(ctx))

	f.gw.SetItemErr(domain.ErrGatewayUnavailable)
	_, err = f.store.AddItem(ctx, milk(), 1)
	require.NoError(t, err)
	_, err = f.store.DeleteLine(ctx, "p3")
	require.NoError(t, err)
	require.NoError(t, f.store.Flush(ctx))
	f.gw.SetItemErr(nil)

	f.gw.PutCart(remoteCart("c9"))
	_, err = f.store.SwitchCart(ctx, "c9")
	require.NoError(t, err)
	cart, err := f.store.SwitchCart(ctx, weekly.ID)
	require.NoError(t, err)

	require.Len(t, cart.Items, 2)
	assert.Equal(t, "p1", cart.Items[0].Product.ID)
	assert.Equal(t, "p2", cart.Items[1].Product.ID)
	assert.Equal(t, 1, cart.Items[1].Quantity)

	require.NoError(t, f.store.Flush(ctx))
	remote, ok := f.gw.Cart(weekly.ID)
	require.True(t, ok)
	quantities := make(map[string]int)
	for _, item := range remote.Items {
		quantities[item.ProductID] = item.Quantity
	}
	assert.Equal(t, map[string]int{"p1": 2, "p2": 1}, quantities)
}

func TestSwitchCart_RefusesRetired(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	d := remoteCart("c9")
	d.Status = domain.CartStatusOrdered
	f.gw.PutCart(d)

	_, err := f.store.SwitchCart(ctx, "c9")
	assert.ErrorIs(t, err, domain.ErrCartRetired)
	_, ok := f.store.ActiveCart()
	assert.False(t, ok)
}

func TestSwitchCart_Missing(t *testing.T) {
	f := newFixture(t, time.Hour)
	_, err := f.store.SwitchCart(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrCartNotFound)
}

func TestLoadUserCarts_ActivatesFirstUsable(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	old := remoteCart("a")
	old.Status = domain.CartStatusOrdered
	old.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.gw.PutCart(old)
	usable := remoteCart("b", gateway.RemoteItem{ID: "i1", ProductID: "p1", Product: &domain.Product{ID: "p1", Name: "Apples"}, Quantity: 1})
	usable.CreatedAt = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	f.gw.PutCart(usable)

	carts, err := f.store.LoadUserCarts(ctx)
	require.NoError(t, err)
	require.Len(t, carts, 2)

	active, ok := f.store.ActiveCart()
	require.True(t, ok)
	assert.Equal(t, "b", active.ID)
	assert.Equal(t, 1, f.store.ItemCount())
}

func TestLoadUserCarts_KeepsCurrentActive(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	mine, err := f.store.CreateCart(ctx, "Mine", "")
	require.NoError(t, err)
	f.gw.PutCart(remoteCart("zzz"))

	_, err = f.store.LoadUserCarts(ctx)
	require.NoError(t, err)

	active, ok := f.store.ActiveCart()
	require.True(t, ok)
	assert.Equal(t, mine.ID, active.ID)
	assert.Len(t, f.store.Carts(), 2)
}

func TestDeleteCart_ConflictRetiresLocally(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	first, err := f.store.CreateCart(ctx, "First", "")
	require.NoError(t, err)
	second, err := f.store.CreateCart(ctx, "Second", "")
	require.NoError(t, err)

	f.gw.DeleteErr = domain.ErrCartRetired
	require.NoError(t, f.store.DeleteCart(ctx, second.ID))

	active, ok := f.store.ActiveCart()
	require.True(t, ok)
	assert.Equal(t, first.ID, active.ID, "oldest remaining cart takes over")
	assert.Len(t, f.store.Carts(), 1)
	require.NotEmpty(t, f.feed.Recent())
}

func TestDeleteCart_LastCartLeavesNoneActive(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	c, err := f.store.CreateCart(ctx, "Only", "")
	require.NoError(t, err)

	require.NoError(t, f.store.DeleteCart(ctx, c.ID))
	_, ok := f.store.ActiveCart()
	assert.False(t, ok)
	assert.Equal(t, 0, f.gw.CartCount())
}

func TestDeleteCart_GatewayFailureKeepsCart(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	c, err := f.store.CreateCart(ctx, "Only", "")
	require.NoError(t, err)

	f.gw.DeleteErr = domain.ErrGatewayUnavailable
	err = f.store.DeleteCart(ctx, c.ID)
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.Len(t, f.store.Carts(), 1)
}

func TestDeleteCart_DraftNeedsNoRemoteCall(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	draft, err := f.store.AddItem(ctx, apples(), 1)
	require.NoError(t, err)

	require.NoError(t, f.store.DeleteCart(ctx, draft.LocalID))
	require.NoError(t, f.store.Flush(ctx))
	assert.Empty(t, f.gw.Calls(), "pending writes of a deleted draft are cancelled")
}

func TestRetireCart_NextAddStartsNewCart(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	_, err := f.store.AddItem(ctx, apples(), 1)
	require.NoError(t, err)
	require.NoError(t, f.store.Flush(ctx))
	ordered, _ := f.store.ActiveCart()

	assert.True(t, f.store.RetireCart(ctx, ordered.ID, domain.CartStatusOrdered))
	assert.False(t, f.store.RetireCart(ctx, ordered.ID, domain.CartStatusOrdered), "already retired")
	_, ok := f.store.ActiveCart()
	assert.False(t, ok)

	_, err = f.store.SwitchCart(ctx, ordered.ID)
	assert.ErrorIs(t, err, domain.ErrCartRetired)

	fresh, err := f.store.AddItem(ctx, milk(), 1)
	require.NoError(t, err)
	assert.NotEqual(t, ordered.LocalID, fresh.LocalID)
	assert.Len(t, f.store.Carts(), 2)
}
