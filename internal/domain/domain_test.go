package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitPrice_Priority(t *testing.T) {
	tests := []struct {
		name    string
		product Product
		want    float64
	}{
		{"final wins", Product{Pricing: &Pricing{FinalPrice: Float(2.5), BasePrice: Float(3)}, Price: Float(4)}, 2.5},
		{"base when no final", Product{Pricing: &Pricing{BasePrice: Float(3)}, Price: Float(4)}, 3},
		{"legacy price", Product{Pricing: &Pricing{}, Price: Float(4)}, 4},
		{"legacy without pricing", Product{Price: Float(1.25)}, 1.25},
		{"nothing", Product{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.product.UnitPrice())
		})
	}
}

func TestCartSubtotal(t *testing.T) {
	cart := &Cart{Items: []LineItem{
		{Product: Product{ID: "a", Pricing: &Pricing{FinalPrice: Float(2)}}, Quantity: 3},
		{Product: Product{ID: "b", Price: Float(1.5)}, Quantity: 2},
	}}
	assert.InDelta(t, 9.0, cart.Subtotal(), 0.0001)
	assert.Equal(t, 5, cart.ItemCount())
}

func TestCollection_ActivateKeepsSingleActive(t *testing.T) {
	c := NewCollection()
	c.Carts["a"] = &Cart{LocalID: "a", IsActive: true}
	c.Carts["b"] = &Cart{LocalID: "b"}

	c.Activate("b")
	assert.Equal(t, "b", c.ActiveKey)
	assert.False(t, c.Carts["a"].IsActive)
	assert.True(t, c.Carts["b"].IsActive)

	c.Activate("missing")
	assert.Empty(t, c.ActiveKey)
	assert.Nil(t, c.Active())
}

func TestSnapshot_RoundTrip(t *testing.T) {
	c := NewCollection()
	c.Carts["local-1"] = &Cart{LocalID: "local-1", Name: "draft", CreatedAt: time.Now(), Items: []LineItem{
		{Product: Product{ID: "p1", Price: Float(2)}, Quantity: 4},
	}}
	c.Carts["r-9"] = &Cart{LocalID: "r-9", ID: "r-9", Name: "weekly", CreatedAt: time.Now().Add(-time.Hour)}
	c.Activate("r-9")

	snap := NewSnapshot("s1", c)
	assert.Equal(t, SnapshotVersion, snap.Version)
	assert.Equal(t, "r-9", snap.Carts[0].LocalID)

	restored, err := snap.Collection()
	require.NoError(t, err)
	assert.Equal(t, "r-9", restored.ActiveKey)
	assert.Equal(t, 4, restored.Carts["local-1"].Items[0].Quantity)
}

func TestSnapshot_RejectsUnknownVersion(t *testing.T) {
	snap := &Snapshot{Version: 99}
	_, err := snap.Collection()
	assert.ErrorIs(t, err, ErrSnapshotVersion)
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, RemoteStatusSuccess, NormalizeStatus("  SUCCESS "))
	assert.Equal(t, RemoteStatusDeclined, NormalizeStatus("Declined"))
	assert.Equal(t, RemoteStatusFailed, NormalizeStatus("failed\n"))
	assert.Equal(t, RemoteStatusPending, NormalizeStatus("processing"))
	assert.Equal(t, RemoteStatusPending, NormalizeStatus(""))
}

func TestCanTransitionTo(t *testing.T) {
	assert.True(t, CanTransitionTo(CheckoutIdle, CheckoutPreviewing))
	assert.True(t, CanTransitionTo(CheckoutReady, CheckoutSubmitting))
	assert.False(t, CanTransitionTo(CheckoutQuantityMismatch, CheckoutSubmitting))
	assert.False(t, CanTransitionTo(CheckoutSubmitted, CheckoutPreviewing))
}

func TestNextActionFor(t *testing.T) {
	assert.Equal(t, ActionSignIn, NextActionFor(fmt.Errorf("preview: %w", ErrAuthRequired)))
	assert.Equal(t, ActionReselectAddress, NextActionFor(ErrStaleReference))
	assert.Equal(t, ActionContactSupport, NextActionFor(ErrFatalCheckout))
	assert.Equal(t, ActionTryAgain, NextActionFor(errors.New("boom")))
	assert.Equal(t, ActionNone, NextActionFor(nil))
}
