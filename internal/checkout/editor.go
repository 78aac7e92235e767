package checkout

import (
	"context"
	"fmt"

	"github.com/fjod/storefront-sync/internal/domain"
	"github.com/fjod/storefront-sync/internal/logging"
	"github.com/sirupsen/logrus"
)

// ChooseEdit opens the store editor instead of splitting the order.
func (o *Orchestrator) ChooseEdit(ctx context.Context) (View, error) {
	o.run.Lock()
	defer o.run.Unlock()

	o.mu.Lock()
	err := o.transition(ctx, domain.CheckoutEditingStores)
	if err == nil {
		o.marked = make(map[string]bool)
	}
	o.mu.Unlock()
	return o.View(), err
}

// MarkStore selects a store whose lines will be removed when the edit is saved.
func (o *Orchestrator) MarkStore(storeID string) (View, error) {
	return o.toggleStore(storeID, true)
}

func (o *Orchestrator) UnmarkStore(storeID string) (View, error) {
	return o.toggleStore(storeID, false)
}

func (o *Orchestrator) toggleStore(storeID string, mark bool) (View, error) {
	o.mu.Lock()
	if o.state != domain.CheckoutEditingStores {
		state := o.state
		o.mu.Unlock()
		return o.View(), fmt.Errorf("%w: store editor is not open in %s", domain.ErrIllegalTransition, state)
	}
	if o.preview == nil || o.storePreview(storeID) == nil {
		o.mu.Unlock()
		return o.View(), fmt.Errorf("store %s is not part of this preview: %w", storeID, domain.ErrStaleReference)
	}
	if mark {
		o.marked[storeID] = true
	} else {
		delete(o.marked, storeID)
	}
	o.mu.Unlock()
	return o.View(), nil
}

// storePreview must be called with mu held.
func (o *Orchestrator) storePreview(storeID string) *domain.StorePreview {
	for i := range o.preview.FulfillableStores {
		if o.preview.FulfillableStores[i].StoreID == storeID {
			return &o.preview.FulfillableStores[i]
		}
	}
	return nil
}

// CancelEdit returns to the split or edit decision without touching the cart.
func (o *Orchestrator) CancelEdit(ctx context.Context) (View, error) {
	o.run.Lock()
	defer o.run.Unlock()

	o.mu.Lock()
	err := o.transition(ctx, domain.CheckoutMultiStoreDecision)
	if err == nil {
		o.marked = make(map[string]bool)
	}
	o.mu.Unlock()
	return o.View(), err
}

// SaveEdits removes the marked stores' quantities from the cart and previews
// again as a single order.
func (o *Orchestrator) SaveEdits(ctx context.Context) (View, error) {
	o.run.Lock()
	defer o.run.Unlock()

	o.mu.Lock()
	if o.state != domain.CheckoutEditingStores {
		state := o.state
		o.mu.Unlock()
		return o.View(), fmt.Errorf("%w: store editor is not open in %s", domain.ErrIllegalTransition, state)
	}
	if len(o.marked) == 0 {
		o.mu.Unlock()
		return o.View(), fmt.Errorf("%w: mark at least one store to remove", domain.ErrValidationConflict)
	}
	remove := make(map[string]int)
	for storeID := range o.marked {
		st := o.storePreview(storeID)
		if st == nil {
			continue
		}
		for _, line := range st.Items {
			remove[line.ProductID] += line.Quantity
		}
	}
	o.split = false
	stores := len(o.marked)
	o.mu.Unlock()

	cart, ok := o.carts.ActiveCart()
	if !ok {
		return o.View(), o.fail(ctx, domain.ErrNoActiveCart, "Your cart is no longer available.")
	}
	for _, item := range cart.Items {
		n, ok := remove[item.Product.ID]
		if !ok {
			continue
		}
		var err error
		if left := item.Quantity - n; left > 0 {
			_, err = o.carts.UpdateQuantity(ctx, item.Product.ID, left)
		} else {
			_, err = o.carts.DeleteLine(ctx, item.Product.ID)
		}
		if err != nil {
			return o.View(), o.fail(ctx, fmt.Errorf("edit %s: %w", item.Product.ID, err), "Your cart could not be updated.")
		}
	}
	logging.WithFields(ctx, logrus.Fields{"stores": stores, "products": len(remove)}).Info("store edits saved")

	o.mu.Lock()
	o.marked = make(map[string]bool)
	o.mu.Unlock()

	err := o.runPreview(ctx)
	return o.View(), err
}
