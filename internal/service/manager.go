package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront-sync/internal/domain"
	"github.com/fjod/storefront-sync/internal/gateway"
	"github.com/fjod/storefront-sync/internal/logging"
	"github.com/fjod/storefront-sync/internal/notify"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// CreateCart allocates a remote cart and makes it the only active one.
func (s *Store) CreateCart(ctx context.Context, name, description string) (domain.Cart, error) {
	if name == "" {
		name = defaultCartName
	}
	id, err := s.gw.CreateCart(ctx, name, description)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("create cart: %w", err)
	}
	s.metrics.CartCreated()

	now := s.now().UTC()
	cart, _ := s.apply(func(c *domain.Collection) ([]change, error) {
		c.Carts[id] = &domain.Cart{
			LocalID:     id,
			ID:          id,
			Name:        name,
			Description: description,
			Status:      domain.CartStatusActive,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		c.Activate(id)
		s.confirmed[id] = make(map[string]int)
		return nil, nil
	})
	logging.WithFields(ctx, logrus.Fields{"cart": id}).Info("cart created")
	return cart, nil
}

// resolve finds a cart by local key or remote id. Must be called with mu held.
func (s *Store) resolve(id string) (string, *domain.Cart) {
	if cart, ok := s.carts.Carts[id]; ok {
		return id, cart
	}
	if cart := s.carts.ByRemoteID(id); cart != nil {
		return cart.LocalID, cart
	}
	return "", nil
}

// SwitchCart makes id the active cart and reloads its lines from the remote
// cart, fetching every product in full. Lines whose product cannot be
// fetched are dropped. Local changes the remote cart never confirmed are
// kept and written again.
func (s *Store) SwitchCart(ctx context.Context, id string) (domain.Cart, error) {
	s.mu.RLock()
	key, cart := s.resolve(id)
	var remoteID string
	var retired bool
	if cart != nil {
		remoteID = cart.ID
		retired = cart.Status.Retired()
	}
	s.mu.RUnlock()

	if retired {
		return domain.Cart{}, domain.ErrCartRetired
	}
	if cart != nil && remoteID == "" {
		// a local draft has nothing to fetch yet
		return s.apply(func(c *domain.Collection) ([]change, error) {
			c.Activate(key)
			return nil, nil
		})
	}
	if remoteID == "" {
		remoteID = id
	}

	// pending writes must land before the remote detail is read
	if err := s.lines.Flush(ctx); err != nil {
		return domain.Cart{}, err
	}

	detail, err := s.gw.GetCartDetail(ctx, remoteID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("get cart %s: %w", remoteID, err)
	}
	if detail.Status.Retired() {
		s.RetireCart(ctx, remoteID, detail.Status)
		return domain.Cart{}, domain.ErrCartRetired
	}

	items := s.hydrate(ctx, detail.Items)

	var kept int
	out, err := s.apply(func(c *domain.Collection) ([]change, error) {
		key, cart := s.resolve(remoteID)
		lines := items
		var pending []change
		if cart == nil {
			key = remoteID
			cart = fromDetail(detail, s.now().UTC())
			c.Carts[key] = cart
		} else {
			lines, pending = s.keepUnsynced(key, cart.Items, items)
		}
		cart.Name = detail.Name
		cart.Description = detail.Description
		cart.Items = lines
		cart.UpdatedAt = s.now().UTC()

		confirmed := make(map[string]int, len(items))
		for _, item := range items {
			confirmed[item.Product.ID] = item.Quantity
		}
		s.confirmed[key] = confirmed
		c.Activate(key)
		kept = len(pending)
		return pending, nil
	})
	if err != nil {
		return domain.Cart{}, err
	}
	logging.WithFields(ctx, logrus.Fields{"cart": remoteID, "items": len(out.Items), "remote_items": len(detail.Items), "unsynced": kept}).Info("switched cart")
	return out, nil
}

// keepUnsynced lays local lines the remote cart never confirmed over the
// remote lines and returns them for another write. Must be called with mu held.
func (s *Store) keepUnsynced(key string, local, remote []domain.LineItem) ([]domain.LineItem, []change) {
	confirmed := s.confirmed[key]
	out := append([]domain.LineItem(nil), remote...)
	index := make(map[string]int, len(out))
	for i, item := range out {
		index[item.Product.ID] = i
	}

	var pending []change
	present := make(map[string]bool, len(local))
	for _, item := range local {
		id := item.Product.ID
		present[id] = true
		if item.Quantity == confirmed[id] {
			continue
		}
		if i, ok := index[id]; ok {
			out[i].Quantity = item.Quantity
		} else {
			index[id] = len(out)
			out = append(out, item)
		}
		pending = append(pending, change{key, id})
	}

	// removed here but still confirmed remotely
	dropped := make(map[string]bool)
	for id := range confirmed {
		if !present[id] {
			dropped[id] = true
			pending = append(pending, change{key, id})
		}
	}
	if len(dropped) > 0 {
		kept := out[:0]
		for _, item := range out {
			if !dropped[item.Product.ID] {
				kept = append(kept, item)
			}
		}
		out = kept
	}
	return out, pending
}

// hydrate fetches full product detail for every remote line, bounded by the
// worker limit. Order is preserved and repeated products are merged.
func (s *Store) hydrate(ctx context.Context, remote []gateway.RemoteItem) []domain.LineItem {
	products := make([]*domain.Product, len(remote))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, item := range remote {
		g.Go(func() error {
			p, err := s.gw.GetProductByID(ctx, item.ProductID)
			if err != nil {
				s.metrics.LineDropped()
				logging.WithFields(ctx, logrus.Fields{"product": item.ProductID}).WithError(err).Warn("dropping cart line, product fetch failed")
				return nil
			}
			products[i] = p
			return nil
		})
	}
	_ = g.Wait()

	now := s.now().UTC()
	items := make([]domain.LineItem, 0, len(remote))
	seen := make(map[string]int, len(remote))
	for i, item := range remote {
		p := products[i]
		if p == nil || item.Quantity <= 0 {
			continue
		}
		if j, ok := seen[p.ID]; ok {
			items[j].Quantity += item.Quantity
			continue
		}
		remoteItemID := item.ID
		if remoteItemID == "" {
			remoteItemID = p.ID
		}
		seen[p.ID] = len(items)
		items = append(items, domain.LineItem{Product: *p, Quantity: item.Quantity, RemoteItemID: remoteItemID, AddedAt: now})
	}
	return items
}

func fromDetail(d *gateway.CartDetail, now time.Time) *domain.Cart {
	created := d.CreatedAt
	if created.IsZero() {
		created = now
	}
	status := d.Status
	if status == "" {
		status = domain.CartStatusActive
	}
	return &domain.Cart{
		LocalID:     d.ID,
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Status:      status,
		CreatedAt:   created,
		UpdatedAt:   now,
	}
}

// stubItems converts remote lines without fetching products; the cart is
// hydrated when it is switched to.
func stubItems(remote []gateway.RemoteItem, now time.Time) []domain.LineItem {
	items := make([]domain.LineItem, 0, len(remote))
	for _, item := range remote {
		if item.Quantity <= 0 || item.ProductID == "" {
			continue
		}
		p := domain.Product{ID: item.ProductID}
		if item.Product != nil {
			p = *item.Product
			p.ID = item.ProductID
		}
		remoteItemID := item.ID
		if remoteItemID == "" {
			remoteItemID = item.ProductID
		}
		items = append(items, domain.LineItem{Product: p, Quantity: item.Quantity, RemoteItemID: remoteItemID, AddedAt: now})
	}
	return items
}

// LoadUserCarts merges the user's remote carts into the collection. Local
// lines of known carts are kept. When no cart is active the first usable
// remote cart becomes active.
func (s *Store) LoadUserCarts(ctx context.Context) ([]domain.Cart, error) {
	remote, err := s.gw.ListCarts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list carts: %w", err)
	}

	_, err = s.apply(func(c *domain.Collection) ([]change, error) {
		now := s.now().UTC()
		first := ""
		for i := range remote {
			d := &remote[i]
			if d.ID == "" {
				continue
			}
			key, cart := s.resolve(d.ID)
			if cart == nil {
				cart = fromDetail(d, now)
				cart.Items = stubItems(d.Items, now)
				key = cart.LocalID
				c.Carts[key] = cart
				confirmed := make(map[string]int, len(cart.Items))
				for _, item := range cart.Items {
					confirmed[item.Product.ID] += item.Quantity
				}
				s.confirmed[key] = confirmed
			} else {
				if d.Name != "" {
					cart.Name = d.Name
				}
				cart.Description = d.Description
			}
			if d.Status.Retired() && !cart.Status.Retired() {
				cart.Status = d.Status
				if c.ActiveKey == key {
					c.Activate("")
				}
			}
			if first == "" && !cart.Status.Retired() {
				first = key
			}
		}
		if c.Active() == nil && first != "" {
			c.Activate(first)
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	logging.WithFields(ctx, logrus.Fields{"remote_carts": len(remote)}).Debug("user carts loaded")
	return s.Carts(), nil
}

// DeleteCart deletes a cart remotely and locally. A cart tied to a placed
// order cannot be deleted; it is marked completed and removed locally.
func (s *Store) DeleteCart(ctx context.Context, id string) error {
	s.mu.RLock()
	key, cart := s.resolve(id)
	var remoteID string
	if cart != nil {
		remoteID = cart.ID
	}
	s.mu.RUnlock()

	if cart == nil {
		return domain.ErrCartNotFound
	}

	if remoteID != "" {
		err := s.gw.DeleteCart(ctx, remoteID)
		switch {
		case errors.Is(err, domain.ErrCartRetired):
			s.metrics.CartRetired()
			s.notifier.Notify(ctx, notify.Notification{
				Level:   notify.LevelInfo,
				Topic:   "cart.delete",
				Message: "This cart belongs to a placed order and was removed from your list.",
			})
		case errors.Is(err, domain.ErrCartNotFound):
		case err != nil:
			return fmt.Errorf("delete cart %s: %w", remoteID, err)
		}
	}

	s.forget(key)
	logging.WithFields(ctx, logrus.Fields{"cart": key}).Info("cart deleted")
	return nil
}

// forget removes a cart locally and activates the oldest remaining usable
// cart if it was active.
func (s *Store) forget(key string) {
	s.mu.Lock()
	cart := s.carts.Carts[key]
	var products []string
	if cart != nil {
		for _, item := range cart.Items {
			products = append(products, item.Product.ID)
		}
	}
	for productID := range s.confirmed[key] {
		products = append(products, productID)
	}
	wasActive := s.carts.ActiveKey == key
	delete(s.carts.Carts, key)
	delete(s.confirmed, key)
	if wasActive {
		s.carts.Activate(successor(s.carts))
	}
	s.mu.Unlock()

	for _, productID := range products {
		s.lines.Cancel(lineKey(key, productID))
	}
	s.schedulePersist()
}

func successor(c *domain.Collection) string {
	for _, cart := range c.Ordered() {
		if !cart.Status.Retired() {
			return cart.LocalID
		}
	}
	return ""
}

// RetireCart marks a cart as tied to an order. It stays listed but is no
// longer active or mutable, so the next add starts a new cart.
func (s *Store) RetireCart(ctx context.Context, id string, status domain.CartStatus) bool {
	if !status.Retired() {
		status = domain.CartStatusOrdered
	}

	s.mu.Lock()
	key, cart := s.resolve(id)
	if cart == nil || cart.Status == status {
		s.mu.Unlock()
		return false
	}
	cart.Status = status
	cart.UpdatedAt = s.now().UTC()
	if s.carts.ActiveKey == key {
		s.carts.Activate("")
	}
	var products []string
	for _, item := range cart.Items {
		products = append(products, item.Product.ID)
	}
	s.mu.Unlock()

	for _, productID := range products {
		s.lines.Cancel(lineKey(key, productID))
	}
	s.metrics.CartRetired()
	s.schedulePersist()
	logging.WithFields(ctx, logrus.Fields{"cart": id, "status": status}).Info("cart retired")
	return true
}
