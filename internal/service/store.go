package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/storefront-sync/internal/cache"
	"github.com/fjod/storefront-sync/internal/debounce"
	"github.com/fjod/storefront-sync/internal/domain"
	"github.com/fjod/storefront-sync/internal/gateway"
	"github.com/fjod/storefront-sync/internal/logging"
	"github.com/fjod/storefront-sync/internal/metrics"
	"github.com/fjod/storefront-sync/internal/notify"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	snapshotKey     = "snapshot"
	defaultCartName = "My cart"
)

type Gateway interface {
	gateway.CartGateway
	gateway.ProductGateway
}

type Options struct {
	SessionID        string
	Debounce         time.Duration
	SnapshotDebounce time.Duration
	HydrateWorkers   int
	Notifier         notify.Notifier
	Metrics          *metrics.Registry
}

// Store owns the cart collection of one local session. Every mutation is
// applied locally first and written to the remote cart after a per-line
// debounce window.
type Store struct {
	mu    sync.RWMutex
	carts *domain.Collection
	// confirmed holds the quantities the remote cart is known to have, per cart key and product.
	confirmed map[string]map[string]int

	gw        Gateway
	snapshots cache.SnapshotStore
	sessionID string
	workers   int

	lines    *debounce.Debouncer
	persists *debounce.Debouncer
	sfg      singleflight.Group // one remote cart creation per local cart

	notifier notify.Notifier
	metrics  *metrics.Registry
	now      func() time.Time
}

// NewStore builds a store. snapshots may be nil to keep state in memory only.
func NewStore(gw Gateway, snapshots cache.SnapshotStore, opts Options) *Store {
	if opts.Debounce <= 0 {
		opts.Debounce = 400 * time.Millisecond
	}
	if opts.SnapshotDebounce <= 0 {
		opts.SnapshotDebounce = 100 * time.Millisecond
	}
	if opts.HydrateWorkers <= 0 {
		opts.HydrateWorkers = 4
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard{}
	}
	if opts.SessionID == "" {
		opts.SessionID = "default"
	}

	s := &Store{
		carts:     domain.NewCollection(),
		confirmed: make(map[string]map[string]int),
		gw:        gw,
		snapshots: snapshots,
		sessionID: opts.SessionID,
		workers:   opts.HydrateWorkers,
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		now:       time.Now,
	}
	s.lines = debounce.New(opts.Debounce, debounce.Options{
		OnError:     s.syncFailed,
		OnSupersede: func(string) { s.metrics.Coalesced() },
	})
	s.persists = debounce.New(opts.SnapshotDebounce, debounce.Options{
		OnError: func(_ string, err error) {
			logging.Logger().WithError(err).Warn("cart snapshot write failed")
		},
	})
	return s
}

func (s *Store) SessionID() string {
	return s.sessionID
}

// change names one line whose remote state may now differ from the local one.
type change struct {
	cartKey   string
	productID string
}

// apply is the single update path: fn mutates the collection under the lock,
// then the touched lines and the snapshot are scheduled for writing.
func (s *Store) apply(fn func(c *domain.Collection) ([]change, error)) (domain.Cart, error) {
	s.mu.Lock()
	changes, err := fn(s.carts)
	var out domain.Cart
	if active := s.carts.Active(); active != nil {
		out = active.Clone()
	}
	s.mu.Unlock()
	if err != nil {
		return out, err
	}

	for _, ch := range changes {
		s.scheduleLine(ch)
	}
	s.schedulePersist()
	return out, nil
}

// activeForWrite returns the active cart, creating a local draft when none is
// active. A draft has no remote id until its first line is synced.
func (s *Store) activeForWrite(c *domain.Collection) *domain.Cart {
	if active := c.Active(); active != nil {
		return active
	}
	now := s.now().UTC()
	draft := &domain.Cart{
		LocalID:   uuid.NewString(),
		Name:      defaultCartName,
		Status:    domain.CartStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.Carts[draft.LocalID] = draft
	c.Activate(draft.LocalID)
	return draft
}

// AddItem adds quantity units of product to the active cart.
func (s *Store) AddItem(ctx context.Context, product domain.Product, quantity int) (domain.Cart, error) {
	if quantity <= 0 {
		return domain.Cart{}, domain.ErrInvalidQuantity
	}
	if product.ID == "" {
		return domain.Cart{}, domain.ErrProductNotFound
	}

	cart, err := s.apply(func(c *domain.Collection) ([]change, error) {
		cart := s.activeForWrite(c)
		if cart.Status.Retired() {
			return nil, domain.ErrCartRetired
		}
		now := s.now().UTC()
		if i, ok := cart.Find(product.ID); ok {
			cart.Items[i].Quantity += quantity
			cart.Items[i].Product = product
		} else {
			cart.Items = append(cart.Items, domain.LineItem{Product: product, Quantity: quantity, AddedAt: now})
		}
		cart.UpdatedAt = now
		return []change{{cart.LocalID, product.ID}}, nil
	})
	if err == nil {
		logging.WithFields(ctx, logrus.Fields{"cart": cart.LocalID, "product": product.ID, "quantity": quantity}).Debug("item added")
	}
	return cart, err
}

// RemoveItem takes one unit of productID out of the active cart; the line
// disappears when it reaches zero.
func (s *Store) RemoveItem(ctx context.Context, productID string) (domain.Cart, error) {
	return s.mutateLine(ctx, productID, func(cart *domain.Cart, i int) {
		cart.Items[i].Quantity--
	})
}

// UpdateQuantity sets the quantity of a line; zero or less deletes it.
func (s *Store) UpdateQuantity(ctx context.Context, productID string, quantity int) (domain.Cart, error) {
	return s.mutateLine(ctx, productID, func(cart *domain.Cart, i int) {
		cart.Items[i].Quantity = quantity
	})
}

func (s *Store) DeleteLine(ctx context.Context, productID string) (domain.Cart, error) {
	return s.mutateLine(ctx, productID, func(cart *domain.Cart, i int) {
		cart.Items[i].Quantity = 0
	})
}

func (s *Store) mutateLine(ctx context.Context, productID string, fn func(cart *domain.Cart, i int)) (domain.Cart, error) {
	cart, err := s.apply(func(c *domain.Collection) ([]change, error) {
		cart := c.Active()
		if cart == nil {
			return nil, domain.ErrNoActiveCart
		}
		if cart.Status.Retired() {
			return nil, domain.ErrCartRetired
		}
		i, ok := cart.Find(productID)
		if !ok {
			return nil, fmt.Errorf("line %s: %w", productID, domain.ErrProductNotFound)
		}
		fn(cart, i)
		if cart.Items[i].Quantity <= 0 {
			cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
		}
		cart.UpdatedAt = s.now().UTC()
		return []change{{cart.LocalID, productID}}, nil
	})
	if err == nil {
		logging.WithFields(ctx, logrus.Fields{"cart": cart.LocalID, "product": productID}).Debug("line changed")
	}
	return cart, err
}

// Clear empties the active cart. Each removed line is written separately.
func (s *Store) Clear(ctx context.Context) (domain.Cart, error) {
	return s.apply(func(c *domain.Collection) ([]change, error) {
		cart := c.Active()
		if cart == nil {
			return nil, domain.ErrNoActiveCart
		}
		if cart.Status.Retired() {
			return nil, domain.ErrCartRetired
		}
		changes := make([]change, 0, len(cart.Items))
		for _, item := range cart.Items {
			changes = append(changes, change{cart.LocalID, item.Product.ID})
		}
		cart.Items = nil
		cart.UpdatedAt = s.now().UTC()
		return changes, nil
	})
}

func (s *Store) ActiveCart() (domain.Cart, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active := s.carts.Active()
	if active == nil {
		return domain.Cart{}, false
	}
	return active.Clone(), true
}

func (s *Store) Items() []domain.LineItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.carts.Items()
}

func (s *Store) Subtotal() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.carts.Subtotal()
}

func (s *Store) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.carts.ItemCount()
}

// Carts lists every cart, oldest first.
func (s *Store) Carts() []domain.Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ordered := s.carts.Ordered()
	out := make([]domain.Cart, 0, len(ordered))
	for _, c := range ordered {
		out = append(out, c.Clone())
	}
	return out
}

func (s *Store) Snapshot() *domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := domain.NewSnapshot(s.sessionID, s.carts)
	snap.Confirmed = make(map[string]map[string]int, len(s.confirmed))
	for key, lines := range s.confirmed {
		if len(lines) == 0 {
			continue
		}
		m := make(map[string]int, len(lines))
		for productID, qty := range lines {
			m[productID] = qty
		}
		snap.Confirmed[key] = m
	}
	return snap
}

func lineKey(cartKey, productID string) string {
	return cartKey + "/" + productID
}

func (s *Store) scheduleLine(ch change) {
	s.lines.Schedule(lineKey(ch.cartKey, ch.productID), func(ctx context.Context) error {
		return s.syncLine(ctx, ch.cartKey, ch.productID)
	})
}

// syncLine brings one remote line to the local quantity read at fire time.
func (s *Store) syncLine(ctx context.Context, cartKey, productID string) error {
	remoteID, err := s.ensureRemoteCart(ctx, cartKey)
	if errors.Is(err, domain.ErrCartNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	s.mu.RLock()
	cart := s.carts.Carts[cartKey]
	if cart == nil || cart.Status.Retired() {
		s.mu.RUnlock()
		return nil
	}
	desired := 0
	if i, ok := cart.Find(productID); ok {
		desired = cart.Items[i].Quantity
	}
	confirmed := s.confirmed[cartKey][productID]
	s.mu.RUnlock()

	var op, itemID string
	switch {
	case desired == confirmed:
		return nil
	case confirmed == 0:
		op = "add"
		itemID, err = s.gw.AddItem(ctx, remoteID, productID, desired)
	case desired == 0:
		op = "remove"
		err = s.gw.RemoveItem(ctx, remoteID, productID)
	default:
		op = "update"
		err = s.gw.UpdateQuantity(ctx, remoteID, productID, desired)
	}
	if err != nil {
		s.metrics.SyncFailure(op)
		return fmt.Errorf("%s line %s: %w", op, productID, err)
	}
	s.metrics.SyncWrite(op)

	s.mu.Lock()
	s.confirm(cartKey, productID, desired)
	if cart := s.carts.Carts[cartKey]; cart != nil && op == "add" {
		if i, ok := cart.Find(productID); ok && cart.Items[i].RemoteItemID == "" {
			if itemID == "" {
				// lines are addressed by product id on the remote side
				itemID = productID
			}
			cart.Items[i].RemoteItemID = itemID
		}
	}
	s.mu.Unlock()

	logging.WithFields(ctx, logrus.Fields{"cart": remoteID, "product": productID, "op": op, "quantity": desired}).Debug("line synced")
	s.schedulePersist()
	return nil
}

// confirm must be called with mu held.
func (s *Store) confirm(cartKey, productID string, quantity int) {
	m := s.confirmed[cartKey]
	if m == nil {
		m = make(map[string]int)
		s.confirmed[cartKey] = m
	}
	if quantity <= 0 {
		delete(m, productID)
		return
	}
	m[productID] = quantity
}

// ensureRemoteCart returns the remote id of a cart, creating the remote cart
// once no matter how many lines are waiting on it.
func (s *Store) ensureRemoteCart(ctx context.Context, cartKey string) (string, error) {
	lookup := func() (id, name, description string, err error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		cart := s.carts.Carts[cartKey]
		if cart == nil {
			return "", "", "", domain.ErrCartNotFound
		}
		return cart.ID, cart.Name, cart.Description, nil
	}

	id, _, _, err := lookup()
	if err != nil || id != "" {
		return id, err
	}

	v, err, shared := s.sfg.Do("create:"+cartKey, func() (any, error) {
		id, name, description, err := lookup()
		if err != nil || id != "" {
			return id, err
		}
		id, err = s.gw.CreateCart(ctx, name, description)
		if err != nil {
			return "", fmt.Errorf("create cart: %w", err)
		}

		s.mu.Lock()
		if cart := s.carts.Carts[cartKey]; cart != nil {
			cart.ID = id
			cart.UpdatedAt = s.now().UTC()
		}
		s.mu.Unlock()

		s.metrics.CartCreated()
		logging.WithFields(ctx, logrus.Fields{"cart": cartKey, "remote_id": id}).Info("remote cart created")
		s.schedulePersist()
		return id, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		logging.WithFields(ctx, logrus.Fields{"cart": cartKey}).Debug("joined in-flight cart creation")
	}
	return v.(string), nil
}

func (s *Store) syncFailed(key string, err error) {
	n := notify.Error("cart.sync", "We could not save a cart change. It is kept on this device and will be retried with your next change.", err)
	n.Level = notify.LevelWarning
	logging.Logger().WithFields(logrus.Fields{"line": key}).WithError(err).Warn("cart sync failed")
	s.notifier.Notify(context.Background(), n)
}

func (s *Store) schedulePersist() {
	if s.snapshots == nil {
		return
	}
	s.persists.Schedule(snapshotKey, s.persist)
}

func (s *Store) persist(ctx context.Context) error {
	snap := s.Snapshot()
	err := s.snapshots.SaveSnapshot(ctx, snap)
	s.metrics.SnapshotWrite(err == nil)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Restore loads the persisted collection of this session. A missing or
// unreadable snapshot leaves the store empty. Lines whose quantity differs
// from the last confirmed remote quantity are scheduled for sync again.
func (s *Store) Restore(ctx context.Context) error {
	if s.snapshots == nil {
		return nil
	}
	snap, err := s.snapshots.LoadSnapshot(ctx, s.sessionID)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	c, err := snap.Collection()
	if err != nil {
		logging.WithContext(ctx).WithError(err).Warn("discarding cart snapshot")
		if errDel := s.snapshots.DeleteSnapshot(ctx, s.sessionID); errDel != nil {
			logging.WithContext(ctx).WithError(errDel).Warn("delete snapshot failed")
		}
		return nil
	}

	var pending []change
	s.mu.Lock()
	s.carts = c
	s.confirmed = make(map[string]map[string]int)
	for key, cart := range c.Carts {
		if snap.Confirmed == nil {
			// snapshots without confirmed quantities trust every known line
			for _, item := range cart.Items {
				if item.Known() {
					s.confirm(key, item.Product.ID, item.Quantity)
				}
			}
		} else {
			for productID, qty := range snap.Confirmed[key] {
				s.confirm(key, productID, qty)
			}
		}
		if cart.Status.Retired() {
			continue
		}
		present := make(map[string]bool, len(cart.Items))
		for _, item := range cart.Items {
			present[item.Product.ID] = true
			if item.Quantity != s.confirmed[key][item.Product.ID] {
				pending = append(pending, change{key, item.Product.ID})
			}
		}
		for productID := range s.confirmed[key] {
			if !present[productID] {
				pending = append(pending, change{key, productID})
			}
		}
	}
	s.mu.Unlock()

	for _, ch := range pending {
		s.scheduleLine(ch)
	}
	logging.WithFields(ctx, logrus.Fields{"carts": len(c.Carts), "unsynced": len(pending)}).Info("cart snapshot restored")
	return nil
}

// Flush writes every pending line and the snapshot now.
func (s *Store) Flush(ctx context.Context) error {
	if err := s.lines.Flush(ctx); err != nil {
		return err
	}
	return s.persists.Flush(ctx)
}

// Close flushes pending work and stops the timers.
func (s *Store) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	s.lines.Close()
	s.persists.Close()
	return err
}
