// Package gatewaytest provides an in-memory commerce backend for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/storefront-sync/internal/domain"
	"github.com/fjod/storefront-sync/internal/gateway"
)

// Call records one gateway invocation.
type Call struct {
	Op        string
	CartID    string
	ProductID string
	Quantity  int
}

// Fake keeps carts and products in memory. Hooks, when set, run before the
// default behavior and may override it by returning a non-nil error.
type Fake struct {
	mu       sync.RWMutex
	calls    []Call
	nextID   int
	carts    map[string]*gateway.CartDetail
	products map[string]domain.Product

	CreateDelay time.Duration
	CreateErr   error
	ItemErr     error
	DeleteErr   error
	ProductErrs map[string]error

	PreviewFunc func(req domain.PreviewRequest) (*domain.OrderPreview, error)
	OrderFunc   func(req domain.OrderRequest) (*domain.OrderResult, error)
	StatusFunc  func(ref string, attempt int) (string, error)

	previews []domain.PreviewRequest
	orders   []domain.OrderRequest
	polls    []time.Time
}

func NewFake() *Fake {
	return &Fake{
		carts:       make(map[string]*gateway.CartDetail),
		products:    make(map[string]domain.Product),
		ProductErrs: make(map[string]error),
	}
}

func (f *Fake) AddProduct(p domain.Product) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[p.ID] = p
}

// PutCart installs a remote cart as if another device had created it.
func (f *Fake) PutCart(d gateway.CartDetail) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := d
	cp.Items = append([]gateway.RemoteItem(nil), d.Items...)
	f.carts[d.ID] = &cp
}

func (f *Fake) Cart(id string) (gateway.CartDetail, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.carts[id]
	if !ok {
		return gateway.CartDetail{}, false
	}
	cp := *c
	cp.Items = append([]gateway.RemoteItem(nil), c.Items...)
	return cp, true
}

func (f *Fake) CartCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.carts)
}

func (f *Fake) Calls() []Call {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Call(nil), f.calls...)
}

// CallsFor returns calls with the given op.
func (f *Fake) CallsFor(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) Previews() []domain.PreviewRequest {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]domain.PreviewRequest(nil), f.previews...)
}

func (f *Fake) Orders() []domain.OrderRequest {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]domain.OrderRequest(nil), f.orders...)
}

// PollTimes returns the time of every status check.
func (f *Fake) PollTimes() []time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]time.Time(nil), f.polls...)
}

// SetItemErr makes every line mutation fail with err until reset with nil.
func (f *Fake) SetItemErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ItemErr = err
}

func (f *Fake) itemErr() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ItemErr
}

func (f *Fake) record(c Call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *Fake) CreateCart(ctx context.Context, name, description string) (string, error) {
	f.record(Call{Op: "create"})
	if f.CreateDelay > 0 {
		select {
		case <-time.After(f.CreateDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("cart-%d", f.nextID)
	f.carts[id] = &gateway.CartDetail{ID: id, Name: name, Description: description, Status: domain.CartStatusActive, CreatedAt: time.Now()}
	return id, nil
}

func (f *Fake) GetCartDetail(_ context.Context, id string) (*gateway.CartDetail, error) {
	f.record(Call{Op: "get", CartID: id})
	d, ok := f.Cart(id)
	if !ok {
		return nil, domain.ErrCartNotFound
	}
	return &d, nil
}

func (f *Fake) AddItem(_ context.Context, cartID, productID string, quantity int) (string, error) {
	f.record(Call{Op: "add", CartID: cartID, ProductID: productID, Quantity: quantity})
	if err := f.itemErr(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[cartID]
	if !ok {
		return "", domain.ErrCartNotFound
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity += quantity
			return c.Items[i].ID, nil
		}
	}
	f.nextID++
	id := fmt.Sprintf("item-%d", f.nextID)
	c.Items = append(c.Items, gateway.RemoteItem{ID: id, ProductID: productID, Quantity: quantity})
	return id, nil
}

func (f *Fake) RemoveItem(_ context.Context, cartID, productID string) error {
	f.record(Call{Op: "remove", CartID: cartID, ProductID: productID})
	if err := f.itemErr(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[cartID]
	if !ok {
		return domain.ErrCartNotFound
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *Fake) UpdateQuantity(_ context.Context, cartID, productID string, quantity int) error {
	f.record(Call{Op: "update", CartID: cartID, ProductID: productID, Quantity: quantity})
	if err := f.itemErr(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[cartID]
	if !ok {
		return domain.ErrCartNotFound
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity = quantity
			return nil
		}
	}
	return domain.ErrProductNotFound
}

func (f *Fake) DeleteCart(_ context.Context, id string) error {
	f.record(Call{Op: "delete", CartID: id})
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.carts[id]; !ok {
		return domain.ErrCartNotFound
	}
	delete(f.carts, id)
	return nil
}

func (f *Fake) ListCarts(_ context.Context) ([]gateway.CartDetail, error) {
	f.record(Call{Op: "list"})
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]gateway.CartDetail, 0, len(f.carts))
	for _, c := range f.carts {
		cp := *c
		cp.Items = append([]gateway.RemoteItem(nil), c.Items...)
		out = append(out, cp)
	}
	return out, nil
}

func (f *Fake) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	f.record(Call{Op: "product", ProductID: id})
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.ProductErrs[id]; err != nil {
		return nil, err
	}
	p, ok := f.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return &p, nil
}

func (f *Fake) Preview(_ context.Context, req domain.PreviewRequest) (*domain.OrderPreview, error) {
	f.record(Call{Op: "preview"})
	f.mu.Lock()
	f.previews = append(f.previews, req)
	fn := f.PreviewFunc
	f.mu.Unlock()
	if fn == nil {
		return &domain.OrderPreview{}, nil
	}
	return fn(req)
}

func (f *Fake) CreateOrder(_ context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	f.record(Call{Op: "order"})
	f.mu.Lock()
	f.orders = append(f.orders, req)
	fn := f.OrderFunc
	f.mu.Unlock()
	if fn == nil {
		return &domain.OrderResult{}, nil
	}
	return fn(req)
}

func (f *Fake) CheckStatus(_ context.Context, ref string) (string, error) {
	f.record(Call{Op: "status"})
	f.mu.Lock()
	f.polls = append(f.polls, time.Now())
	attempt := len(f.polls)
	fn := f.StatusFunc
	f.mu.Unlock()
	if fn == nil {
		return "pending", nil
	}
	return fn(ref, attempt)
}

// Script returns a StatusFunc that replays statuses in order and repeats the last one.
func Script(statuses ...string) func(string, int) (string, error) {
	return func(_ string, attempt int) (string, error) {
		if len(statuses) == 0 {
			return "pending", nil
		}
		if attempt > len(statuses) {
			return statuses[len(statuses)-1], nil
		}
		return statuses[attempt-1], nil
	}
}

var _ gateway.Gateway = (*Fake)(nil)
