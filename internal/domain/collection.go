package domain

import "sort"

// SnapshotVersion is bumped whenever the persisted Collection layout changes.
const SnapshotVersion = 1

// Collection holds every cart known to the session. The working item list and
// the aggregates are derived from the active cart and never stored on their own.
type Collection struct {
	Carts     map[string]*Cart `json:"carts"`
	ActiveKey string           `json:"active_key,omitempty"`
}

func NewCollection() *Collection {
	return &Collection{Carts: make(map[string]*Cart)}
}

func (c *Collection) Active() *Cart {
	if c.ActiveKey == "" {
		return nil
	}
	return c.Carts[c.ActiveKey]
}

func (c *Collection) ByRemoteID(id string) *Cart {
	for _, cart := range c.Carts {
		if cart.ID == id {
			return cart
		}
	}
	return nil
}

// Activate makes key the single active cart. An empty key leaves no cart active.
func (c *Collection) Activate(key string) {
	for k, cart := range c.Carts {
		cart.IsActive = k == key
	}
	if _, ok := c.Carts[key]; ok {
		c.ActiveKey = key
		return
	}
	c.ActiveKey = ""
}

// Ordered returns carts sorted by creation time, oldest first, so successor
// selection and listings are deterministic.
func (c *Collection) Ordered() []*Cart {
	out := make([]*Cart, 0, len(c.Carts))
	for _, cart := range c.Carts {
		out = append(out, cart)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].LocalID < out[j].LocalID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (c *Collection) Items() []LineItem {
	active := c.Active()
	if active == nil {
		return nil
	}
	out := make([]LineItem, len(active.Items))
	copy(out, active.Items)
	return out
}

func (c *Collection) Subtotal() float64 {
	if active := c.Active(); active != nil {
		return active.Subtotal()
	}
	return 0
}

func (c *Collection) ItemCount() int {
	if active := c.Active(); active != nil {
		return active.ItemCount()
	}
	return 0
}

func (c *Collection) Clone() *Collection {
	out := &Collection{
		Carts:     make(map[string]*Cart, len(c.Carts)),
		ActiveKey: c.ActiveKey,
	}
	for k, cart := range c.Carts {
		cp := cart.Clone()
		out.Carts[k] = &cp
	}
	return out
}
