package domain

import "time"

type CartStatus string

const (
	CartStatusActive    CartStatus = "ACTIVE"
	CartStatusOrdered   CartStatus = "ORDERED"
	CartStatusCompleted CartStatus = "COMPLETED"
)

// Retired carts are kept for history but accept no further mutations.
func (s CartStatus) Retired() bool {
	return s == CartStatusOrdered || s == CartStatusCompleted
}

func (s CartStatus) String() string {
	return string(s)
}

type LineItem struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
	// RemoteItemID is empty until the remote cart confirms the line.
	RemoteItemID string    `json:"remote_item_id,omitempty"`
	AddedAt      time.Time `json:"added_at"`
}

func (l LineItem) Known() bool {
	return l.RemoteItemID != ""
}

func (l LineItem) Total() float64 {
	return l.Product.UnitPrice() * float64(l.Quantity)
}

type Cart struct {
	// LocalID is stable for the lifetime of the cart on this device. Carts
	// loaded from the backend use their remote id.
	LocalID     string     `json:"local_id"`
	ID          string     `json:"id,omitempty"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Items       []LineItem `json:"items"`
	IsActive    bool       `json:"is_active"`
	Status      CartStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Synced reports whether the remote cart exists.
func (c *Cart) Synced() bool {
	return c.ID != ""
}

func (c *Cart) Find(productID string) (int, bool) {
	for i := range c.Items {
		if c.Items[i].Product.ID == productID {
			return i, true
		}
	}
	return -1, false
}

func (c *Cart) Subtotal() float64 {
	var total float64
	for _, item := range c.Items {
		total += item.Total()
	}
	return total
}

func (c *Cart) ItemCount() int {
	var n int
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}

// Clone returns a deep copy that callers may keep without holding store locks.
func (c *Cart) Clone() Cart {
	out := *c
	out.Items = make([]LineItem, len(c.Items))
	copy(out.Items, c.Items)
	return out
}
