package domain

// DeliveryMode is how the order reaches the customer.
type DeliveryMode string

const (
	DeliveryModeDelivery DeliveryMode = "delivery"
	DeliveryModePickup   DeliveryMode = "pickup"
)

// Location identifies where an order is fulfilled: an address for delivery or
// a store for pickup.
type Location struct {
	AddressID            string       `json:"address_id,omitempty"`
	StoreID              string       `json:"store_id,omitempty"`
	Mode                 DeliveryMode `json:"mode"`
	DeliveryServiceLevel string       `json:"delivery_service_level,omitempty"`
}

func (l Location) Empty() bool {
	return l.AddressID == "" && l.StoreID == ""
}

type PreviewRequest struct {
	CartIDs    []string `json:"cart_ids"`
	Location   Location `json:"location"`
	SplitOrder bool     `json:"split_order"`
}

// PreviewLine carries the backend's authoritative quantity for one product.
type PreviewLine struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name,omitempty"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Total     float64 `json:"total"`
}

type StorePreview struct {
	StoreID      string        `json:"store_id"`
	StoreName    string        `json:"store_name,omitempty"`
	Items        []PreviewLine `json:"items"`
	Subtotal     float64       `json:"subtotal"`
	DeliveryCost float64       `json:"delivery_cost"`
	Total        float64       `json:"total"`
}

type UnavailableItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type OrderPreview struct {
	FulfillableStores []StorePreview    `json:"fulfillable_stores"`
	UnavailableItems  []UnavailableItem `json:"unavailable_items"`
	OverallTotal      float64           `json:"overall_total"`
}

func (p *OrderPreview) MultiStore() bool {
	return len(p.FulfillableStores) > 1
}

// Line returns the backend quantity for a product summed across stores.
func (p *OrderPreview) Line(productID string) (int, bool) {
	var qty int
	var found bool
	for _, store := range p.FulfillableStores {
		for _, line := range store.Items {
			if line.ProductID == productID {
				qty += line.Quantity
				found = true
			}
		}
	}
	return qty, found
}

// Mismatch is a line whose local quantity differs from what the backend can fulfil.
type Mismatch struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}
