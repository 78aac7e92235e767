package domain

// Pricing is a point-in-time price snapshot from the catalog service.
type Pricing struct {
	BasePrice          *float64 `json:"base_price,omitempty"`
	FinalPrice         *float64 `json:"final_price,omitempty"`
	DiscountApplied    bool     `json:"discount_applied"`
	DiscountPercentage float64  `json:"discount_percentage,omitempty"`
	DiscountSources    []string `json:"discount_sources,omitempty"`
}

// Inventory is a point-in-time availability snapshot.
type Inventory struct {
	CanOrder    bool `json:"can_order"`
	InStock     bool `json:"in_stock"`
	MaxQuantity int  `json:"max_quantity"`
}

type Product struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	ImageURL  string     `json:"image_url,omitempty"`
	Unit      string     `json:"unit,omitempty"`
	Pricing   *Pricing   `json:"pricing,omitempty"`
	Inventory *Inventory `json:"inventory,omitempty"`
	// Price is the legacy flat price some catalog responses still carry.
	Price *float64 `json:"price,omitempty"`
}

// UnitPrice resolves final price, then base price, then the legacy price.
func (p Product) UnitPrice() float64 {
	if p.Pricing != nil {
		if p.Pricing.FinalPrice != nil {
			return *p.Pricing.FinalPrice
		}
		if p.Pricing.BasePrice != nil {
			return *p.Pricing.BasePrice
		}
	}
	if p.Price != nil {
		return *p.Price
	}
	return 0
}

// Complete reports whether the product carries enough detail to be shown in a cart.
func (p Product) Complete() bool {
	return p.ID != "" && p.Name != "" && (p.Pricing != nil || p.Price != nil)
}

func Float(v float64) *float64 {
	return &v
}
