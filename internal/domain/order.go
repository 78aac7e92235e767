package domain

import "time"

type PaymentOptions struct {
	Method        string  `json:"method"`
	SaveCard      bool    `json:"save_card,omitempty"`
	TipAmount     float64 `json:"tip_amount,omitempty"`
	DeliveryNotes string  `json:"delivery_notes,omitempty"`
}

// StoreTotals are the confirmed preview totals for one store, passed through
// to order creation unchanged.
type StoreTotals struct {
	StoreID      string  `json:"store_id"`
	Subtotal     float64 `json:"subtotal"`
	DeliveryCost float64 `json:"delivery_cost"`
	Total        float64 `json:"total"`
}

type OrderRequest struct {
	CartIDs      []string       `json:"cart_ids"`
	Location     Location       `json:"location"`
	SplitOrder   bool           `json:"split_order"`
	Stores       []StoreTotals  `json:"stores"`
	OverallTotal float64        `json:"overall_total"`
	Payment      PaymentOptions `json:"payment"`
}

type PaymentInfo struct {
	SessionID        string `json:"session_id"`
	PaymentReference string `json:"payment_reference"`
	SuccessIndicator string `json:"success_indicator,omitempty"`
	MerchantID       string `json:"merchant_id,omitempty"`
}

type OrderResult struct {
	OrderIDs []string    `json:"order_ids,omitempty"`
	Payment  PaymentInfo `json:"payment_info"`
}

// PaymentSession correlates a returning tab or callback with one checkout attempt.
type PaymentSession struct {
	SessionID        string    `json:"session_id"`
	PaymentReference string    `json:"payment_reference"`
	SuccessIndicator string    `json:"success_indicator,omitempty"`
	MerchantID       string    `json:"merchant_id,omitempty"`
	CartID           string    `json:"cart_id"`
	OrderIDs         []string  `json:"order_ids,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
