package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/storefront-sync/internal/domain"
)

var errUnexpectedShape = errors.New("unexpected response shape")

// flexID accepts ids sent either as strings or as numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// unwrap strips a {"data": ...} envelope when present.
func unwrap(raw []byte) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return raw
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		return raw
	}
	if data, ok := env["data"]; ok && len(env) <= 3 && len(bytes.TrimSpace(data)) > 0 && string(data) != "null" {
		return unwrap(data)
	}
	return raw
}

// field returns the first present key of an object, or the object itself.
func field(raw json.RawMessage, keys ...string) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}
	for _, k := range keys {
		if v, ok := obj[k]; ok && string(v) != "null" {
			return v
		}
	}
	return raw
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

type wireItem struct {
	ID        flexID          `json:"id"`
	ItemID    flexID          `json:"item_id"`
	ProductID flexID          `json:"product_id"`
	Product   *domain.Product `json:"product"`
	Quantity  int             `json:"quantity"`
}

func (w wireItem) toItem() RemoteItem {
	item := RemoteItem{ID: string(w.ID), ProductID: string(w.ProductID), Product: w.Product, Quantity: w.Quantity}
	if item.ID == "" {
		item.ID = string(w.ItemID)
	}
	if item.ProductID == "" && w.Product != nil {
		item.ProductID = w.Product.ID
	}
	return item
}

type wireCart struct {
	ID          flexID     `json:"id"`
	CartID      flexID     `json:"cart_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Items       []wireItem `json:"items"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (w wireCart) toDetail() CartDetail {
	d := CartDetail{
		ID:          string(w.ID),
		Name:        w.Name,
		Description: w.Description,
		Status:      normalizeCartStatus(w.Status),
		CreatedAt:   w.CreatedAt,
		Items:       make([]RemoteItem, 0, len(w.Items)),
	}
	if d.ID == "" {
		d.ID = string(w.CartID)
	}
	for _, it := range w.Items {
		d.Items = append(d.Items, it.toItem())
	}
	return d
}

func normalizeCartStatus(raw string) domain.CartStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(domain.CartStatusOrdered):
		return domain.CartStatusOrdered
	case string(domain.CartStatusCompleted):
		return domain.CartStatusCompleted
	}
	return domain.CartStatusActive
}

func decodeCreatedCart(raw []byte) (string, error) {
	body := field(unwrap(raw), "cart")
	var w wireCart
	if err := json.Unmarshal(body, &w); err != nil {
		return "", fmt.Errorf("decode created cart: %w", err)
	}
	id := w.toDetail().ID
	if id == "" {
		return "", fmt.Errorf("created cart without id: %w", errUnexpectedShape)
	}
	return id, nil
}

func decodeCartDetail(raw []byte) (*CartDetail, error) {
	body := field(unwrap(raw), "cart")
	var w wireCart
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("decode cart detail: %w", err)
	}
	d := w.toDetail()
	return &d, nil
}

// decodeAddedItem finds the remote item id in the add-item response, which
// may be the item, an {item: ...} wrapper or the whole updated cart.
func decodeAddedItem(raw []byte, productID string) string {
	body := unwrap(raw)
	if len(bytes.TrimSpace(body)) == 0 {
		return ""
	}
	var w wireCart
	if err := json.Unmarshal(field(body, "cart"), &w); err == nil && len(w.Items) > 0 {
		for _, it := range w.Items {
			item := it.toItem()
			if item.ProductID == productID {
				return item.ID
			}
		}
	}
	var it wireItem
	if err := json.Unmarshal(field(body, "item", "cart_item"), &it); err != nil {
		return ""
	}
	return it.toItem().ID
}

func decodeCartList(raw []byte) ([]CartDetail, error) {
	body := unwrap(raw)
	if !isArray(body) {
		body = field(body, "owned_carts", "carts")
	}
	if !isArray(body) {
		return nil, fmt.Errorf("decode cart list: %w", errUnexpectedShape)
	}
	var ws []wireCart
	if err := json.Unmarshal(body, &ws); err != nil {
		return nil, fmt.Errorf("decode cart list: %w", err)
	}
	out := make([]CartDetail, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.toDetail())
	}
	return out, nil
}

func decodeProduct(raw []byte) (*domain.Product, error) {
	body := unwrap(raw)
	if isArray(body) {
		var ps []domain.Product
		if err := json.Unmarshal(body, &ps); err != nil {
			return nil, fmt.Errorf("decode product: %w", err)
		}
		if len(ps) == 0 {
			return nil, domain.ErrProductNotFound
		}
		return &ps[0], nil
	}
	var p domain.Product
	if err := json.Unmarshal(field(body, "product"), &p); err != nil {
		return nil, fmt.Errorf("decode product: %w", err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("product without id: %w", errUnexpectedShape)
	}
	return &p, nil
}

func decodePreview(raw []byte) (*domain.OrderPreview, error) {
	body := field(unwrap(raw), "preview")
	var p domain.OrderPreview
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode preview: %w", err)
	}
	return &p, nil
}

type wirePayment struct {
	SessionID        flexID `json:"session_id"`
	PaymentReference flexID `json:"payment_reference"`
	SuccessIndicator flexID `json:"success_indicator"`
	MerchantID       flexID `json:"merchant_id"`
}

type wireOrder struct {
	OrderID  flexID                `json:"order_id"`
	OrderIDs []flexID              `json:"order_ids"`
	Orders   []struct{ ID flexID } `json:"orders"`
	Payment  *wirePayment          `json:"payment_info"`
}

// decodeOrder does not validate payment fields; the checkout flow decides
// whether a missing session is fatal.
func decodeOrder(raw []byte) (*domain.OrderResult, error) {
	body := field(unwrap(raw), "order")
	var w wireOrder
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	if w.Payment == nil {
		// some responses put payment_info next to the order object
		var outer wireOrder
		if err := json.Unmarshal(unwrap(raw), &outer); err == nil {
			w.Payment = outer.Payment
		}
	}
	res := &domain.OrderResult{}
	if p := w.Payment; p != nil {
		res.Payment = domain.PaymentInfo{
			SessionID:        string(p.SessionID),
			PaymentReference: string(p.PaymentReference),
			SuccessIndicator: string(p.SuccessIndicator),
			MerchantID:       string(p.MerchantID),
		}
	}
	if w.OrderID != "" {
		res.OrderIDs = append(res.OrderIDs, string(w.OrderID))
	}
	for _, id := range w.OrderIDs {
		res.OrderIDs = append(res.OrderIDs, string(id))
	}
	for _, o := range w.Orders {
		res.OrderIDs = append(res.OrderIDs, string(o.ID))
	}
	return res, nil
}

func decodePaymentStatus(raw []byte) (string, error) {
	body := unwrap(raw)
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		return s, nil
	}
	var w struct {
		Status        string `json:"status"`
		PaymentStatus string `json:"payment_status"`
	}
	if err := json.Unmarshal(field(body, "payment"), &w); err != nil {
		return "", fmt.Errorf("decode payment status: %w", err)
	}
	if w.Status != "" {
		return w.Status, nil
	}
	return w.PaymentStatus, nil
}
