package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/storefront-sync/internal/domain"
	"github.com/fjod/storefront-sync/internal/gateway"
	"github.com/fjod/storefront-sync/internal/service"
	"github.com/go-chi/chi/v5"
)

const maxQuantity = 99

type CartHandler struct {
	store    *service.Store
	products gateway.ProductGateway
	timeout  time.Duration
}

func NewCartHandler(store *service.Store, products gateway.ProductGateway, timeout time.Duration) *CartHandler {
	return &CartHandler{store: store, products: products, timeout: timeout}
}

type AddItemRequestDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type CartResponseDTO struct {
	Cart      *domain.Cart      `json:"cart"`
	Items     []domain.LineItem `json:"items"`
	Subtotal  float64           `json:"subtotal"`
	ItemCount int               `json:"item_count"`
}

func (h *CartHandler) view() CartResponseDTO {
	resp := CartResponseDTO{
		Items:     h.store.Items(),
		Subtotal:  h.store.Subtotal(),
		ItemCount: h.store.ItemCount(),
	}
	if cart, ok := h.store.ActiveCart(); ok {
		resp.Cart = &cart
	}
	if resp.Items == nil {
		resp.Items = []domain.LineItem{}
	}
	return resp
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.view())
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if !decode(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}
	if req.Quantity <= 0 || req.Quantity > maxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	product, err := h.products.GetProductByID(ctx, req.ProductID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if _, err := h.store.AddItem(ctx, *product, req.Quantity); err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, h.view())
}

// PUT /api/v1/cart/items/{product_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")
	var req UpdateQuantityRequestDTO
	if !decode(w, r, &req) {
		return
	}
	if req.Quantity < 0 || req.Quantity > maxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 0 and 99")
		return
	}
	if _, err := h.store.UpdateQuantity(r.Context(), productID, req.Quantity); err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.view())
}

// POST /api/v1/cart/items/{product_id}/decrement
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.RemoveItem(r.Context(), chi.URLParam(r, "product_id")); err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.view())
}

// DELETE /api/v1/cart/items/{product_id}
func (h *CartHandler) DeleteLine(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.DeleteLine(r.Context(), chi.URLParam(r, "product_id")); err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.view())
}

// DELETE /api/v1/cart/items
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.Clear(r.Context()); err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.view())
}
