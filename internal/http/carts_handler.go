package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/storefront-sync/internal/service"
	"github.com/go-chi/chi/v5"
)

type CartsHandler struct {
	store   *service.Store
	timeout time.Duration
}

func NewCartsHandler(store *service.Store, timeout time.Duration) *CartsHandler {
	return &CartsHandler{store: store, timeout: timeout}
}

type CreateCartRequestDTO struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// GET /api/v1/carts
func (h *CartsHandler) ListCarts(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.store.Carts())
}

// POST /api/v1/carts/refresh
func (h *CartsHandler) RefreshCarts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	carts, err := h.store.LoadUserCarts(ctx)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, carts)
}

// POST /api/v1/carts
func (h *CartsHandler) CreateCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CreateCartRequestDTO
	if !decode(w, r, &req) {
		return
	}
	cart, err := h.store.CreateCart(ctx, req.Name, req.Description)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, cart)
}

// POST /api/v1/carts/{id}/activate
func (h *CartsHandler) SwitchCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.store.SwitchCart(ctx, chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

// DELETE /api/v1/carts/{id}
func (h *CartsHandler) DeleteCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.store.DeleteCart(ctx, chi.URLParam(r, "id")); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
