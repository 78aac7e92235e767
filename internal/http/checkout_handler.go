package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/storefront-sync/internal/checkout"
	"github.com/fjod/storefront-sync/internal/domain"
	"github.com/fjod/storefront-sync/internal/payment"
	"github.com/go-chi/chi/v5"
)

type CheckoutHandler struct {
	checkout  *checkout.Orchestrator
	locations *checkout.Locations
	payments  *payment.Orchestrator
	timeout   time.Duration
}

func NewCheckoutHandler(c *checkout.Orchestrator, locations *checkout.Locations, payments *payment.Orchestrator, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{checkout: c, locations: locations, payments: payments, timeout: timeout}
}

type ResolveMismatchRequestDTO struct {
	Accept bool `json:"accept"`
}

type SubmitResponseDTO struct {
	Checkout checkout.View `json:"checkout"`
	Payment  *payment.View `json:"payment,omitempty"`
}

// GET /api/v1/checkout
func (h *CheckoutHandler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.checkout.View())
}

// DELETE /api/v1/checkout
func (h *CheckoutHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.checkout.Reset()
	respondJSON(w, http.StatusOK, h.checkout.View())
}

// GET /api/v1/checkout/location
func (h *CheckoutHandler) GetLocation(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.locations.Current())
}

// PUT /api/v1/checkout/location
func (h *CheckoutHandler) SetLocation(w http.ResponseWriter, r *http.Request) {
	var loc domain.Location
	if !decode(w, r, &loc) {
		return
	}
	if loc.Empty() {
		respondError(w, http.StatusBadRequest, "invalid_location", "address_id or store_id is required")
		return
	}
	if loc.Mode == "" {
		loc.Mode = domain.DeliveryModeDelivery
		if loc.AddressID == "" {
			loc.Mode = domain.DeliveryModePickup
		}
	}
	h.locations.Set(loc)
	respondJSON(w, http.StatusOK, loc)
}

// respondView answers with the checkout view; failures that moved the
// attempt to a terminal state still carry the view.
func (h *CheckoutHandler) respondView(w http.ResponseWriter, r *http.Request, view checkout.View, err error) {
	if err != nil && view.State != domain.CheckoutFailed {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// POST /api/v1/checkout/preview
func (h *CheckoutHandler) Preview(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	view, err := h.checkout.Preview(ctx)
	h.respondView(w, r, view, err)
}

// POST /api/v1/checkout/mismatches/{product_id}
func (h *CheckoutHandler) ResolveMismatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req ResolveMismatchRequestDTO
	if !decode(w, r, &req) {
		return
	}
	view, err := h.checkout.ResolveMismatch(ctx, chi.URLParam(r, "product_id"), req.Accept)
	h.respondView(w, r, view, err)
}

// POST /api/v1/checkout/split
func (h *CheckoutHandler) ChooseSplit(w http.ResponseWriter, r *http.Request) {
	view, err := h.checkout.ChooseSplit(r.Context())
	h.respondView(w, r, view, err)
}

// POST /api/v1/checkout/edit
func (h *CheckoutHandler) ChooseEdit(w http.ResponseWriter, r *http.Request) {
	view, err := h.checkout.ChooseEdit(r.Context())
	h.respondView(w, r, view, err)
}

// PUT /api/v1/checkout/edit/stores/{store_id}
func (h *CheckoutHandler) MarkStore(w http.ResponseWriter, r *http.Request) {
	view, err := h.checkout.MarkStore(chi.URLParam(r, "store_id"))
	h.respondView(w, r, view, err)
}

// DELETE /api/v1/checkout/edit/stores/{store_id}
func (h *CheckoutHandler) UnmarkStore(w http.ResponseWriter, r *http.Request) {
	view, err := h.checkout.UnmarkStore(chi.URLParam(r, "store_id"))
	h.respondView(w, r, view, err)
}

// POST /api/v1/checkout/edit/cancel
func (h *CheckoutHandler) CancelEdit(w http.ResponseWriter, r *http.Request) {
	view, err := h.checkout.CancelEdit(r.Context())
	h.respondView(w, r, view, err)
}

// POST /api/v1/checkout/edit/save
func (h *CheckoutHandler) SaveEdits(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	view, err := h.checkout.SaveEdits(ctx)
	h.respondView(w, r, view, err)
}

// POST /api/v1/checkout/submit creates the order and opens the payment page.
func (h *CheckoutHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var opts domain.PaymentOptions
	if !decode(w, r, &opts) {
		return
	}
	session, err := h.checkout.Submit(ctx, opts)
	if err != nil {
		h.respondView(w, r, h.checkout.View(), err)
		return
	}

	resp := SubmitResponseDTO{Checkout: h.checkout.View()}
	attempt, err := h.payments.Start(ctx, *session)
	if attempt != nil {
		v := attempt.View()
		resp.Payment = &v
	}
	if err != nil && !errors.Is(err, domain.ErrPopupBlocked) {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}
