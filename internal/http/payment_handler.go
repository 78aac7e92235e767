package http

import (
	"net/http"

	"github.com/fjod/storefront-sync/internal/payment"
)

type PaymentHandler struct {
	payments *payment.Orchestrator
	relay    *payment.RelayOpener
}

func NewPaymentHandler(payments *payment.Orchestrator, relay *payment.RelayOpener) *PaymentHandler {
	return &PaymentHandler{payments: payments, relay: relay}
}

type WindowEventDTO struct {
	Event string `json:"event"`
}

type ConfirmCancellationDTO struct {
	Cancel bool `json:"cancel"`
}

func (h *PaymentHandler) current(w http.ResponseWriter, r *http.Request) *payment.Attempt {
	a := h.payments.Current()
	if a == nil {
		handleError(w, r, payment.ErrNoAttempt)
	}
	return a
}

// GET /api/v1/payment
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	if a := h.current(w, r); a != nil {
		respondJSON(w, http.StatusOK, a.View())
	}
}

// POST /api/v1/payment/window reports what happened to the payment window.
func (h *PaymentHandler) WindowEvent(w http.ResponseWriter, r *http.Request) {
	var req WindowEventDTO
	if !decode(w, r, &req) {
		return
	}
	if req.Event != "closed" {
		respondError(w, http.StatusBadRequest, "invalid_event", "event must be \"closed\"")
		return
	}
	window := h.relay.Current()
	if window == nil {
		handleError(w, r, payment.ErrNoAttempt)
		return
	}
	window.MarkClosed()
	w.WriteHeader(http.StatusAccepted)
}

// POST /api/v1/payment/cancel
func (h *PaymentHandler) ConfirmCancellation(w http.ResponseWriter, r *http.Request) {
	var req ConfirmCancellationDTO
	if !decode(w, r, &req) {
		return
	}
	a := h.current(w, r)
	if a == nil {
		return
	}
	if err := a.ConfirmCancellation(req.Cancel); err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, a.View())
}

// POST /api/v1/payment/retry starts a new attempt for the same order.
func (h *PaymentHandler) Retry(w http.ResponseWriter, r *http.Request) {
	a, err := h.payments.Retry(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, a.View())
}
