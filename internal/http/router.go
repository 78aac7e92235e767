package http

import (
	"net/http"
	"time"

	"github.com/fjod/storefront-sync/internal/checkout"
	"github.com/fjod/storefront-sync/internal/gateway"
	"github.com/fjod/storefront-sync/internal/metrics"
	"github.com/fjod/storefront-sync/internal/notify"
	"github.com/fjod/storefront-sync/internal/payment"
	"github.com/fjod/storefront-sync/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Deps struct {
	Store     *service.Store
	Products  gateway.ProductGateway
	Checkout  *checkout.Orchestrator
	Locations *checkout.Locations
	Payments  *payment.Orchestrator
	Relay     *payment.RelayOpener
	Feed      *notify.Feed
	Metrics   *metrics.Registry
	Timeout   time.Duration
}

func NewRouter(d Deps) http.Handler {
	if d.Timeout <= 0 {
		d.Timeout = 30 * time.Second
	}
	cart := NewCartHandler(d.Store, d.Products, d.Timeout)
	carts := NewCartsHandler(d.Store, d.Timeout)
	co := NewCheckoutHandler(d.Checkout, d.Locations, d.Payments, d.Timeout)
	pay := NewPaymentHandler(d.Payments, d.Relay)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDHeader)
	r.Use(RequestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cart.GetCart)
			r.Post("/items", cart.AddItem)
			r.Delete("/items", cart.ClearCart)
			r.Put("/items/{product_id}", cart.UpdateQuantity)
			r.Delete("/items/{product_id}", cart.DeleteLine)
			r.Post("/items/{product_id}/decrement", cart.RemoveItem)
		})
		r.Route("/carts", func(r chi.Router) {
			r.Get("/", carts.ListCarts)
			r.Post("/", carts.CreateCart)
			r.Post("/refresh", carts.RefreshCarts)
			r.Post("/{id}/activate", carts.SwitchCart)
			r.Delete("/{id}", carts.DeleteCart)
		})
		r.Route("/checkout", func(r chi.Router) {
			r.Get("/", co.GetCheckout)
			r.Delete("/", co.Reset)
			r.Get("/location", co.GetLocation)
			r.Put("/location", co.SetLocation)
			r.Post("/preview", co.Preview)
			r.Post("/mismatches/{product_id}", co.ResolveMismatch)
			r.Post("/split", co.ChooseSplit)
			r.Post("/edit", co.ChooseEdit)
			r.Put("/edit/stores/{store_id}", co.MarkStore)
			r.Delete("/edit/stores/{store_id}", co.UnmarkStore)
			r.Post("/edit/cancel", co.CancelEdit)
			r.Post("/edit/save", co.SaveEdits)
			r.Post("/submit", co.Submit)
		})
		r.Route("/payment", func(r chi.Router) {
			r.Get("/", pay.GetPayment)
			r.Post("/window", pay.WindowEvent)
			r.Post("/cancel", pay.ConfirmCancellation)
			r.Post("/retry", pay.Retry)
		})
		r.Get("/notifications", func(w http.ResponseWriter, r *http.Request) {
			respondJSON(w, http.StatusOK, d.Feed.Recent())
		})
	})

	return otelhttp.NewHandler(r, "storefront-sync")
}
