package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups the engine's collectors. A nil *Registry is valid and records nothing.
type Registry struct {
	reg *prometheus.Registry

	SyncWrites     *prometheus.CounterVec
	SyncFailures   *prometheus.CounterVec
	SyncCoalesced  prometheus.Counter
	CartsCreated   prometheus.Counter
	SnapshotWrites *prometheus.CounterVec
	HydrateDropped prometheus.Counter

	CheckoutOutcomes *prometheus.CounterVec
	PaymentPolls     *prometheus.CounterVec
	PaymentOutcomes  *prometheus.CounterVec
	PollDelaySec     prometheus.Histogram
	CartsRetired     prometheus.Counter
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	syncWrites := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_cart_sync_writes_total",
		Help: "Remote cart writes issued by the write-behind sync.",
	}, []string{"op"})
	syncFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_cart_sync_failures_total",
		Help: "Remote cart writes that failed.",
	}, []string{"op"})
	coalesced := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "storefront_cart_sync_coalesced_total",
		Help: "Scheduled writes superseded before they fired.",
	})
	created := prometheus.NewCounter(prometheus.CounterOpts{Name: "storefront_carts_created_total"})
	snapshots := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "storefront_snapshot_writes_total"}, []string{"result"})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "storefront_cart_hydrate_dropped_total",
		Help: "Cart lines dropped during switch because product detail could not be fetched.",
	})
	checkout := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "storefront_checkout_outcomes_total"}, []string{"state"})
	polls := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "storefront_payment_polls_total"}, []string{"result"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "storefront_payment_outcomes_total"}, []string{"state"})
	pollDelay := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "storefront_payment_poll_delay_seconds",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32},
	})
	retired := prometheus.NewCounter(prometheus.CounterOpts{Name: "storefront_carts_retired_total"})

	r.MustRegister(syncWrites, syncFailures, coalesced, created, snapshots, dropped, checkout, polls, payments, pollDelay, retired)
	return &Registry{
		reg:              r,
		SyncWrites:       syncWrites,
		SyncFailures:     syncFailures,
		SyncCoalesced:    coalesced,
		CartsCreated:     created,
		SnapshotWrites:   snapshots,
		HydrateDropped:   dropped,
		CheckoutOutcomes: checkout,
		PaymentPolls:     polls,
		PaymentOutcomes:  payments,
		PollDelaySec:     pollDelay,
		CartsRetired:     retired,
	}
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) SyncWrite(op string) {
	if r != nil {
		r.SyncWrites.WithLabelValues(op).Inc()
	}
}

func (r *Registry) SyncFailure(op string) {
	if r != nil {
		r.SyncFailures.WithLabelValues(op).Inc()
	}
}

func (r *Registry) Coalesced() {
	if r != nil {
		r.SyncCoalesced.Inc()
	}
}

func (r *Registry) CartCreated() {
	if r != nil {
		r.CartsCreated.Inc()
	}
}

func (r *Registry) SnapshotWrite(ok bool) {
	if r == nil {
		return
	}
	if ok {
		r.SnapshotWrites.WithLabelValues("ok").Inc()
		return
	}
	r.SnapshotWrites.WithLabelValues("error").Inc()
}

func (r *Registry) LineDropped() {
	if r != nil {
		r.HydrateDropped.Inc()
	}
}

func (r *Registry) CheckoutOutcome(state string) {
	if r != nil {
		r.CheckoutOutcomes.WithLabelValues(state).Inc()
	}
}

func (r *Registry) PaymentPoll(result string, delaySec float64) {
	if r != nil {
		r.PaymentPolls.WithLabelValues(result).Inc()
		r.PollDelaySec.Observe(delaySec)
	}
}

func (r *Registry) PaymentOutcome(state string) {
	if r != nil {
		r.PaymentOutcomes.WithLabelValues(state).Inc()
	}
}

func (r *Registry) CartRetired() {
	if r != nil {
		r.CartsRetired.Inc()
	}
}
