package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/storefront-sync/internal/cache"
	"github.com/fjod/storefront-sync/internal/domain"
	"github.com/fjod/storefront-sync/internal/gateway"
	"github.com/fjod/storefront-sync/internal/logging"
	"github.com/fjod/storefront-sync/internal/metrics"
	"github.com/fjod/storefront-sync/internal/notify"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/fjod/storefront-sync/internal/checkout")

// CartStore is the part of the local cart store checkout works against.
type CartStore interface {
	SessionID() string
	ActiveCart() (domain.Cart, bool)
	UpdateQuantity(ctx context.Context, productID string, quantity int) (domain.Cart, error)
	DeleteLine(ctx context.Context, productID string) (domain.Cart, error)
	Flush(ctx context.Context) error
	RetireCart(ctx context.Context, id string, status domain.CartStatus) bool
}

type Gateway interface {
	gateway.PreviewGateway
	gateway.OrderGateway
}

// View is a read-only copy of the current attempt.
type View struct {
	State        domain.CheckoutState   `json:"state"`
	CartID       string                 `json:"cart_id,omitempty"`
	Location     domain.Location        `json:"location"`
	SplitOrder   bool                   `json:"split_order"`
	Preview      *domain.OrderPreview   `json:"preview,omitempty"`
	Mismatches   []domain.Mismatch      `json:"mismatches,omitempty"`
	MarkedStores []string               `json:"marked_stores,omitempty"`
	Session      *domain.PaymentSession `json:"session,omitempty"`
	Action       domain.NextAction      `json:"action,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// Orchestrator drives one checkout attempt at a time from preview to order
// creation. Operations are serialized; reads never block on the network.
type Orchestrator struct {
	run sync.Mutex

	mu         sync.RWMutex
	state      domain.CheckoutState
	cartID     string
	location   domain.Location
	split      bool
	preview    *domain.OrderPreview
	mismatches []domain.Mismatch
	marked     map[string]bool
	session    *domain.PaymentSession
	err        error
	action     domain.NextAction

	carts     CartStore
	gw        Gateway
	locations *Locations
	sessions  cache.SessionStore
	notifier  notify.Notifier
	metrics   *metrics.Registry
	now       func() time.Time
}

type Options struct {
	Sessions cache.SessionStore
	Notifier notify.Notifier
	Metrics  *metrics.Registry
}

func NewOrchestrator(carts CartStore, gw Gateway, locations *Locations, opts Options) *Orchestrator {
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard{}
	}
	return &Orchestrator{
		state:     domain.CheckoutIdle,
		marked:    make(map[string]bool),
		carts:     carts,
		gw:        gw,
		locations: locations,
		sessions:  opts.Sessions,
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		now:       time.Now,
	}
}

func (o *Orchestrator) State() domain.CheckoutState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) View() View {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v := View{
		State:      o.state,
		CartID:     o.cartID,
		Location:   o.location,
		SplitOrder: o.split,
		Mismatches: append([]domain.Mismatch(nil), o.mismatches...),
	}
	if o.preview != nil {
		p := *o.preview
		v.Preview = &p
	}
	for id := range o.marked {
		v.MarkedStores = append(v.MarkedStores, id)
	}
	if o.session != nil {
		s := *o.session
		v.Session = &s
	}
	if o.err != nil {
		v.Action = o.action
		v.Error = o.err.Error()
	}
	return v
}

// transition must be called with mu held.
func (o *Orchestrator) transition(ctx context.Context, to domain.CheckoutState) error {
	if !domain.CanTransitionTo(o.state, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, o.state, to)
	}
	logging.WithFields(ctx, logrus.Fields{"from": o.state, "to": to, "cart": o.cartID}).Debug("checkout state changed")
	o.state = to
	switch to {
	case domain.CheckoutQuantityMismatch, domain.CheckoutMultiStoreDecision, domain.CheckoutReady,
		domain.CheckoutSubmitted, domain.CheckoutFailed:
		o.metrics.CheckoutOutcome(to.String())
	}
	return nil
}

func (o *Orchestrator) setState(ctx context.Context, to domain.CheckoutState) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transition(ctx, to)
}

// fail ends the attempt and tells the user what to do next.
func (o *Orchestrator) fail(ctx context.Context, err error, message string) error {
	return o.failWith(ctx, err, domain.NextActionFor(err), message)
}

func (o *Orchestrator) failWith(ctx context.Context, err error, action domain.NextAction, message string) error {
	o.mu.Lock()
	o.setFailed(ctx, err, action)
	o.mu.Unlock()

	n := notify.Error("checkout", message, err)
	n.Action = action
	o.notifier.Notify(ctx, n)
	return err
}

// setFailed must be called with mu held.
func (o *Orchestrator) setFailed(ctx context.Context, err error, action domain.NextAction) {
	o.err = err
	o.action = action
	if tErr := o.transition(ctx, domain.CheckoutFailed); tErr != nil {
		o.state = domain.CheckoutFailed
		o.metrics.CheckoutOutcome(domain.CheckoutFailed.String())
	}
}

// Reset abandons the current attempt.
func (o *Orchestrator) Reset() {
	o.run.Lock()
	defer o.run.Unlock()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reset()
}

// reset must be called with mu held.
func (o *Orchestrator) reset() {
	o.state = domain.CheckoutIdle
	o.cartID = ""
	o.split = false
	o.preview = nil
	o.mismatches = nil
	o.marked = make(map[string]bool)
	o.session = nil
	o.err = nil
	o.action = domain.ActionNone
}

// Preview starts a new attempt, or restarts the current one, for the active
// cart at the selected location with order splitting allowed.
func (o *Orchestrator) Preview(ctx context.Context) (View, error) {
	o.run.Lock()
	defer o.run.Unlock()

	o.mu.Lock()
	if o.state == domain.CheckoutSubmitted || o.state == domain.CheckoutIdle {
		o.reset()
	}
	o.split = true
	o.marked = make(map[string]bool)
	o.mismatches = nil
	o.err = nil
	o.action = domain.ActionNone
	o.mu.Unlock()

	err := o.runPreview(ctx)
	return o.View(), err
}

func (o *Orchestrator) runPreview(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "checkout.preview")
	defer span.End()

	if err := o.setState(ctx, domain.CheckoutPreviewing); err != nil {
		return err
	}

	// the preview reads the remote cart, so local changes must land first
	if err := o.carts.Flush(ctx); err != nil {
		return o.fail(ctx, fmt.Errorf("flush cart: %w", err), "Your cart is still saving. Please try again.")
	}
	cart, ok := o.carts.ActiveCart()
	if !ok || len(cart.Items) == 0 {
		return o.fail(ctx, fmt.Errorf("%w: cart is empty", domain.ErrValidationConflict), "Your cart is empty.")
	}
	if !cart.Synced() {
		return o.fail(ctx, fmt.Errorf("cart %s not saved: %w", cart.LocalID, domain.ErrGatewayUnavailable), "Your cart could not be saved. Please try again.")
	}
	loc := o.locations.Current()
	if loc.Empty() {
		return o.fail(ctx, fmt.Errorf("no address or store selected: %w", domain.ErrStaleReference), "Please choose a delivery address or store.")
	}

	o.mu.Lock()
	o.cartID = cart.ID
	o.location = loc
	split := o.split
	o.mu.Unlock()

	span.SetAttributes(attribute.String("cart.id", cart.ID), attribute.Bool("checkout.split_order", split))
	preview, err := o.gw.Preview(ctx, domain.PreviewRequest{
		CartIDs:    []string{cart.ID},
		Location:   loc,
		SplitOrder: split,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return o.previewFailed(ctx, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.preview = preview
	o.err = nil
	o.action = domain.ActionNone
	if err := o.transition(ctx, domain.CheckoutPreviewed); err != nil {
		return err
	}
	return o.evaluate(ctx, span, cart)
}

func (o *Orchestrator) previewFailed(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		return o.fail(ctx, err, "Your session expired. Please sign in again.")
	case errors.Is(err, domain.ErrStaleReference):
		o.locations.Clear()
		return o.fail(ctx, err, "Your delivery address is no longer available. Please choose it again.")
	}
	return o.fail(ctx, err, "We could not prepare your order. Please try again.")
}

// evaluate routes a fresh preview. Quantity mismatches are surfaced before
// the multi-store decision. Must be called with mu held.
func (o *Orchestrator) evaluate(ctx context.Context, span trace.Span, cart domain.Cart) error {
	o.mismatches = Mismatches(cart, o.preview)
	span.SetAttributes(
		attribute.Int("checkout.mismatches", len(o.mismatches)),
		attribute.Int("checkout.stores", len(o.preview.FulfillableStores)),
	)

	switch {
	case len(o.mismatches) > 0:
		return o.transition(ctx, domain.CheckoutQuantityMismatch)
	case len(o.preview.FulfillableStores) == 0:
		err := fmt.Errorf("%w: no store can fulfil this cart", domain.ErrValidationConflict)
		o.setFailed(ctx, err, domain.ActionResolveCart)
		o.notifier.Notify(ctx, notify.Error("checkout", "No store can deliver this cart right now.", err))
		return err
	case o.preview.MultiStore():
		return o.transition(ctx, domain.CheckoutMultiStoreDecision)
	}
	return o.transition(ctx, domain.CheckoutReady)
}

// Mismatches compares every local line with the quantity the backend can
// fulfil across all stores. Unavailable and missing lines report zero.
func Mismatches(cart domain.Cart, preview *domain.OrderPreview) []domain.Mismatch {
	var out []domain.Mismatch
	for _, item := range cart.Items {
		available, _ := preview.Line(item.Product.ID)
		if available == item.Quantity {
			continue
		}
		out = append(out, domain.Mismatch{
			ProductID: item.Product.ID,
			Name:      item.Product.Name,
			Requested: item.Quantity,
			Available: available,
		})
	}
	return out
}

// ResolveMismatch applies the user's choice for one line: accept the
// available quantity or remove the line. Once every mismatch is resolved the
// preview runs again.
func (o *Orchestrator) ResolveMismatch(ctx context.Context, productID string, accept bool) (View, error) {
	o.run.Lock()
	defer o.run.Unlock()

	o.mu.RLock()
	state := o.state
	var m *domain.Mismatch
	for i := range o.mismatches {
		if o.mismatches[i].ProductID == productID {
			mm := o.mismatches[i]
			m = &mm
		}
	}
	o.mu.RUnlock()

	if state != domain.CheckoutQuantityMismatch {
		return o.View(), fmt.Errorf("%w: no mismatch to resolve in %s", domain.ErrIllegalTransition, state)
	}
	if m == nil {
		return o.View(), fmt.Errorf("mismatch %s: %w", productID, domain.ErrProductNotFound)
	}

	var err error
	if accept && m.Available > 0 {
		_, err = o.carts.UpdateQuantity(ctx, productID, m.Available)
	} else {
		_, err = o.carts.DeleteLine(ctx, productID)
	}
	if err != nil && !errors.Is(err, domain.ErrProductNotFound) {
		return o.View(), fmt.Errorf("resolve %s: %w", productID, err)
	}

	o.mu.Lock()
	rest := o.mismatches[:0]
	for _, mm := range o.mismatches {
		if mm.ProductID != productID {
			rest = append(rest, mm)
		}
	}
	o.mismatches = rest
	remaining := len(rest)
	o.mu.Unlock()

	logging.WithFields(ctx, logrus.Fields{"product": productID, "accept": accept, "remaining": remaining}).Info("quantity mismatch resolved")
	if remaining > 0 {
		return o.View(), nil
	}
	err = o.runPreview(ctx)
	return o.View(), err
}

// ChooseSplit accepts fulfilment by several stores as separate orders.
func (o *Orchestrator) ChooseSplit(ctx context.Context) (View, error) {
	o.run.Lock()
	defer o.run.Unlock()

	o.mu.Lock()
	err := o.transition(ctx, domain.CheckoutReady)
	if err == nil {
		o.split = true
	}
	o.mu.Unlock()
	return o.View(), err
}

// Submit creates the order from the confirmed preview. It never retries: a
// second order-creation call could place a duplicate order.
func (o *Orchestrator) Submit(ctx context.Context, payment domain.PaymentOptions) (*domain.PaymentSession, error) {
	o.run.Lock()
	defer o.run.Unlock()

	ctx, span := tracer.Start(ctx, "checkout.submit")
	defer span.End()

	o.mu.Lock()
	if o.state == domain.CheckoutQuantityMismatch {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: resolve quantity changes first", domain.ErrValidationConflict)
	}
	if err := o.transition(ctx, domain.CheckoutSubmitting); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	req := buildOrder(o.cartID, o.location, o.split, o.preview, payment)
	cartID := o.cartID
	o.mu.Unlock()

	if err := o.carts.Flush(ctx); err != nil {
		return nil, o.fail(ctx, fmt.Errorf("flush cart: %w", err), "Your cart is still saving. Please try again.")
	}

	span.SetAttributes(attribute.String("cart.id", cartID), attribute.Float64("order.total", req.OverallTotal))
	res, err := o.gw.CreateOrder(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if !orderMayExist(err) {
			return nil, o.previewFailed(ctx, err)
		}
		// the order may exist; the cart must not be submitted again
		o.carts.RetireCart(ctx, cartID, domain.CartStatusOrdered)
		if errors.Is(err, domain.ErrFatalCheckout) {
			return nil, o.fail(ctx, err, "Your order was created but payment could not start. Please check your orders or contact support.")
		}
		return nil, o.failWith(ctx, err, domain.ActionCheckOrders, "We could not confirm your order. Please check your orders before trying again.")
	}

	// the backend created the order; the cart is spent whatever happens next
	o.carts.RetireCart(ctx, cartID, domain.CartStatusOrdered)

	if res.Payment.SessionID == "" || res.Payment.PaymentReference == "" {
		err := fmt.Errorf("%w: order response without payment session or reference", domain.ErrFatalCheckout)
		span.SetStatus(codes.Error, err.Error())
		return nil, o.fail(ctx, err, "Your order was created but payment could not start. Please check your orders or contact support.")
	}

	session := &domain.PaymentSession{
		SessionID:        res.Payment.SessionID,
		PaymentReference: res.Payment.PaymentReference,
		SuccessIndicator: res.Payment.SuccessIndicator,
		MerchantID:       res.Payment.MerchantID,
		CartID:           cartID,
		OrderIDs:         res.OrderIDs,
		CreatedAt:        o.now().UTC(),
	}
	if o.sessions != nil {
		if err := o.sessions.SavePaymentSession(ctx, o.carts.SessionID(), session); err != nil {
			logging.WithContext(ctx).WithError(err).Warn("payment session not persisted")
		}
	}

	o.mu.Lock()
	o.session = session
	err = o.transition(ctx, domain.CheckoutSubmitted)
	o.mu.Unlock()
	if err != nil {
		return nil, err
	}

	logging.WithFields(ctx, logrus.Fields{"cart": cartID, "payment_reference": session.PaymentReference, "orders": len(res.OrderIDs)}).Info("order created")
	o.notifier.Notify(ctx, notify.Notification{Level: notify.LevelInfo, Topic: "checkout", Message: "Order created. Complete the payment to confirm it."})
	return session, nil
}

// orderMayExist reports whether a failed order creation could still have
// placed the order. Only failures before sending and client errors rule it out.
func orderMayExist(err error) bool {
	if errors.Is(err, gateway.ErrNotSent) {
		return false
	}
	var se *gateway.StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	for _, rejected := range []error{
		domain.ErrAuthRequired,
		domain.ErrStaleReference,
		domain.ErrValidationConflict,
		domain.ErrCartRetired,
		domain.ErrCartNotFound,
		gateway.ErrRejected,
	} {
		if errors.Is(err, rejected) {
			return false
		}
	}
	return true
}

// buildOrder copies totals from the preview; nothing is recomputed locally.
func buildOrder(cartID string, loc domain.Location, split bool, preview *domain.OrderPreview, payment domain.PaymentOptions) domain.OrderRequest {
	req := domain.OrderRequest{
		CartIDs:    []string{cartID},
		Location:   loc,
		SplitOrder: split,
		Payment:    payment,
	}
	if preview == nil {
		return req
	}
	var sum float64
	for _, st := range preview.FulfillableStores {
		req.Stores = append(req.Stores, domain.StoreTotals{
			StoreID:      st.StoreID,
			Subtotal:     st.Subtotal,
			DeliveryCost: st.DeliveryCost,
			Total:        st.Total,
		})
		sum += st.Total
	}
	req.OverallTotal = preview.OverallTotal
	if req.OverallTotal == 0 {
		req.OverallTotal = sum
	}
	return req
}
