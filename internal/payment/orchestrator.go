package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fjod/storefront-sync/internal/cache"
	"github.com/fjod/storefront-sync/internal/config"
	"github.com/fjod/storefront-sync/internal/domain"
	"github.com/fjod/storefront-sync/internal/gateway"
	"github.com/fjod/storefront-sync/internal/metrics"
	"github.com/fjod/storefront-sync/internal/notify"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/fjod/storefront-sync/internal/payment")

var (
	ErrAttemptInProgress = errors.New("payment attempt already in progress")
	ErrNoAttempt         = errors.New("no payment attempt")
)

type Options struct {
	Sessions cache.SessionStore
	// SessionKey is the local session the payment session is stored under.
	SessionKey string
	Notifier   notify.Notifier
	Metrics    *metrics.Registry
	OnRedirect func(url string)
}

// Orchestrator runs payment attempts one at a time.
type Orchestrator struct {
	mu      sync.Mutex
	current *Attempt

	base   context.Context
	cancel context.CancelFunc

	gw         gateway.PaymentStatusGateway
	opener     WindowOpener
	cfg        config.PaymentConfig
	sessions   cache.SessionStore
	sessionKey string
	notifier   notify.Notifier
	metrics    *metrics.Registry
	onRedirect func(string)
}

func NewOrchestrator(gw gateway.PaymentStatusGateway, opener WindowOpener, cfg config.PaymentConfig, opts Options) *Orchestrator {
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 20
	}
	base, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		base:       base,
		cancel:     cancel,
		gw:         gw,
		opener:     opener,
		cfg:        cfg,
		sessions:   opts.Sessions,
		sessionKey: opts.SessionKey,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		onRedirect: opts.OnRedirect,
	}
}

// Start opens the payment page for session and begins watching it.
func (o *Orchestrator) Start(ctx context.Context, session domain.PaymentSession) (*Attempt, error) {
	if session.SessionID == "" || session.PaymentReference == "" {
		return nil, fmt.Errorf("%w: payment session without id or reference", domain.ErrFatalCheckout)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if cur := o.current; cur != nil && !cur.State().IsTerminal() {
		return cur, ErrAttemptInProgress
	}

	a := newAttempt(o, session)
	o.current = a
	if err := a.open(ctx); err != nil {
		return a, err
	}
	// the attempt outlives the request that started it but keeps its trace
	go a.run(trace.ContextWithSpan(o.base, trace.SpanFromContext(ctx)))
	return a, nil
}

// Retry starts a new attempt for the session of the last one.
func (o *Orchestrator) Retry(ctx context.Context) (*Attempt, error) {
	cur := o.Current()
	if cur == nil {
		return o.Resume(ctx)
	}
	if cur.State() == domain.PaymentSuccess {
		return cur, fmt.Errorf("%w: payment already succeeded", domain.ErrIllegalTransition)
	}
	return o.Start(ctx, cur.Session())
}

// Resume starts an attempt for the payment session persisted for this
// local session, e.g. after a restart.
func (o *Orchestrator) Resume(ctx context.Context) (*Attempt, error) {
	if o.sessions == nil {
		return nil, ErrNoAttempt
	}
	session, err := o.sessions.LoadPaymentSession(ctx, o.sessionKey)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, ErrNoAttempt
	}
	if err != nil {
		return nil, fmt.Errorf("load payment session: %w", err)
	}
	return o.Start(ctx, *session)
}

func (o *Orchestrator) Current() *Attempt {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Close stops the running attempt and waits for it to exit.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.cancel()
	cur := o.Current()
	if cur == nil {
		return nil
	}
	_, err := cur.Wait(ctx)
	return err
}
