package payment

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/fjod/storefront-sync/internal/domain"
	"github.com/fjod/storefront-sync/internal/logging"
	"github.com/fjod/storefront-sync/internal/notify"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// View is a read-only copy of one attempt.
type View struct {
	State            domain.PaymentState `json:"state"`
	PaymentReference string              `json:"payment_reference"`
	SessionID        string              `json:"session_id"`
	CheckoutURL      string              `json:"checkout_url,omitempty"`
	Polls            int                 `json:"polls"`
	Delays           []time.Duration     `json:"delays,omitempty"`
	WindowClosed     bool                `json:"window_closed"`
	RedirectURL      string              `json:"redirect_url,omitempty"`
	Action           domain.NextAction   `json:"action,omitempty"`
	Error            string              `json:"error,omitempty"`
	StartedAt        time.Time           `json:"started_at"`
	FinishedAt       time.Time           `json:"finished_at,omitempty"`
}

// Attempt is one run of the payment page for a payment session. A stopped
// attempt never resumes; retrying starts a new one.
type Attempt struct {
	mu           sync.RWMutex
	state        domain.PaymentState
	session      domain.PaymentSession
	checkoutURL  string
	polls        int
	delays       []time.Duration
	windowClosed bool
	redirectURL  string
	err          error
	action       domain.NextAction
	startedAt    time.Time
	finishedAt   time.Time

	o       *Orchestrator
	window  Window
	control chan bool
	done    chan struct{}
}

type pollResult struct {
	status string
	err    error
}

func newAttempt(o *Orchestrator, session domain.PaymentSession) *Attempt {
	return &Attempt{
		state:     domain.PaymentOpening,
		session:   session,
		startedAt: time.Now().UTC(),
		o:         o,
		control:   make(chan bool, 1),
		done:      make(chan struct{}),
	}
}

func (a *Attempt) State() domain.PaymentState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Attempt) Session() domain.PaymentSession {
	return a.session
}

func (a *Attempt) View() View {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v := View{
		State:            a.state,
		PaymentReference: a.session.PaymentReference,
		SessionID:        a.session.SessionID,
		CheckoutURL:      a.checkoutURL,
		Polls:            a.polls,
		Delays:           append([]time.Duration(nil), a.delays...),
		WindowClosed:     a.windowClosed,
		RedirectURL:      a.redirectURL,
		Action:           a.action,
		StartedAt:        a.startedAt,
		FinishedAt:       a.finishedAt,
	}
	if a.err != nil {
		v.Error = a.err.Error()
	}
	return v
}

// Done is closed once the attempt stops polling for good.
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

func (a *Attempt) Wait(ctx context.Context) (domain.PaymentState, error) {
	select {
	case <-a.done:
		return a.State(), nil
	case <-ctx.Done():
		return a.State(), ctx.Err()
	}
}

// ConfirmCancellation answers the prompt raised after the window closed.
// Declining leaves polling stopped.
func (a *Attempt) ConfirmCancellation(cancel bool) error {
	a.mu.RLock()
	state := a.state
	a.mu.RUnlock()
	if state != domain.PaymentAwaitingCancellation {
		return fmt.Errorf("%w: nothing to confirm in %s", domain.ErrIllegalTransition, state)
	}
	select {
	case a.control <- cancel:
		return nil
	default:
		return fmt.Errorf("%w: already answered", domain.ErrIllegalTransition)
	}
}

func (a *Attempt) open(ctx context.Context) error {
	target, err := withQuery(a.o.cfg.CheckoutURL, map[string]string{
		"session_id":  a.session.SessionID,
		"merchant_id": a.session.MerchantID,
	})
	if err != nil {
		return a.failOpen(ctx, err)
	}
	a.mu.Lock()
	a.checkoutURL = target
	a.mu.Unlock()

	w, err := a.o.opener.Open(ctx, target)
	if err != nil {
		return a.failOpen(ctx, err)
	}
	a.window = w

	a.mu.Lock()
	a.state = domain.PaymentInProgress
	a.mu.Unlock()
	logging.WithFields(ctx, logrus.Fields{"payment_reference": a.session.PaymentReference}).Info("payment window opened")
	return nil
}

func (a *Attempt) failOpen(ctx context.Context, cause error) error {
	err := fmt.Errorf("%w: %v", domain.ErrPopupBlocked, cause)
	a.finish(ctx, domain.PaymentFailed, err, domain.ActionTryAgain,
		notify.LevelError, "The payment window could not be opened. Allow pop-ups and try again.")
	close(a.done)
	return err
}

// run polls the payment status until a terminal outcome, the attempt cap,
// the safety timeout or the window closing.
func (a *Attempt) run(ctx context.Context) {
	defer close(a.done)
	ctx, span := tracer.Start(ctx, "payment.attempt")
	defer span.End()
	span.SetAttributes(attribute.String("payment.reference", a.session.PaymentReference))

	cfg := a.o.cfg
	ref := a.session.PaymentReference
	log := logging.WithFields(ctx, logrus.Fields{"payment_reference": ref})
	schedule := NewSchedule(cfg.MinDelay, cfg.MaxDelay)

	watch := time.NewTicker(cfg.WatchInterval)
	defer watch.Stop()
	safety := time.NewTimer(cfg.SafetyTimeout)
	defer safety.Stop()
	poll := time.NewTimer(cfg.InitialDelay)
	defer poll.Stop()

	pollC, safetyC := poll.C, safety.C
	results := make(chan pollResult, 1)
	delay := cfg.InitialDelay
	stopped := false
	a.addDelay(delay)

	for {
		select {
		case <-ctx.Done():
			log.Info("payment attempt abandoned")
			return

		case <-watch.C:
			if stopped || !a.window.Closed() {
				continue
			}
			// stop first, ask afterwards
			poll.Stop()
			safety.Stop()
			pollC, safetyC = nil, nil
			stopped = true
			a.awaitCancellation(ctx)

		case <-pollC:
			pollC = nil
			a.markPolling()
			go func() {
				status, err := a.o.gw.CheckStatus(ctx, ref)
				results <- pollResult{status: status, err: err}
			}()

		case r := <-results:
			if stopped {
				log.WithField("status", r.status).Info("discarding payment status received after stop")
				continue
			}
			n := a.countPoll()
			if r.err != nil {
				a.o.metrics.PaymentPoll("error", delay.Seconds())
				log.WithError(r.err).WithField("attempt", n).Warn("payment status check failed")
				if n >= cfg.MaxAttempts {
					a.timeOut(ctx, "attempt cap reached")
					return
				}
				delay = schedule.Repeat()
			} else {
				status := domain.NormalizeStatus(r.status)
				a.o.metrics.PaymentPoll(string(status), delay.Seconds())
				switch status {
				case domain.RemoteStatusSuccess:
					a.succeed(ctx)
					return
				case domain.RemoteStatusDeclined, domain.RemoteStatusFailed:
					span.SetStatus(codes.Error, string(status))
					a.finish(ctx, domain.PaymentDeclined, fmt.Errorf("payment %s", status), domain.ActionTryAgain,
						notify.LevelError, "Your payment was declined. You can try again with another method.")
					return
				}
				if n >= cfg.MaxAttempts {
					a.timeOut(ctx, "attempt cap reached")
					return
				}
				delay = schedule.Next()
			}
			a.addDelay(delay)
			poll.Reset(delay)
			pollC = poll.C

		case <-safetyC:
			a.timeOut(ctx, "safety timeout")
			return

		case cancel := <-a.control:
			if cancel {
				a.finish(ctx, domain.PaymentCancelled, domain.ErrUserCancelled, domain.ActionTryAgain,
					notify.LevelInfo, "Payment cancelled. Your order is waiting; you can pay again.")
			} else {
				a.finish(ctx, domain.PaymentStalled, nil, domain.ActionTryAgain,
					notify.LevelInfo, "Payment paused. Start the payment again when you are ready.")
			}
			return
		}
	}
}

func (a *Attempt) addDelay(d time.Duration) {
	a.mu.Lock()
	a.delays = append(a.delays, d)
	a.mu.Unlock()
}

func (a *Attempt) markPolling() {
	a.mu.Lock()
	if a.state == domain.PaymentInProgress {
		a.state = domain.PaymentPolling
	}
	a.mu.Unlock()
}

func (a *Attempt) countPoll() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.polls++
	return a.polls
}

func (a *Attempt) awaitCancellation(ctx context.Context) {
	a.mu.Lock()
	a.state = domain.PaymentAwaitingCancellation
	a.windowClosed = true
	a.mu.Unlock()

	a.o.notifier.Notify(ctx, notify.Notification{
		Level:   notify.LevelWarning,
		Topic:   "payment",
		Message: "The payment window was closed. Do you want to cancel this payment?",
	})
}

func (a *Attempt) timeOut(ctx context.Context, reason string) {
	a.finish(ctx, domain.PaymentTimedOut, fmt.Errorf("payment status unknown: %s", reason), domain.ActionCheckOrders,
		notify.LevelWarning, "We could not confirm your payment yet. Please check your orders before paying again.")
}

func (a *Attempt) succeed(ctx context.Context) {
	if !a.window.Closed() {
		if err := a.window.Close(); err != nil {
			logging.WithContext(ctx).WithError(err).Warn("closing payment window")
		}
	}
	a.finish(ctx, domain.PaymentSuccess, nil, domain.ActionNone, notify.LevelSuccess, "Payment received. Thank you for your order!")

	target, err := withQuery(a.o.cfg.SuccessURL, map[string]string{
		"payment_reference": a.session.PaymentReference,
		"success":           "true",
	})
	if err != nil {
		logging.WithContext(ctx).WithError(err).Error("building success redirect")
		return
	}
	time.AfterFunc(a.o.cfg.RedirectDelay, func() {
		a.mu.Lock()
		a.redirectURL = target
		a.mu.Unlock()
		if a.o.onRedirect != nil {
			a.o.onRedirect(target)
		}
	})
}

func (a *Attempt) finish(ctx context.Context, state domain.PaymentState, err error, action domain.NextAction, level notify.Level, message string) {
	a.mu.Lock()
	a.state = state
	a.err = err
	a.action = action
	a.finishedAt = time.Now().UTC()
	polls := a.polls
	a.mu.Unlock()

	a.o.metrics.PaymentOutcome(state.String())
	logging.WithFields(ctx, logrus.Fields{
		"payment_reference": a.session.PaymentReference,
		"state":             state,
		"polls":             polls,
	}).Info("payment attempt finished")

	switch state {
	case domain.PaymentSuccess, domain.PaymentDeclined, domain.PaymentCancelled:
		if a.o.sessions != nil {
			if dErr := a.o.sessions.DeletePaymentSession(ctx, a.o.sessionKey); dErr != nil {
				logging.WithContext(ctx).WithError(dErr).Warn("payment session not deleted")
			}
		}
	}

	n := notify.Notification{Level: level, Topic: "payment", Message: message, Action: action}
	if err != nil {
		n.Error = err.Error()
	}
	a.o.notifier.Notify(ctx, n)
}

func withQuery(base string, params map[string]string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", base, err)
	}
	q := u.Query()
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
