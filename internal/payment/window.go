package payment

import (
	"context"
	"sync"
)

// Window is the external context hosting the payment page.
type Window interface {
	Closed() bool
	Close() error
}

type WindowOpener interface {
	Open(ctx context.Context, url string) (Window, error)
}

type OpenerFunc func(ctx context.Context, url string) (Window, error)

func (f OpenerFunc) Open(ctx context.Context, url string) (Window, error) {
	return f(ctx, url)
}

// RelayOpener stands in for a browser tab opened by the front end. The front
// end loads URL and reports closure back through the API.
type RelayOpener struct {
	mu      sync.Mutex
	current *RelayWindow
}

func NewRelayOpener() *RelayOpener {
	return &RelayOpener{}
}

func (r *RelayOpener) Open(_ context.Context, url string) (Window, error) {
	w := &RelayWindow{URL: url}
	r.mu.Lock()
	r.current = w
	r.mu.Unlock()
	return w, nil
}

// Current returns the most recently opened window, or nil.
func (r *RelayOpener) Current() *RelayWindow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

type RelayWindow struct {
	URL string

	mu         sync.Mutex
	closed     bool
	closedByUs bool
}

func (w *RelayWindow) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *RelayWindow) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.closedByUs = true
	return nil
}

// MarkClosed records that the user closed the window.
func (w *RelayWindow) MarkClosed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}

// ClosedByUs reports whether the window was closed after a successful payment.
func (w *RelayWindow) ClosedByUs() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closedByUs
}
