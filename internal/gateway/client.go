package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fjod/storefront-sync/internal/domain"
	"github.com/fjod/storefront-sync/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	// ErrRejected is returned for client errors that have no place in the taxonomy.
	ErrRejected = errors.New("request rejected by gateway")
	// ErrNotSent marks failures that happened before the request left the client.
	ErrNotSent = errors.New("request not sent")
)

// StatusError is a non-2xx response. It unwraps to the taxonomy error for the code.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
	Err    error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %v", e.Method, e.Path, e.Code, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// BreakerFailures consecutive unavailable responses open the circuit.
	BreakerFailures uint32
	BreakerCooldown time.Duration
	Transport       http.RoundTripper
}

type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
}

func NewClient(opts Options) *Client {
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}

	failures := opts.BreakerFailures
	st := gobreaker.Settings{
		Name:    "commerce-gateway",
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// only outages count against the breaker; 4xx answers are healthy responses
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrGatewayUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Logger().WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	}

	return &Client{
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		token:   opts.Token,
		timeout: opts.Timeout,
		http:    &http.Client{Transport: otelhttp.NewTransport(base)},
		breaker: gobreaker.NewCircuitBreaker[[]byte](st),
	}
}

// statusMap overrides the default error for selected status codes on one endpoint.
type statusMap map[int]error

func (c *Client) do(ctx context.Context, method, path string, body any, overrides statusMap) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w: %w", method, path, ErrNotSent, err)
		}
	}

	raw, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, payload, overrides)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%s %s: %w: %w: %v", method, path, domain.ErrGatewayUnavailable, ErrNotSent, err)
	}
	if err != nil {
		entry := logging.WithFields(ctx, logrus.Fields{"method": method, "path": path})
		if errors.Is(err, domain.ErrGatewayUnavailable) {
			entry.WithError(err).Error("gateway call failed")
		} else {
			entry.WithError(err).Debug("gateway call rejected")
		}
		return nil, err
	}
	return raw, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte, overrides statusMap) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w: %w", method, path, ErrNotSent, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %v", method, path, domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w: %v", method, path, domain.ErrGatewayUnavailable, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}
	return nil, &StatusError{
		Method: method,
		Path:   path,
		Code:   resp.StatusCode,
		Body:   truncate(string(raw), 256),
		Err:    classify(resp.StatusCode, overrides),
	}
}

func classify(code int, overrides statusMap) error {
	if err, ok := overrides[code]; ok {
		return err
	}
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return domain.ErrAuthRequired
	case code == http.StatusConflict:
		return domain.ErrCartRetired
	case code == http.StatusTooManyRequests || code >= 500:
		return domain.ErrGatewayUnavailable
	}
	return ErrRejected
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

var (
	cartStatuses    = statusMap{http.StatusNotFound: domain.ErrCartNotFound}
	productStatuses = statusMap{http.StatusNotFound: domain.ErrProductNotFound}
	// the location in a preview or order request no longer resolves
	locationStatuses = statusMap{
		http.StatusNotFound:            domain.ErrStaleReference,
		http.StatusUnprocessableEntity: domain.ErrStaleReference,
	}
)

func (c *Client) CreateCart(ctx context.Context, name, description string) (string, error) {
	body := map[string]string{"name": name, "description": description}
	raw, err := c.do(ctx, http.MethodPost, "/carts", body, nil)
	if err != nil {
		return "", err
	}
	return decodeCreatedCart(raw)
}

func (c *Client) GetCartDetail(ctx context.Context, id string) (*CartDetail, error) {
	raw, err := c.do(ctx, http.MethodGet, "/carts/"+url.PathEscape(id), nil, cartStatuses)
	if err != nil {
		return nil, err
	}
	return decodeCartDetail(raw)
}

func (c *Client) AddItem(ctx context.Context, cartID, productID string, quantity int) (string, error) {
	body := map[string]any{"product_id": productID, "quantity": quantity}
	raw, err := c.do(ctx, http.MethodPost, "/carts/"+url.PathEscape(cartID)+"/items", body, cartStatuses)
	if err != nil {
		return "", err
	}
	return decodeAddedItem(raw, productID), nil
}

func (c *Client) RemoveItem(ctx context.Context, cartID, productID string) error {
	_, err := c.do(ctx, http.MethodDelete, itemPath(cartID, productID), nil, cartStatuses)
	return err
}

func (c *Client) UpdateQuantity(ctx context.Context, cartID, productID string, quantity int) error {
	body := map[string]int{"quantity": quantity}
	_, err := c.do(ctx, http.MethodPatch, itemPath(cartID, productID), body, cartStatuses)
	return err
}

func (c *Client) DeleteCart(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/carts/"+url.PathEscape(id), nil, cartStatuses)
	return err
}

func (c *Client) ListCarts(ctx context.Context) ([]CartDetail, error) {
	raw, err := c.do(ctx, http.MethodGet, "/carts", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeCartList(raw)
}

func (c *Client) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	raw, err := c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(id), nil, productStatuses)
	if err != nil {
		return nil, err
	}
	return decodeProduct(raw)
}

func (c *Client) Preview(ctx context.Context, req domain.PreviewRequest) (*domain.OrderPreview, error) {
	raw, err := c.do(ctx, http.MethodPost, "/orders/preview", req, locationStatuses)
	if err != nil {
		return nil, err
	}
	return decodePreview(raw)
}

func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	raw, err := c.do(ctx, http.MethodPost, "/orders", req, locationStatuses)
	if err != nil {
		return nil, err
	}
	res, err := decodeOrder(raw)
	if err != nil {
		// the backend accepted the order; only its answer is unreadable
		return nil, fmt.Errorf("%w: %w", domain.ErrFatalCheckout, err)
	}
	return res, nil
}

func (c *Client) CheckStatus(ctx context.Context, paymentRef string) (string, error) {
	raw, err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentRef)+"/status", nil, nil)
	if err != nil {
		return "", err
	}
	return decodePaymentStatus(raw)
}

func itemPath(cartID, productID string) string {
	return "/carts/" + url.PathEscape(cartID) + "/items/" + url.PathEscape(productID)
}

var _ Gateway = (*Client)(nil)
