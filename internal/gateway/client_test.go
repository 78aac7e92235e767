package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/storefront-sync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Options{BaseURL: srv.URL, Token: "tok", Timeout: time.Second, BreakerFailures: 3, BreakerCooldown: time.Minute})
}

func TestCreateCart_SendsBodyAndReadsWrappedID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/carts", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Weekly", body["name"])

		_, _ = io.WriteString(w, `{"data":{"id":42,"name":"Weekly"}}`)
	})

	id, err := c.CreateCart(context.Background(), "Weekly", "")
	require.NoError(t, err)
	assert.Equal(t, "42", id)
}

func TestGetCartDetail_AcceptsProductStubsAndIDs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/carts/c1", r.URL.Path)
		_, _ = io.WriteString(w, `{"id":"c1","name":"Main","status":"ordered","items":[
			{"id":"i1","product_id":"p1","quantity":2},
			{"id":7,"product":{"id":"p2","name":"Milk"},"quantity":1}
		]}`)
	})

	d, err := c.GetCartDetail(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.CartStatusOrdered, d.Status)
	require.Len(t, d.Items, 2)
	assert.Equal(t, RemoteItem{ID: "i1", ProductID: "p1", Quantity: 2}, d.Items[0])
	assert.Equal(t, "7", d.Items[1].ID)
	assert.Equal(t, "p2", d.Items[1].ProductID)
}

func TestAddItem_FindsItemInUpdatedCart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/carts/c1/items", r.URL.Path)
		_, _ = io.WriteString(w, `{"data":{"cart":{"id":"c1","items":[
			{"id":"i9","product_id":"other","quantity":1},
			{"id":"i10","product_id":"p1","quantity":3}
		]}}}`)
	})

	id, err := c.AddItem(context.Background(), "c1", "p1", 3)
	require.NoError(t, err)
	assert.Equal(t, "i10", id)
}

func TestAddItem_ItemWrapper(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"item":{"id":"i3","product_id":"p1","quantity":1}}`)
	})

	id, err := c.AddItem(context.Background(), "c1", "p1", 1)
	require.NoError(t, err)
	assert.Equal(t, "i3", id)
}

func TestListCarts_Shapes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"owned carts", `{"owned_carts":[{"id":"a"},{"id":"b"}]}`},
		{"data envelope", `{"data":{"owned_carts":[{"id":"a"},{"id":"b"}]}}`},
		{"bare array", `[{"id":"a"},{"id":"b"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			})
			carts, err := c.ListCarts(context.Background())
			require.NoError(t, err)
			require.Len(t, carts, 2)
			assert.Equal(t, "a", carts[0].ID)
			assert.Equal(t, domain.CartStatusActive, carts[0].Status)
		})
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		code int
		call func(c *Client) error
		want error
	}{
		{"preview unauthorized", http.StatusUnauthorized, func(c *Client) error {
			_, err := c.Preview(context.Background(), domain.PreviewRequest{})
			return err
		}, domain.ErrAuthRequired},
		{"preview stale address", http.StatusUnprocessableEntity, func(c *Client) error {
			_, err := c.Preview(context.Background(), domain.PreviewRequest{})
			return err
		}, domain.ErrStaleReference},
		{"delete conflict", http.StatusConflict, func(c *Client) error {
			return c.DeleteCart(context.Background(), "c1")
		}, domain.ErrCartRetired},
		{"cart missing", http.StatusNotFound, func(c *Client) error {
			_, err := c.GetCartDetail(context.Background(), "c1")
			return err
		}, domain.ErrCartNotFound},
		{"product missing", http.StatusNotFound, func(c *Client) error {
			_, err := c.GetProductByID(context.Background(), "p1")
			return err
		}, domain.ErrProductNotFound},
		{"server error", http.StatusBadGateway, func(c *Client) error {
			return c.UpdateQuantity(context.Background(), "c1", "p1", 2)
		}, domain.ErrGatewayUnavailable},
		{"bad request", http.StatusBadRequest, func(c *Client) error {
			return c.RemoveItem(context.Background(), "c1", "p1")
		}, ErrRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			})
			err := tt.call(c)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.code, se.Code)
		})
	}
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(Options{BaseURL: url, Timeout: time.Second})
	_, err := c.CheckStatus(context.Background(), "ref")
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func TestBreakerOpensOnOutagesOnly(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 3; i++ {
		_, err := c.CheckStatus(context.Background(), "ref")
		require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	}
	_, err := c.CheckStatus(context.Background(), "ref")
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.ErrorIs(t, err, ErrNotSent)
	assert.Equal(t, int32(3), calls.Load(), "open breaker must not reach the server")
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
	})

	for i := 0; i < 5; i++ {
		err := c.DeleteCart(context.Background(), "c1")
		require.ErrorIs(t, err, domain.ErrCartRetired)
	}
	assert.Equal(t, int32(5), calls.Load())
}

func TestCreateOrder_PaymentInfoBesideOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req domain.OrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"c1"}, req.CartIDs)
		assert.True(t, req.SplitOrder)
		_, _ = io.WriteString(w, `{"order":{"order_ids":[1,2]},"payment_info":{"session_id":"s1","payment_reference":"r1","success_indicator":"ok"}}`)
	})

	res, err := c.CreateOrder(context.Background(), domain.OrderRequest{CartIDs: []string{"c1"}, SplitOrder: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, res.OrderIDs)
	assert.Equal(t, "s1", res.Payment.SessionID)
	assert.Equal(t, "r1", res.Payment.PaymentReference)
}

func TestCreateOrder_NumericPaymentIDs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"order":{"order_id":7,"payment_info":{"session_id":123,"payment_reference":456,"merchant_id":9}}}`)
	})

	res, err := c.CreateOrder(context.Background(), domain.OrderRequest{CartIDs: []string{"c1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, res.OrderIDs)
	assert.Equal(t, "123", res.Payment.SessionID)
	assert.Equal(t, "456", res.Payment.PaymentReference)
	assert.Equal(t, "9", res.Payment.MerchantID)
}

func TestCreateOrder_UnreadableAnswerIsFatal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"order":{"payment_info":{"session_id":{"nested":true}}}}`)
	})

	_, err := c.CreateOrder(context.Background(), domain.OrderRequest{CartIDs: []string{"c1"}})
	assert.ErrorIs(t, err, domain.ErrFatalCheckout)
	assert.NotErrorIs(t, err, ErrNotSent)
}

func TestCheckStatus_Shapes(t *testing.T) {
	tests := map[string]string{
		`{"status":"SUCCESS"}`:                      "SUCCESS",
		`{"data":{"payment":{"status":"pending"}}}`: "pending",
		`"declined"`:                  "declined",
		`{"payment_status":"failed"}`: "failed",
	}
	for body, want := range tests {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/payments/ref-1/status", r.URL.Path)
			_, _ = io.WriteString(w, body)
		})
		got, err := c.CheckStatus(context.Background(), "ref-1")
		require.NoError(t, err, body)
		assert.Equal(t, want, got, body)
	}
}

func TestGetProductByID_Wrapped(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"product":{"id":"p1","name":"Apples","pricing":{"base_price":2.5,"final_price":2}}}}`)
	})

	p, err := c.GetProductByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Apples", p.Name)
	assert.InDelta(t, 2.0, p.UnitPrice(), 1e-9)
}
