package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/storefront-sync/internal/config"
	"github.com/fjod/storefront-sync/internal/domain"
	"github.com/fjod/storefront-sync/internal/logging"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Reader abstracts kafka.Reader for testability.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Retirer retires local carts that the backend reports as ordered.
type Retirer interface {
	RetireCart(ctx context.Context, id string, status domain.CartStatus) bool
}

// OrderEvent is the part of a backend order event the poller reads.
type OrderEvent struct {
	CartID  string   `json:"cart_id"`
	CartIDs []string `json:"cart_ids"`
	Status  string   `json:"status"`
}

var errNoCart = errors.New("event names no cart")

// Poller consumes backend order events and retires the carts they consumed.
type Poller struct {
	reader Reader
	carts  Retirer
}

func NewPoller(carts Retirer, cfg config.KafkaConfig) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.OrderTopic,
		GroupID:  cfg.GroupID,
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{reader: reader, carts: carts}
}

func NewPollerWithReader(carts Retirer, reader Reader) *Poller {
	return &Poller{reader: reader, carts: carts}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.retireOrderedCarts(ctx)
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		logging.Logger().WithError(err).Error("closing order event reader")
	}
}

func (p *Poller) retireOrderedCarts(ctx context.Context) {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logging.WithContext(ctx).WithError(err).Error("reading order event")
		}
		return
	}

	ids, status, err := parseEvent(m)
	if err != nil {
		logging.WithFields(ctx, logrus.Fields{"offset": m.Offset, "key": string(m.Key)}).WithError(err).Warn("skipping order event")
		return
	}
	for _, id := range ids {
		if p.carts.RetireCart(ctx, id, status) {
			logging.WithFields(ctx, logrus.Fields{"cart": id, "status": status}).Info("cart retired by order event")
		}
	}
}

func parseEvent(m kafka.Message) ([]string, domain.CartStatus, error) {
	var ev OrderEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return nil, "", fmt.Errorf("parse order event: %w", err)
	}

	ids := ev.CartIDs
	if ev.CartID != "" {
		ids = append([]string{ev.CartID}, ids...)
	}
	if len(ids) == 0 {
		return nil, "", errNoCart
	}

	status := domain.CartStatusOrdered
	raw := ev.Status
	if raw == "" {
		raw = header(m, "event_type")
	}
	if strings.Contains(strings.ToUpper(raw), string(domain.CartStatusCompleted)) {
		status = domain.CartStatusCompleted
	}
	return ids, status, nil
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
