// Package gateway talks to the remote commerce API. Every endpoint returns one
// canonical shape; response-shape branching stays inside this package.
package gateway

import (
	"context"
	"time"

	"github.com/fjod/storefront-sync/internal/domain"
)

// RemoteItem is a cart line as the backend reports it. Product may be a stub.
type RemoteItem struct {
	ID        string
	ProductID string
	Product   *domain.Product
	Quantity  int
}

type CartDetail struct {
	ID          string
	Name        string
	Description string
	Status      domain.CartStatus
	Items       []RemoteItem
	CreatedAt   time.Time
}

type CartGateway interface {
	CreateCart(ctx context.Context, name, description string) (string, error)
	GetCartDetail(ctx context.Context, id string) (*CartDetail, error)
	// AddItem returns the remote item id when the backend reports one.
	AddItem(ctx context.Context, cartID, productID string, quantity int) (string, error)
	RemoveItem(ctx context.Context, cartID, productID string) error
	UpdateQuantity(ctx context.Context, cartID, productID string, quantity int) error
	DeleteCart(ctx context.Context, id string) error
	ListCarts(ctx context.Context) ([]CartDetail, error)
}

type ProductGateway interface {
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
}

type PreviewGateway interface {
	Preview(ctx context.Context, req domain.PreviewRequest) (*domain.OrderPreview, error)
}

type OrderGateway interface {
	CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error)
}

type PaymentStatusGateway interface {
	// CheckStatus returns the raw status string; callers normalize it.
	CheckStatus(ctx context.Context, paymentRef string) (string, error)
}

type Gateway interface {
	CartGateway
	ProductGateway
	PreviewGateway
	OrderGateway
	PaymentStatusGateway
}
