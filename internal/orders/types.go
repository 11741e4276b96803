package orders

import (
	"context"
	"errors"

	"github.com/rickgao/orderfeed/internal/broker"
	"github.com/rickgao/orderfeed/internal/model"
)

// Errors
var (
	ErrNotFound     = errors.New("order not found")
	ErrInvalidOrder = errors.New("invalid order")
)

// Store is the order-store collaborator.
type Store interface {
	// CreateOrder persists order and returns it with ID and timestamps set.
	CreateOrder(ctx context.Context, order model.Order) (model.Order, error)

	// UpdateStatus sets the status and reports whether the order exists.
	UpdateStatus(ctx context.Context, id string, status model.OrderStatus) (bool, error)

	// GetByID returns ErrNotFound for an unknown id.
	GetByID(ctx context.Context, id string) (model.Order, error)

	// List returns matching orders, newest first.
	List(ctx context.Context, filter model.OrderFilter) ([]model.Order, error)
}

// Publisher announces order events. Satisfied by *broker.Bridge.
type Publisher interface {
	Publish(ctx context.Context, channel broker.Channel, order model.Order) error
}
