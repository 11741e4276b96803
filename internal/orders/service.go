package orders

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rickgao/orderfeed/internal/broker"
	"github.com/rickgao/orderfeed/internal/model"
)

// Service writes order mutations and publishes the resulting events.
type Service struct {
	store  Store
	pub    Publisher
	logger *slog.Logger
}

// NewService creates an order Service.
func NewService(store Store, pub Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		pub:    pub,
		logger: logger.With("component", "orders"),
	}
}

// Create validates and stores order, then publishes it on orders:new.
// Status defaults to preparing; a zero total is computed from the items.
//
// If only the publish fails, the stored order is returned along with an
// error wrapping broker.ErrPublishFailed.
func (s *Service) Create(ctx context.Context, order model.Order) (model.Order, error) {
	if order.Status == "" {
		order.Status = model.StatusPreparing
	}
	if err := validateNew(order); err != nil {
		return model.Order{}, err
	}
	if order.TotalCost == 0 {
		order.TotalCost = order.ComputeTotal()
	}

	stored, err := s.store.CreateOrder(ctx, order)
	if err != nil {
		return model.Order{}, fmt.Errorf("store order: %w", err)
	}

	s.logger.Info("order created", "order_id", stored.ID, "type", stored.Type, "total_cost", stored.TotalCost)
	return stored, s.publish(ctx, broker.ChannelOrderNew, stored)
}

// UpdateStatus stores the new status, re-reads the order and publishes the
// full order on orders:updated.
func (s *Service) UpdateStatus(ctx context.Context, id string, status model.OrderStatus) (model.Order, error) {
	if id == "" {
		return model.Order{}, fmt.Errorf("%w: missing id", ErrInvalidOrder)
	}
	if !status.Valid() {
		return model.Order{}, fmt.Errorf("%w: unknown status %q", ErrInvalidOrder, status)
	}

	ok, err := s.store.UpdateStatus(ctx, id, status)
	if err != nil {
		return model.Order{}, fmt.Errorf("update order %s: %w", id, err)
	}
	if !ok {
		return model.Order{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	order, err := s.store.GetByID(ctx, id)
	if err != nil {
		return model.Order{}, fmt.Errorf("reload order %s: %w", id, err)
	}

	s.logger.Info("order status updated", "order_id", id, "status", status)
	return order, s.publish(ctx, broker.ChannelOrderUpdated, order)
}

// Get returns one order.
func (s *Service) Get(ctx context.Context, id string) (model.Order, error) {
	return s.store.GetByID(ctx, id)
}

// List returns orders matching filter.
func (s *Service) List(ctx context.Context, filter model.OrderFilter) ([]model.Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidOrder, filter.Status)
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidOrder, filter.Type)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, fmt.Errorf("%w: range ends before it starts", ErrInvalidOrder)
	}
	return s.store.List(ctx, filter)
}

func (s *Service) publish(ctx context.Context, ch broker.Channel, order model.Order) error {
	if err := s.pub.Publish(ctx, ch, order); err != nil {
		s.logger.Warn("order stored but not announced",
			"order_id", order.ID,
			"channel", ch,
			"error", err,
		)
		return err
	}
	return nil
}

func validateNew(order model.Order) error {
	if len(order.Items) == 0 {
		return fmt.Errorf("%w: no items", ErrInvalidOrder)
	}
	for i, item := range order.Items {
		if item.DishID == "" {
			return fmt.Errorf("%w: items[%d].id_dish is required", ErrInvalidOrder, i)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: items[%d].quantity must be >= 1", ErrInvalidOrder, i)
		}
		if item.UnitCost < 0 {
			return fmt.Errorf("%w: items[%d].unit_cost must be >= 0", ErrInvalidOrder, i)
		}
		for j, extra := range item.SelectedExtras {
			if extra.Name == "" || extra.Cost < 0 {
				return fmt.Errorf("%w: items[%d].selected_extras[%d] is invalid", ErrInvalidOrder, i, j)
			}
		}
	}
	if !order.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidOrder, order.Type)
	}
	if !order.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidOrder, order.Status)
	}
	if order.TotalCost < 0 {
		return fmt.Errorf("%w: negative total_cost", ErrInvalidOrder)
	}
	return nil
}
