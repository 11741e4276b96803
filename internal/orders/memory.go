package orders

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/orderfeed/internal/model"
)

// MemoryStore is a Store held in process memory, for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]model.Order
	now    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]model.Order),
		now:    time.Now,
	}
}

// CreateOrder stores order under a new ID.
func (m *MemoryStore) CreateOrder(_ context.Context, order model.Order) (model.Order, error) {
	order.ID = uuid.NewString()
	order.CreatedAt = m.now().UTC()
	order.UpdatedAt = nil
	order.Items = cloneItems(order.Items)

	stored := order
	stored.Items = cloneItems(order.Items)

	m.mu.Lock()
	m.orders[order.ID] = stored
	m.mu.Unlock()

	return order, nil
}

// UpdateStatus sets the status of an existing order.
func (m *MemoryStore) UpdateStatus(_ context.Context, id string, status model.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return false, nil
	}
	now := m.now().UTC()
	order.Status = status
	order.UpdatedAt = &now
	m.orders[id] = order
	return true, nil
}

// GetByID returns the order or ErrNotFound.
func (m *MemoryStore) GetByID(_ context.Context, id string) (model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[id]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	order.Items = cloneItems(order.Items)
	return order, nil
}

// List returns matching orders, newest first.
func (m *MemoryStore) List(_ context.Context, filter model.OrderFilter) ([]model.Order, error) {
	m.mu.RLock()
	out := make([]model.Order, 0, len(m.orders))
	for _, order := range m.orders {
		if matches(order, filter) {
			order.Items = cloneItems(order.Items)
			out = append(out, order)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b model.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func matches(order model.Order, f model.OrderFilter) bool {
	if f.Status != "" && order.Status != f.Status {
		return false
	}
	if f.Type != "" && order.Type != f.Type {
		return false
	}
	if !f.From.IsZero() && order.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !order.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

func cloneItems(items []model.OrderItem) []model.OrderItem {
	if items == nil {
		return nil
	}
	out := make([]model.OrderItem, len(items))
	for i, item := range items {
		item.SelectedExtras = slices.Clone(item.SelectedExtras)
		out[i] = item
	}
	return out
}
