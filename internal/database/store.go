package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/orderfeed/internal/config"
	"github.com/rickgao/orderfeed/internal/model"
	"github.com/rickgao/orderfeed/internal/orders"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id          UUID PRIMARY KEY,
    id_user     TEXT NOT NULL,
    items       JSONB NOT NULL,
    total_cost  DOUBLE PRECISION NOT NULL,
    status      TEXT NOT NULL CHECK (status IN ('preparing', 'done', 'delivered')),
    type        TEXT NOT NULL CHECK (type IN ('dinein', 'delivery')),
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS orders_created_at_idx ON orders (created_at DESC);
CREATE INDEX IF NOT EXISTS orders_status_idx ON orders (status, created_at DESC);
`

const orderColumns = `id, id_user, items, total_cost, status, type, created_at, updated_at`

// Connect creates a connection pool.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// OrderStore is the PostgreSQL implementation of orders.Store.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore wraps pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// EnsureSchema creates the orders table and its indexes if missing.
func (s *OrderStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// CreateOrder inserts order under a new UUID.
func (s *OrderStore) CreateOrder(ctx context.Context, order model.Order) (model.Order, error) {
	order.ID = uuid.NewString()
	order.UpdatedAt = nil
	items, err := json.Marshal(order.Items)
	if err != nil {
		return model.Order{}, fmt.Errorf("encode items: %w", err)
	}
	if order.Items == nil {
		items = []byte("[]")
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO orders (id, id_user, items, total_cost, status, type)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		order.ID, order.UserID, string(items), order.TotalCost, string(order.Status), string(order.Type),
	).Scan(&order.CreatedAt)
	if err != nil {
		return model.Order{}, fmt.Errorf("insert order: %w", err)
	}

	order.CreatedAt = order.CreatedAt.UTC()
	return order, nil
}

// UpdateStatus sets status and updated_at.
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, status model.OrderStatus) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByID returns the order or orders.ErrNotFound.
func (s *OrderStore) GetByID(ctx context.Context, id string) (model.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Order{}, orders.ErrNotFound
	}

	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Order{}, orders.ErrNotFound
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

// List returns orders matching filter, newest first.
func (s *OrderStore) List(ctx context.Context, filter model.OrderFilter) ([]model.Order, error) {
	query, args := listQuery(filter)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return out, nil
}

// Ping verifies the connection is healthy.
func (s *OrderStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// listQuery builds the filtered SELECT. From is inclusive, To exclusive.
func listQuery(f model.OrderFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Type != "" {
		add("type = $%d", string(f.Type))
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + orderColumns + ` FROM orders`)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC")
	return b.String(), args
}

func scanOrder(row pgx.Row) (model.Order, error) {
	var (
		order     model.Order
		status    string
		orderType string
		updatedAt *time.Time
	)
	err := row.Scan(&order.ID, &order.UserID, &order.Items, &order.TotalCost, &status, &orderType, &order.CreatedAt, &updatedAt)
	if err != nil {
		return model.Order{}, err
	}

	order.Status = model.OrderStatus(status)
	order.Type = model.OrderType(orderType)
	order.CreatedAt = order.CreatedAt.UTC()
	if updatedAt != nil {
		t := updatedAt.UTC()
		order.UpdatedAt = &t
	}
	return order, nil
}
