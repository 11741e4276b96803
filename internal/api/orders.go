package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rickgao/orderfeed/internal/model"
)

// Session token carriers understood by the server.
const (
	SessionHeader = "session-id"
	SessionParam  = "session_id"
)

// LoginResponse is returned by Login.
type LoginResponse struct {
	SessionID string     `json:"session_id"`
	Role      model.Role `json:"role"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Login exchanges credentials for a session token and keeps the token for
// later calls.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	req := map[string]string{"email": email, "password": password}

	var resp LoginResponse
	if err := c.send(ctx, http.MethodPost, "/login", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	c.SetToken(resp.SessionID)
	return &resp, nil
}

// Logout ends the current session and forgets the token.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.send(ctx, http.MethodPost, "/logout", nil, nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	c.SetToken("")
	return nil
}

// ExtendSession refreshes the current session's TTL.
func (c *Client) ExtendSession(ctx context.Context) (*model.Session, error) {
	var sess model.Session
	if err := c.send(ctx, http.MethodPost, "/session/extend", nil, nil, &sess); err != nil {
		return nil, fmt.Errorf("extend session: %w", err)
	}
	return &sess, nil
}

// CreateOrder submits a new order.
func (c *Client) CreateOrder(ctx context.Context, order model.Order) (*model.Order, error) {
	var created model.Order
	if err := c.send(ctx, http.MethodPost, "/orders", nil, order, &created); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return &created, nil
}

// UpdateStatus changes an order's status.
func (c *Client) UpdateStatus(ctx context.Context, id string, status model.OrderStatus) (*model.Order, error) {
	query := url.Values{"new_status": {string(status)}}

	var order model.Order
	if err := c.send(ctx, http.MethodPut, "/orders/"+url.PathEscape(id)+"/status", query, nil, &order); err != nil {
		return nil, fmt.Errorf("update order %s: %w", id, err)
	}
	return &order, nil
}

// GetOrder fetches one order.
func (c *Client) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var order model.Order
	if err := c.get(ctx, "/orders/"+url.PathEscape(id), nil, &order); err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return &order, nil
}

// ListOrders returns orders matching filter, newest first.
func (c *Client) ListOrders(ctx context.Context, filter model.OrderFilter) ([]model.Order, error) {
	query := url.Values{}
	if filter.Status != "" {
		query.Set("status", string(filter.Status))
	}
	if filter.Type != "" {
		query.Set("type", string(filter.Type))
	}
	if !filter.From.IsZero() {
		query.Set("from_date", filter.From.Format(time.RFC3339))
	}
	if !filter.To.IsZero() {
		query.Set("to_date", filter.To.Format(time.RFC3339))
	}

	var list []model.Order
	if err := c.get(ctx, "/orders", query, &list); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return list, nil
}

// ListDishes returns the menu.
func (c *Client) ListDishes(ctx context.Context) ([]model.Dish, error) {
	var dishes []model.Dish
	if err := c.get(ctx, "/dishes", nil, &dishes); err != nil {
		return nil, fmt.Errorf("list dishes: %w", err)
	}
	return dishes, nil
}
