package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rickgao/orderfeed/internal/auth"
	"github.com/rickgao/orderfeed/internal/broker"
	"github.com/rickgao/orderfeed/internal/model"
	"github.com/rickgao/orderfeed/internal/orders"
	"github.com/rickgao/orderfeed/internal/session"
	"github.com/rickgao/orderfeed/internal/version"
)

const maxBodyBytes = 1 << 20

// LoginRequest is the POST /login body.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the POST /login reply.
type LoginResponse struct {
	SessionID string     `json:"session_id"`
	Role      model.Role `json:"role"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Health is the GET /health reply.
type Health struct {
	Status      string            `json:"status"` // ok, degraded or down
	Broker      string            `json:"broker"` // connected or reconnecting
	Checks      map[string]string `json:"checks,omitempty"`
	Connections int               `json:"connections"`
	Version     version.Info      `json:"version"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	role, subject, err := s.deps.Directory.Authenticate(req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		s.logger.Error("authenticate failed", "error", err)
		writeError(w, http.StatusInternalServerError, "authentication failed")
		return
	}

	token, sess, err := s.deps.Sessions.Create(r.Context(), subject, role)
	if err != nil {
		s.logger.Warn("session create failed", "email", subject, "error", err)
		writeError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}

	s.logger.Info("login", "email", subject, "role", role)
	writeJSON(w, http.StatusOK, LoginResponse{SessionID: token, Role: sess.Role, ExpiresAt: sess.ExpiresAt})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, token := sessionFrom(r.Context())
	if _, err := s.deps.Sessions.Delete(r.Context(), token); err != nil {
		s.logger.Warn("session delete failed", "email", sess.Email, "error", err)
		writeError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	_, token := sessionFrom(r.Context())
	sess, err := s.deps.Sessions.Extend(r.Context(), token)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sess)
	case errors.Is(err, session.ErrRejected):
		writeError(w, http.StatusUnauthorized, "invalid session")
	default:
		writeError(w, http.StatusServiceUnavailable, "session store unavailable")
	}
}

func (s *Server) handleListDishes(w http.ResponseWriter, r *http.Request) {
	menu := s.deps.Menu
	if menu == nil {
		menu = []model.Dish{}
	}
	writeJSON(w, http.StatusOK, menu)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := s.deps.Orders.List(r.Context(), filter)
	if err != nil {
		s.orderError(w, err)
		return
	}
	if list == nil {
		list = []model.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var order model.Order
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&order); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess, _ := sessionFrom(r.Context())
	if order.UserID == "" {
		order.UserID = sess.Email
	}

	created, err := s.deps.Orders.Create(r.Context(), order)
	if err != nil && !errors.Is(err, broker.ErrPublishFailed) {
		s.orderError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.deps.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.orderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	_, v := firstParam(r.URL.Query(), "new_status", "status")
	status := model.OrderStatus(v)
	order, err := s.deps.Orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil && !errors.Is(err, broker.ErrPublishFailed) {
		s.orderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// orderError maps order service errors to HTTP statuses.
func (s *Server) orderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orders.ErrInvalidOrder):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orders.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	default:
		s.logger.Error("order request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	h := Health{
		Status:  "ok",
		Broker:  "connected",
		Version: version.Get(),
	}
	if s.deps.Registry != nil {
		h.Connections = s.deps.Registry.Len()
	}
	if s.deps.Broker != nil && !s.deps.Broker.IsConnected() {
		h.Status = "degraded"
		h.Broker = "reconnecting"
	}

	code := http.StatusOK
	if len(s.deps.Checks) > 0 {
		h.Checks = make(map[string]string, len(s.deps.Checks))
	}
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			h.Checks[name] = err.Error()
			h.Status = "down"
			code = http.StatusServiceUnavailable
			continue
		}
		h.Checks[name] = "ok"
	}

	writeJSON(w, code, h)
}

// parseFilter reads status, type, from_date and to_date. Times are RFC 3339;
// from and to are accepted as short forms.
func parseFilter(r *http.Request) (model.OrderFilter, error) {
	q := r.URL.Query()
	filter := model.OrderFilter{
		Status: model.OrderStatus(q.Get("status")),
		Type:   model.OrderType(q.Get("type")),
	}

	for _, p := range []struct {
		names []string
		dst   *time.Time
	}{
		{[]string{"from_date", "from"}, &filter.From},
		{[]string{"to_date", "to"}, &filter.To},
	} {
		name, v := firstParam(q, p.names...)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return model.OrderFilter{}, fmt.Errorf("%s: want RFC 3339 time", name)
		}
		*p.dst = t
	}
	return filter, nil
}

// firstParam returns the first of names present in q, with its value.
func firstParam(q url.Values, names ...string) (string, string) {
	for _, name := range names {
		if v := q.Get(name); v != "" {
			return name, v
		}
	}
	return "", ""
}
