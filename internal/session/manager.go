package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/orderfeed/internal/model"
)

// WritableStore is a Store that can also refresh an existing key.
type WritableStore interface {
	Store
	Replace(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// Manager creates and ends sessions. It serves login and logout, which sit
// outside the Gate's read-only path.
type Manager struct {
	store  WritableStore
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a session Manager.
func NewManager(store WritableStore, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "session_manager"),
		now:    time.Now,
	}
}

// Create stores a new session for email and role and returns its token.
func (m *Manager) Create(ctx context.Context, email string, role model.Role) (string, model.Session, error) {
	if email == "" || !role.Valid() {
		return "", model.Session{}, fmt.Errorf("invalid session subject %q role %q", email, role)
	}

	sess := model.Session{
		Email:     email,
		Role:      role,
		ExpiresAt: m.now().Add(m.cfg.TTL).UTC(),
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return "", model.Session{}, fmt.Errorf("encode session: %w", err)
	}

	token := uuid.NewString()

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	if err := m.store.Set(callCtx, m.cfg.KeyPrefix+token, data, m.cfg.TTL); err != nil {
		return "", model.Session{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	m.logger.Info("session created", "email", email, "role", role, "expires_at", sess.ExpiresAt)
	return token, sess, nil
}

// Extend restarts the session's lifetime. It returns ErrRejected when the
// session is already gone.
func (m *Manager) Extend(ctx context.Context, token string) (model.Session, error) {
	if token == "" {
		return model.Session{}, ErrMissingToken
	}
	key := m.cfg.KeyPrefix + token

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	raw, err := m.store.Get(callCtx, key)
	if errors.Is(err, ErrNotFound) {
		return model.Session{}, fmt.Errorf("%w: unknown or expired token", ErrRejected)
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var sess model.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return model.Session{}, fmt.Errorf("%w: corrupt session", ErrRejected)
	}
	sess.ExpiresAt = m.now().Add(m.cfg.TTL).UTC()

	data, err := json.Marshal(sess)
	if err != nil {
		return model.Session{}, fmt.Errorf("encode session: %w", err)
	}

	// SET XX so a concurrent logout is not undone.
	ok, err := m.store.Replace(callCtx, key, data, m.cfg.TTL)
	if err != nil {
		return model.Session{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		return model.Session{}, fmt.Errorf("%w: session ended", ErrRejected)
	}
	return sess, nil
}

// Delete ends the session and reports whether it existed.
func (m *Manager) Delete(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	existed, err := m.store.Delete(callCtx, m.cfg.KeyPrefix+token)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return existed, nil
}
