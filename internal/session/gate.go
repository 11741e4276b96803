package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/rickgao/orderfeed/internal/metrics"
	"github.com/rickgao/orderfeed/internal/model"
)

// Gate validates session tokens against the store. It never mutates a
// session.
type Gate struct {
	store  Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewGate creates a Session Gate reading from store.
func NewGate(store Store, cfg Config, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "session_gate"),
		now:    time.Now,
	}
}

// Validate returns the session named by token.
//
// A missing, malformed, unknown, corrupt or expired token yields an error
// wrapping ErrRejected. Store errors are retried with backoff; if they
// persist the result wraps ErrStoreUnavailable instead.
func (g *Gate) Validate(ctx context.Context, token string) (model.Session, error) {
	sess, err := g.validate(ctx, token)
	switch {
	case err == nil:
		metrics.SessionLookupsTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrRejected):
		metrics.SessionLookupsTotal.WithLabelValues("rejected").Inc()
	default:
		metrics.SessionLookupsTotal.WithLabelValues("unavailable").Inc()
	}
	return sess, err
}

func (g *Gate) validate(ctx context.Context, token string) (model.Session, error) {
	if token == "" {
		return model.Session{}, ErrMissingToken
	}
	if !wellFormed(token) {
		return model.Session{}, fmt.Errorf("%w: malformed token", ErrRejected)
	}

	raw, err := g.lookup(ctx, g.cfg.KeyPrefix+token)
	if errors.Is(err, ErrNotFound) {
		return model.Session{}, fmt.Errorf("%w: unknown or expired token", ErrRejected)
	}
	if err != nil {
		return model.Session{}, err
	}

	var sess model.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		g.logger.Warn("corrupt session record", "error", err)
		return model.Session{}, fmt.Errorf("%w: corrupt session", ErrRejected)
	}
	if sess.Email == "" || !sess.Role.Valid() {
		g.logger.Warn("incomplete session record", "role", sess.Role)
		return model.Session{}, fmt.Errorf("%w: corrupt session", ErrRejected)
	}
	if sess.Expired(g.now()) {
		return model.Session{}, fmt.Errorf("%w: session expired", ErrRejected)
	}
	return sess, nil
}

// lookup reads key, retrying store errors with doubling backoff.
func (g *Gate) lookup(ctx context.Context, key string) ([]byte, error) {
	backoff := g.cfg.RetryBackoff

	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		raw, err := g.store.Get(callCtx, key)
		cancel()

		if err == nil || errors.Is(err, ErrNotFound) {
			return raw, err
		}
		lastErr = err
		g.logger.Debug("session lookup failed", "attempt", attempt+1, "error", err)
	}

	g.logger.Warn("session store unreachable", "attempts", g.cfg.MaxRetries+1, "error", lastErr)
	return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, lastErr)
}

// wellFormed rejects tokens that cannot have been issued: oversized or
// carrying whitespace or control characters.
func wellFormed(token string) bool {
	if len(token) > maxTokenLen {
		return false
	}
	return !strings.ContainsFunc(token, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	})
}
