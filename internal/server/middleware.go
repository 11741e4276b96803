package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/rickgao/orderfeed/internal/model"
	"github.com/rickgao/orderfeed/internal/session"
)

type ctxKey int

const (
	sessionKey ctxKey = iota
	tokenKey
)

// sessionToken reads the token from the header, then the query string.
func sessionToken(r *http.Request) string {
	if tok := r.Header.Get(SessionHeader); tok != "" {
		return tok
	}
	return r.URL.Query().Get(SessionParam)
}

// requireSession rejects requests without a live session and stores the
// session in the request context.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		sess, err := s.deps.Gate.Validate(r.Context(), token)
		switch {
		case err == nil:
		case errors.Is(err, session.ErrRejected):
			writeError(w, http.StatusUnauthorized, "invalid session")
			return
		default:
			s.logger.Warn("session check failed", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusServiceUnavailable, "session store unavailable")
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, sess)
		ctx = context.WithValue(ctx, tokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(ctx context.Context) (model.Session, string) {
	sess, _ := ctx.Value(sessionKey).(model.Session)
	token, _ := ctx.Value(tokenKey).(string)
	return sess, token
}

// loginRateLimit limits login attempts per client IP.
func loginRateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
		}),
	)
}
