package server

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/rickgao/orderfeed/internal/connection"
	"github.com/rickgao/orderfeed/internal/metrics"
	"github.com/rickgao/orderfeed/internal/session"
)

// handleWebsocket upgrades, runs the session check and, if it passes,
// admits the connection and blocks in its pumps.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := connection.NewClient(ws, s.cfg.Client, s.logger)
	if err := c.Transition(connection.StateSessionCheck); err != nil {
		c.Close(err)
		return
	}

	sess, err := s.deps.Gate.Validate(r.Context(), sessionToken(r))
	if err != nil {
		code, text, reason := rejection(err)
		metrics.ConnectionsRejectedTotal.WithLabelValues(reason).Inc()
		s.logger.Info("websocket rejected", "conn_id", c.ID(), "reason", reason)
		c.Reject(code, text)
		return
	}

	if err := c.Transition(connection.StateAdmitted); err != nil {
		c.Close(err)
		return
	}
	if err := s.deps.Registry.Admit(c); err != nil {
		c.Close(connection.ErrShutdown)
		return
	}

	s.logger.Info("websocket admitted", "conn_id", c.ID(), "email", sess.Email, "role", sess.Role)
	c.Run(s.deps.Registry)
}

// rejection maps a gate error to a close frame and a metrics label.
func rejection(err error) (code int, text, reason string) {
	switch {
	case errors.Is(err, session.ErrMissingToken):
		return connection.CloseMissingSession, "missing session", "missing"
	case errors.Is(err, session.ErrRejected):
		return connection.CloseInvalidSession, "invalid or expired session", "invalid"
	default:
		return websocket.CloseTryAgainLater, "session store unavailable", "unavailable"
	}
}
