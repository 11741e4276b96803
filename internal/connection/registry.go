package connection

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/orderfeed/internal/metrics"
)

// Registry is the live set of admitted connections. Only its own methods
// touch the set.
type Registry struct {
	logger *slog.Logger

	mu     sync.RWMutex
	conns  map[string]Conn
	closed bool

	// Stats
	admitted     atomic.Int64
	evicted      atomic.Int64
	broadcasts   atomic.Int64
	sendFailures atomic.Int64
}

// NewRegistry creates an empty Connection Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger.With("component", "registry"),
		conns:  make(map[string]Conn),
	}
}

// Admit adds c to the live set. Admitting a connection twice is a no-op.
// After CloseAll it fails with ErrRegistryClosed.
func (r *Registry) Admit(c Conn) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	if _, ok := r.conns[c.ID()]; ok {
		r.mu.Unlock()
		return nil
	}
	r.conns[c.ID()] = c
	n := len(r.conns)
	r.mu.Unlock()

	r.admitted.Add(1)
	metrics.ConnectionsAdmittedTotal.Inc()
	metrics.ConnectionsActive.Set(float64(n))
	r.logger.Debug("connection admitted", "conn_id", c.ID(), "active", n)
	return nil
}

// Evict removes c from the live set and closes it. It reports whether c was
// present; evicting an absent connection does nothing, so c is closed by
// exactly one caller.
func (r *Registry) Evict(c Conn, cause error) bool {
	r.mu.Lock()
	cur, ok := r.conns[c.ID()]
	if !ok || cur != c {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, c.ID())
	n := len(r.conns)
	r.mu.Unlock()

	c.Close(cause)

	reason := evictReason(cause)
	r.evicted.Add(1)
	metrics.ConnectionsEvictedTotal.WithLabelValues(reason).Inc()
	metrics.ConnectionsActive.Set(float64(n))
	r.logger.Debug("connection evicted", "conn_id", c.ID(), "reason", reason, "active", n)
	return true
}

// Broadcast queues payload on every connection admitted when the call
// starts. A connection that cannot take it is evicted; the others are
// unaffected. It returns how many connections accepted the payload.
func (r *Registry) Broadcast(payload []byte) int {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	r.broadcasts.Add(1)
	metrics.BroadcastsTotal.Inc()

	delivered := 0
	for _, c := range targets {
		if err := c.Send(payload); err != nil {
			r.sendFailures.Add(1)
			metrics.BroadcastSendFailuresTotal.Inc()
			r.logger.Warn("send failed, evicting", "conn_id", c.ID(), "error", err)
			r.Evict(c, err)
			continue
		}
		delivered++
	}
	return delivered
}

// Len returns the number of admitted connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll refuses further admissions, closes every connection with
// ErrShutdown and waits until ctx expires for them to flush queued
// payloads.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	conns := r.conns
	r.conns = make(map[string]Conn)
	r.mu.Unlock()

	for _, c := range conns {
		c.Close(ErrShutdown)
		r.evicted.Add(1)
		metrics.ConnectionsEvictedTotal.WithLabelValues("shutdown").Inc()
	}
	metrics.ConnectionsActive.Set(0)

	for _, c := range conns {
		select {
		case <-c.Done():
		case <-ctx.Done():
			r.logger.Warn("connection drain timed out", "remaining", len(conns))
			return ctx.Err()
		}
	}

	r.logger.Info("all connections closed", "count", len(conns))
	return nil
}

// Stats returns current statistics.
func (r *Registry) Stats() RegistryStats {
	return RegistryStats{
		Active:       r.Len(),
		Admitted:     r.admitted.Load(),
		Evicted:      r.evicted.Load(),
		Broadcasts:   r.broadcasts.Load(),
		SendFailures: r.sendFailures.Load(),
	}
}
