package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/orderfeed/internal/broker"
	"github.com/rickgao/orderfeed/internal/codec"
	"github.com/rickgao/orderfeed/internal/metrics"
)

// Router subscribes to the order channels and broadcasts every decoded
// order event to the live connections.
type Router interface {
	// Start registers a handler for every configured channel.
	Start(ctx context.Context) error

	// Stop makes handlers refuse further deliveries and waits for the ones
	// in flight.
	Stop(ctx context.Context) error

	// Stats returns current router statistics.
	Stats() RouterStats
}

// router is the internal implementation.
type router struct {
	cfg    RouterConfig
	sub    Subscriber
	out    Broadcaster
	logger *slog.Logger

	// Lifecycle
	mu       sync.RWMutex
	started  bool
	stopped  bool
	inFlight sync.WaitGroup

	// Stats
	received     atomic.Int64
	routed       atomic.Int64
	decodeErrors atomic.Int64
	refused      atomic.Int64
	deliveries   atomic.Int64
}

// NewRouter creates a new Order Event Router.
func NewRouter(cfg RouterConfig, sub Subscriber, out Broadcaster, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = broker.Channels()
	}

	return &router{
		cfg:    cfg,
		sub:    sub,
		out:    out,
		logger: logger.With("component", "router"),
	}
}

// Start subscribes the broadcast path to every configured channel.
func (r *router) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.mu.Unlock()

	for _, ch := range r.cfg.Channels {
		if !ch.Valid() {
			return fmt.Errorf("route %q: %w", ch, broker.ErrUnknownChannel)
		}
		if err := r.sub.Subscribe(ch, r.handler(ch)); err != nil {
			return fmt.Errorf("subscribe %s: %w", ch, err)
		}
	}

	r.logger.Info("order event router started", "channels", r.cfg.Channels)
	return nil
}

// Stop gracefully shuts down the router.
func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping order event router")

	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	// Wait for in-flight broadcasts
	done := make(chan struct{})
	go func() {
		r.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("order event router stopped")
	case <-ctx.Done():
		r.logger.Warn("order event router stop timed out")
		return ctx.Err()
	}
	return nil
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	return RouterStats{
		EventsReceived: r.received.Load(),
		EventsRouted:   r.routed.Load(),
		DecodeErrors:   r.decodeErrors.Load(),
		Refused:        r.refused.Load(),
		Deliveries:     r.deliveries.Load(),
	}
}

// handler returns the delivery handler for one channel.
func (r *router) handler(ch broker.Channel) broker.Handler {
	logger := r.logger.With("channel", ch)

	return func(ctx context.Context, body []byte) error {
		r.mu.RLock()
		if r.stopped {
			r.mu.RUnlock()
			r.refused.Add(1)
			return ErrStopped
		}
		r.inFlight.Add(1)
		r.mu.RUnlock()
		defer r.inFlight.Done()

		r.received.Add(1)

		order, err := codec.Decode(body)
		if err != nil {
			// Acknowledge and drop: redelivering a malformed event never helps.
			r.decodeErrors.Add(1)
			metrics.RouterDecodeFailuresTotal.WithLabelValues(string(ch)).Inc()
			logger.Warn("dropping malformed order event", "error", err, "size", len(body))
			return nil
		}

		payload, err := codec.Encode(order)
		if err != nil {
			r.decodeErrors.Add(1)
			metrics.RouterDecodeFailuresTotal.WithLabelValues(string(ch)).Inc()
			logger.Warn("dropping unencodable order event", "order_id", order.ID, "error", err)
			return nil
		}

		n := r.out.Broadcast(payload)
		r.routed.Add(1)
		r.deliveries.Add(int64(n))

		logger.Debug("order event broadcast", "order_id", order.ID, "status", order.Status, "connections", n)
		return nil
	}
}
