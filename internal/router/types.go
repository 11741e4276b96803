package router

import (
	"errors"

	"github.com/rickgao/orderfeed/internal/broker"
)

// ErrStopped is returned to the broker for deliveries that arrive after
// Stop, so they are requeued instead of dropped.
var ErrStopped = errors.New("router stopped")

// Subscriber registers delivery handlers. Satisfied by *broker.Bridge.
type Subscriber interface {
	Subscribe(channel broker.Channel, handler broker.Handler) error
}

// Broadcaster fans a payload out to live connections. Satisfied by
// *connection.Registry.
type Broadcaster interface {
	Broadcast(payload []byte) int
}

// RouterConfig holds configuration for the Order Event Router.
type RouterConfig struct {
	Channels []broker.Channel // Channels to route; default all order channels
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Channels: broker.Channels(),
	}
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	EventsReceived int64 // Deliveries handed to the router
	EventsRouted   int64 // Decoded and broadcast
	DecodeErrors   int64 // Malformed, acknowledged and dropped
	Refused        int64 // Arrived after Stop, requeued
	Deliveries     int64 // Per-connection sends across all broadcasts
}
