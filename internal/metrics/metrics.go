package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels stay low-cardinality: channel names, outcomes and reasons only.
// Never label by session token, order id or connection id.

var (
	// Broker

	BrokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orderfeed_broker_connected",
		Help: "1 while the broker connection is up, 0 while disconnected or reconnecting.",
	})

	BrokerReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderfeed_broker_reconnects_total",
		Help: "Successful broker reconnections after a connection loss.",
	})

	BrokerPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderfeed_broker_published_total",
		Help: "Order events published, by channel.",
	}, []string{"channel"})

	BrokerPublishFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderfeed_broker_publish_failures_total",
		Help: "Order events that could not be published, by channel.",
	}, []string{"channel"})

	BrokerDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderfeed_broker_deliveries_total",
		Help: "Broker deliveries handled, by channel and outcome (ack, nack).",
	}, []string{"channel", "outcome"})

	// Connections

	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orderfeed_connections_active",
		Help: "Dashboard connections currently admitted.",
	})

	ConnectionsAdmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderfeed_connections_admitted_total",
		Help: "Dashboard connections admitted after session validation.",
	})

	ConnectionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderfeed_connections_rejected_total",
		Help: "Dashboard connections refused, by reason (missing, invalid, unavailable).",
	}, []string{"reason"})

	ConnectionsEvictedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderfeed_connections_evicted_total",
		Help: "Dashboard connections removed from the live set, by reason.",
	}, []string{"reason"})

	// Broadcast

	BroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderfeed_broadcasts_total",
		Help: "Payloads fanned out to the live connection set.",
	})

	BroadcastSendFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderfeed_broadcast_send_failures_total",
		Help: "Per-connection sends that failed and caused an eviction.",
	})

	// Router

	RouterDecodeFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderfeed_router_decode_failures_total",
		Help: "Malformed order events acknowledged and dropped, by channel.",
	}, []string{"channel"})

	// Sessions

	SessionLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderfeed_session_lookups_total",
		Help: "Session token lookups, by result (ok, rejected, unavailable).",
	}, []string{"result"})
)
