// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Broker connection state, publishes, deliveries and reconnects
//   - Live dashboard connections, admissions, rejections and evictions
//   - Broadcast fan-out and per-connection send failures
//   - Router decode failures (dropped poison messages)
//   - Session store lookups by outcome
package metrics
