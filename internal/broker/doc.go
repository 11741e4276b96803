// Package broker implements the Broker Bridge component.
//
// The Broker Bridge:
//   - Owns the single AMQP connection and the closed set of order channels
//   - Declares every channel as a durable queue on connect
//   - Publishes order events as persistent messages
//   - Runs one delivery loop per subscription; a message is acked only after
//     its handler returns nil, otherwise it is nacked and requeued
//   - Reconnects after connection loss, re-declares channels and replays
//     every registered subscription
//
// Handlers must tolerate duplicate delivery (at-least-once).
package broker
