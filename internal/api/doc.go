// Package api is a Go client for the orderfeed HTTP surface.
//
// It logs in, manages orders and builds the websocket URL for the live
// order feed. Sessions are carried in the session-id header.
package api
