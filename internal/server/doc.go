// Package server is the HTTP surface of orderfeed.
//
// Routes:
//
//	GET  /ws/orders              live order events (session token required)
//	POST /login                  exchange credentials for a session token
//	POST /logout                 delete the caller's session
//	POST /session/extend         refresh the caller's session TTL
//	GET  /orders                 list orders (?status=&type=&from_date=&to_date=)
//	POST /orders                 create an order, announced on orders:new
//	GET  /orders/{id}            fetch one order
//	PUT  /orders/{id}/status     change status (?new_status=), announced on orders:updated
//	GET  /dishes                 the configured menu, read-only
//	GET  /health                 dependency status
//	GET  /metrics                Prometheus metrics (path is configurable)
//
// The session token travels in the session-id header or the session_id
// query parameter. Browsers cannot set headers on a websocket upgrade, so
// the websocket endpoint normally uses the query parameter.
//
// A websocket connection is upgraded first and checked second. A failed
// check closes it with an application close code:
//
//	4400  missing session
//	4401  invalid or expired session
//	1013  session store unavailable, try again later
package server
