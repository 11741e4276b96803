package connection

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrSendQueueFull  = errors.New("send queue full")
	ErrConnClosed     = errors.New("connection closed")
	ErrShutdown       = errors.New("server shutting down")
	ErrRegistryClosed = errors.New("registry closed")
	ErrBadTransition  = errors.New("invalid state transition")
)

// Application close codes sent to dashboards that fail the session check.
const (
	CloseMissingSession = 4400
	CloseInvalidSession = 4401
)

// Conn is a live connection as seen by the Registry.
type Conn interface {
	// ID identifies the connection for logs and the live set.
	ID() string

	// Send queues payload without blocking. A full queue or a closed
	// connection is an error and gets the connection evicted.
	Send(payload []byte) error

	// Close ends the connection. cause selects the close reason. Safe to
	// call more than once; only the first call has an effect.
	Close(cause error)

	// Done is closed once the connection has flushed and released its
	// transport.
	Done() <-chan struct{}
}

// Evictor removes a connection from the live set.
type Evictor interface {
	Evict(c Conn, cause error) bool
}

// State is the lifecycle of one client connection. It only moves forward.
type State int32

const (
	StateConnecting State = iota
	StateSessionCheck
	StateAdmitted
	StateRejected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSessionCheck:
		return "session_check"
	case StateAdmitted:
		return "admitted"
	case StateRejected:
		return "rejected"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateClosed
}

// canMove reports whether from -> to is a legal transition.
func canMove(from, to State) bool {
	switch from {
	case StateConnecting:
		return to == StateSessionCheck || to == StateClosed
	case StateSessionCheck:
		return to == StateAdmitted || to == StateRejected || to == StateClosed
	case StateAdmitted:
		return to == StateClosed
	}
	return false
}

// ClientConfig configures a websocket Client.
type ClientConfig struct {
	WriteTimeout   time.Duration // Write deadline per frame
	PongWait       time.Duration // Max silence before the peer counts as gone
	PingPeriod     time.Duration // Must be less than PongWait
	SendBuffer     int           // Queued payloads before the client counts as slow
	MaxMessageSize int64         // Largest inbound frame accepted
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		WriteTimeout:   10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		SendBuffer:     256,
		MaxMessageSize: 4096,
	}
}

func (c ClientConfig) withDefaults() ClientConfig {
	def := DefaultClientConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PongWait <= 0 {
		c.PongWait = def.PongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.SendBuffer < 1 {
		c.SendBuffer = def.SendBuffer
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	return c
}

// RegistryStats provides statistics about the registry.
type RegistryStats struct {
	Active       int
	Admitted     int64
	Evicted      int64
	Broadcasts   int64
	SendFailures int64
}
