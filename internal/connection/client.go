package connection

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client is one dashboard's websocket connection.
type Client struct {
	id     string
	cfg    ClientConfig
	logger *slog.Logger
	ws     *websocket.Conn

	send     chan []byte
	done     chan struct{} // closed by Close
	finished chan struct{} // closed once the transport is released

	closeOnce    sync.Once
	shutdownOnce sync.Once
	started      atomic.Bool

	// State
	mu        sync.Mutex
	state     State
	closeCode int
	closeText string
}

// NewClient wraps an upgraded websocket connection. The client starts in
// StateConnecting and sends nothing until Run.
func NewClient(ws *websocket.Conn, cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	id := uuid.NewString()

	return &Client{
		id:       id,
		cfg:      cfg,
		logger:   logger.With("conn_id", id, "remote_addr", ws.RemoteAddr().String()),
		ws:       ws,
		send:     make(chan []byte, cfg.SendBuffer),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		state:    StateConnecting,
	}
}

// ID returns the connection ID.
func (c *Client) ID() string {
	return c.id
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transition moves the client to state to.
func (c *Client) Transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !canMove(c.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, c.state, to)
	}
	c.state = to
	return nil
}

// Send queues payload for the write pump.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close ends the connection with a close frame chosen by cause. Queued
// payloads are flushed first when the write pump is running.
func (c *Client) Close(cause error) {
	code, text := closeFrame(cause)
	c.closeWith(StateClosed, code, text)
}

// Reject refuses a connection that failed the session check.
func (c *Client) Reject(code int, text string) {
	c.closeWith(StateRejected, code, text)
}

// Done is closed once the transport has been released.
func (c *Client) Done() <-chan struct{} {
	return c.finished
}

// Run starts the write pump and runs the read pump until the peer goes
// away, then evicts the client. It blocks; call it from the handler that
// upgraded the connection.
func (c *Client) Run(ev Evictor) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}

	go c.writePump(ev)
	c.readPump(ev)
}

func (c *Client) closeWith(final State, code int, text string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if !c.state.Terminal() && canMove(c.state, final) {
			c.state = final
		} else if !c.state.Terminal() {
			c.state = StateClosed
		}
		c.closeCode, c.closeText = code, text
		c.mu.Unlock()

		close(c.done)

		if !c.started.Load() {
			c.shutdown()
		}
	})
}

// readPump discards inbound frames. Its job is servicing pongs and noticing
// when the peer stops answering.
func (c *Client) readPump(ev Evictor) {
	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			select {
			case <-c.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Debug("read failed", "error", err)
				}
			}
			ev.Evict(c, fmt.Errorf("%w: %w", errReadFailed, err))
			return
		}
	}
}

// writePump is the only writer of data frames.
func (c *Client) writePump(ev Evictor) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case payload := <-c.send:
			if err := c.write(payload); err != nil {
				ev.Evict(c, fmt.Errorf("%w: %w", errWriteFailed, err))
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				ev.Evict(c, fmt.Errorf("%w: %w", errWriteFailed, err))
				return
			}

		case <-c.done:
			c.drain()
			return
		}
	}
}

// drain flushes whatever is still queued, best effort.
func (c *Client) drain() {
	for {
		select {
		case payload := <-c.send:
			if err := c.write(payload); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(payload []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// shutdown sends the close frame and releases the socket.
func (c *Client) shutdown() {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		code, text := c.closeCode, c.closeText
		c.mu.Unlock()
		if code == 0 {
			code = websocket.CloseNormalClosure
		}

		msg := websocket.FormatCloseMessage(code, text)
		if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout)); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.logger.Debug("close frame not sent", "error", err)
		}
		c.ws.Close()
		close(c.finished)
	})
}

var (
	errReadFailed  = errors.New("read failed")
	errWriteFailed = errors.New("write failed")
)

// closeFrame maps an eviction cause to a websocket close code and reason.
func closeFrame(cause error) (int, string) {
	switch {
	case cause == nil:
		return websocket.CloseNormalClosure, ""
	case errors.Is(cause, ErrShutdown):
		return websocket.CloseGoingAway, "server shutting down"
	case errors.Is(cause, ErrSendQueueFull):
		return websocket.ClosePolicyViolation, "too slow"
	}
	return websocket.CloseNormalClosure, ""
}

// evictReason labels an eviction cause for metrics.
func evictReason(cause error) string {
	switch {
	case errors.Is(cause, ErrShutdown):
		return "shutdown"
	case errors.Is(cause, ErrSendQueueFull):
		return "slow_consumer"
	case errors.Is(cause, ErrConnClosed):
		return "closed"
	case errors.Is(cause, errWriteFailed):
		return "write_error"
	case errors.Is(cause, errReadFailed):
		return "read_error"
	}
	return "other"
}
