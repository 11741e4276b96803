package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rickgao/orderfeed/internal/codec"
	"github.com/rickgao/orderfeed/internal/metrics"
	"github.com/rickgao/orderfeed/internal/model"
)

// Bridge is a durable, reconnecting client to the message broker.
//
// Only the bridge touches the AMQP connection. Publishes share one channel
// and are serialized; every subscription consumes on its own channel.
type Bridge struct {
	cfg    Config
	logger *slog.Logger
	dial   dialer

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup // supervisor
	consumers sync.WaitGroup // delivery pumps and workers
	watchers  sync.WaitGroup // per-channel close and cancel watchers

	// State
	mu        sync.Mutex
	conn      amqpConn
	pubCh     amqpChan
	link      *link
	subs      []*subscription
	connected bool
	started   bool
	stopping  bool // consumers cancelled, publishing still allowed
	closed    bool

	// Publish serialization
	pubMu sync.Mutex

	fatal chan error

	// Stats
	reconnects      atomic.Int64
	published       atomic.Int64
	publishFailures atomic.Int64
	acked           atomic.Int64
	nacked          atomic.Int64
}

// subscription is a (channel, handler) pair, replayed after every reconnect.
type subscription struct {
	channel Channel
	handler Handler
	tag     string   // consumer tag, stable across reconnects
	ch      amqpChan // consumer channel on the current connection
	queue   *WorkQueue[amqp.Delivery]
}

// link carries the failure signals of one connection. Any channel on it
// closing with an error, or a consumer cancelled by the broker, lands on lost.
type link struct {
	closed chan *amqp.Error
	lost   chan error
}

// New creates a Broker Bridge. Call Connect before publishing.
func New(cfg Config, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultConfig()
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.ReconnectMaxDelay < cfg.RetryInterval {
		cfg.ReconnectMaxDelay = max(def.ReconnectMaxDelay, cfg.RetryInterval)
	}
	if cfg.Prefetch < 1 {
		cfg.Prefetch = def.Prefetch
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		cfg:    cfg,
		logger: logger.With("component", "broker"),
		dial:   dialAMQP,
		ctx:    ctx,
		cancel: cancel,
		fatal:  make(chan error, 1),
	}
}

// Connect establishes the broker connection and declares every channel as a
// durable queue. It makes up to cfg.MaxRetries attempts, cfg.RetryInterval
// apart, then fails with ErrBrokerUnavailable. A refused login fails at once
// with ErrBrokerAuth.
func (b *Bridge) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= b.cfg.MaxRetries; attempt++ {
		l, err := b.open()
		if err == nil {
			b.mu.Lock()
			b.started = true
			b.mu.Unlock()

			b.wg.Add(1)
			go b.supervise(l)

			b.logger.Info("connected to broker", "attempt", attempt, "channels", channels)
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return err
		}
		if isAuthError(err) {
			return fmt.Errorf("%w: %v", ErrBrokerAuth, err)
		}

		lastErr = err
		if attempt == b.cfg.MaxRetries {
			break
		}

		b.logger.Warn("broker not ready, retrying",
			"attempt", attempt,
			"max_retries", b.cfg.MaxRetries,
			"retry_in", b.cfg.RetryInterval,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrBrokerUnavailable, ctx.Err())
		case <-time.After(b.cfg.RetryInterval):
		}
	}

	b.logger.Error("failed to connect to broker", "attempts", b.cfg.MaxRetries, "error", lastErr)
	return fmt.Errorf("%w after %d attempts: %v", ErrBrokerUnavailable, b.cfg.MaxRetries, lastErr)
}

// Publish encodes order and publishes it on channel as a persistent message.
// Failures wrap ErrPublishFailed; nothing is retried here.
func (b *Bridge) Publish(ctx context.Context, channel Channel, order model.Order) error {
	if !channel.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrPublishFailed, ErrUnknownChannel, channel)
	}

	body, err := codec.Encode(order)
	if err != nil {
		return b.publishFailed(channel, err)
	}

	b.mu.Lock()
	ch, connected, closed := b.pubCh, b.connected, b.closed
	b.mu.Unlock()

	if closed {
		return b.publishFailed(channel, ErrClosed)
	}
	if !connected || ch == nil {
		return b.publishFailed(channel, ErrBrokerUnavailable)
	}

	pubCtx, cancel := context.WithTimeout(ctx, b.cfg.PublishTimeout)
	defer cancel()

	b.pubMu.Lock()
	err = ch.PublishWithContext(pubCtx, "", string(channel), false, false, amqp.Publishing{
		ContentType:  codec.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	b.pubMu.Unlock()

	if err != nil {
		return b.publishFailed(channel, err)
	}

	b.published.Add(1)
	metrics.BrokerPublishedTotal.WithLabelValues(string(channel)).Inc()
	return nil
}

func (b *Bridge) publishFailed(channel Channel, cause error) error {
	b.publishFailures.Add(1)
	metrics.BrokerPublishFailuresTotal.WithLabelValues(string(channel)).Inc()
	return fmt.Errorf("%w on %s: %w", ErrPublishFailed, channel, cause)
}

// Subscribe registers handler for channel. The subscription is kept for the
// bridge's lifetime and resumed after every reconnect. If the bridge is not
// connected yet, consumption starts on connect.
func (b *Bridge) Subscribe(channel Channel, handler Handler) error {
	if !channel.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	if handler == nil {
		return errors.New("nil handler")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	sub := &subscription{
		channel: channel,
		handler: handler,
		tag:     fmt.Sprintf("orderfeed.%s.%s", channel, uuid.NewString()),
	}
	b.subs = append(b.subs, sub)

	if b.connected && !b.stopping {
		if err := b.startConsumer(sub); err != nil {
			return fmt.Errorf("start consumer for %s (kept for reconnect): %w", channel, err)
		}
	}

	b.logger.Info("subscribed", "channel", channel, "consumer_tag", sub.tag)
	return nil
}

// Close stops consuming, waits for in-flight handlers until ctx expires, and
// closes the connection. Unacked messages are redelivered on next start.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if !b.stopping {
		b.cancelConsumers()
	}
	b.mu.Unlock()

	if err := b.waitConsumers(ctx); err != nil {
		b.logger.Warn("broker drain timed out, unacked messages will be redelivered")
	}

	b.cancel()

	b.mu.Lock()
	c := b.conn
	b.conn, b.pubCh, b.link, b.connected = nil, nil, nil, false
	b.mu.Unlock()
	metrics.BrokerConnected.Set(0)

	var err error
	if c != nil {
		err = c.Close()
	}

	b.wg.Wait()
	b.watchers.Wait()
	b.logger.Info("broker connection closed")
	return err
}

// StopConsuming cancels every consumer and waits, until ctx expires, for the
// handlers of deliveries already received. Publishing keeps working and
// later reconnects do not resume consumption. Messages not yet delivered
// stay on the broker.
func (b *Bridge) StopConsuming(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if !b.stopping {
		b.stopping = true
		b.cancelConsumers()
	}
	b.mu.Unlock()

	if err := b.waitConsumers(ctx); err != nil {
		return fmt.Errorf("drain consumers: %w", err)
	}
	b.logger.Info("broker consumers stopped")
	return nil
}

// cancelConsumers must be called with b.mu held.
func (b *Bridge) cancelConsumers() {
	if !b.connected {
		return
	}
	for _, sub := range b.subs {
		if sub.ch == nil {
			continue
		}
		if err := sub.ch.Cancel(sub.tag, false); err != nil {
			b.logger.Debug("cancel consumer failed", "consumer_tag", sub.tag, "error", err)
		}
	}
}

func (b *Bridge) waitConsumers(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.consumers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fatal delivers a permanent failure (refused credentials during reconnect).
// The process cannot recover from it.
func (b *Bridge) Fatal() <-chan error {
	return b.fatal
}

// IsConnected returns current connection state.
func (b *Bridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Stats returns current statistics.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	connected, subs := b.connected, len(b.subs)
	buffered := 0
	for _, sub := range b.subs {
		if sub.queue != nil {
			buffered += sub.queue.Len()
		}
	}
	b.mu.Unlock()

	return Stats{
		Connected:       connected,
		Subscriptions:   subs,
		Buffered:        buffered,
		Reconnects:      b.reconnects.Load(),
		Published:       b.published.Load(),
		PublishFailures: b.publishFailures.Load(),
		Acked:           b.acked.Load(),
		Nacked:          b.nacked.Load(),
	}
}

// open dials, declares the closed channel set, installs the connection and
// resumes every subscription. It returns the connection's failure signals.
func (b *Bridge) open() (*link, error) {
	c, err := b.dial(b.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	ch, err := c.Channel()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	for _, name := range channels {
		if _, err := ch.QueueDeclare(string(name), true, false, false, false, nil); err != nil {
			c.Close()
			return nil, fmt.Errorf("declare %s: %w", name, err)
		}
	}

	l := &link{
		closed: c.NotifyClose(make(chan *amqp.Error, 1)),
		lost:   make(chan error, 1),
	}
	b.watch(l, "publish channel", ch)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		c.Close()
		return nil, ErrClosed
	}

	b.conn = c
	b.pubCh = ch
	b.link = l
	b.connected = true

	if !b.stopping {
		for _, sub := range b.subs {
			if err := b.startConsumer(sub); err != nil {
				b.conn, b.pubCh, b.link, b.connected = nil, nil, nil, false
				c.Close()
				return nil, fmt.Errorf("resume %s: %w", sub.channel, err)
			}
		}
	}

	metrics.BrokerConnected.Set(1)
	return l, nil
}

// watch reports on l.lost when ch closes with an error or the broker cancels
// one of its consumers. A graceful close ends the watcher silently.
func (b *Bridge) watch(l *link, what string, ch amqpChan) {
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	cancelled := ch.NotifyCancel(make(chan string, 1))

	b.watchers.Add(1)
	go func() {
		defer b.watchers.Done()

		var err error
		select {
		case amqpErr, ok := <-closed:
			if !ok || amqpErr == nil {
				return
			}
			err = fmt.Errorf("%s closed: %w", what, amqpErr)
		case tag, ok := <-cancelled:
			if !ok {
				return
			}
			err = fmt.Errorf("%s: consumer %s cancelled by broker", what, tag)
		}

		select {
		case l.lost <- err:
		default:
		}
	}()
}

// startConsumer opens a consumer channel for sub and starts its delivery
// pump and worker. Must be called with b.mu held on a live connection.
func (b *Bridge) startConsumer(sub *subscription) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(string(sub.channel), sub.tag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("consume: %w", err)
	}
	sub.ch = ch
	b.watch(b.link, fmt.Sprintf("consumer channel %s", sub.channel), ch)

	queue := NewWorkQueue[amqp.Delivery](b.cfg.Prefetch)
	sub.queue = queue

	b.consumers.Add(2)
	go b.pump(deliveries, queue)
	go b.work(sub, queue)

	return nil
}

// pump moves deliveries into the work queue until the consumer channel closes.
func (b *Bridge) pump(deliveries <-chan amqp.Delivery, queue *WorkQueue[amqp.Delivery]) {
	defer b.consumers.Done()
	defer queue.Close()

	for d := range deliveries {
		if !queue.Send(d) {
			return
		}
	}
}

// work runs the handler for each queued delivery, in delivery order.
func (b *Bridge) work(sub *subscription, queue *WorkQueue[amqp.Delivery]) {
	defer b.consumers.Done()

	logger := b.logger.With("channel", sub.channel, "consumer_tag", sub.tag)
	for {
		d, ok := queue.Receive()
		if !ok {
			return
		}
		b.handle(sub, d, logger)
	}
}

// handle acks after a successful handler and nacks with requeue otherwise.
func (b *Bridge) handle(sub *subscription, d amqp.Delivery, logger *slog.Logger) {
	label := string(sub.channel)

	if err := sub.handler(b.ctx, d.Body); err != nil {
		logger.Warn("handler failed, requeueing",
			"delivery_tag", d.DeliveryTag,
			"redelivered", d.Redelivered,
			"error", err,
		)
		if nackErr := d.Nack(false, true); nackErr != nil {
			logger.Debug("nack failed", "delivery_tag", d.DeliveryTag, "error", nackErr)
		}
		b.nacked.Add(1)
		metrics.BrokerDeliveriesTotal.WithLabelValues(label, "nack").Inc()
		return
	}

	if err := d.Ack(false); err != nil {
		// Channel is gone; the broker will redeliver.
		logger.Debug("ack failed", "delivery_tag", d.DeliveryTag, "error", err)
		return
	}
	b.acked.Add(1)
	metrics.BrokerDeliveriesTotal.WithLabelValues(label, "ack").Inc()
}

// supervise waits for connection or channel loss and drives reconnection.
// A lost channel takes the whole connection down with it so every consumer
// and the publish channel come back together.
func (b *Bridge) supervise(l *link) {
	defer b.wg.Done()

	for {
		var cause error
		select {
		case <-b.ctx.Done():
			return
		case amqpErr := <-l.closed:
			if amqpErr != nil {
				cause = amqpErr
			}
		case err := <-l.lost:
			cause = err
		}
		if b.isClosed() {
			return
		}

		b.mu.Lock()
		c := b.conn
		b.conn, b.pubCh, b.link, b.connected = nil, nil, nil, false
		b.mu.Unlock()
		metrics.BrokerConnected.Set(0)

		b.logger.Warn("broker connection lost", "error", cause)
		if c != nil {
			// A no-op when the connection itself dropped.
			_ = c.Close()
		}

		l = b.reconnect()
		if l == nil {
			return
		}
	}
}

// reconnect retries open until it succeeds, the bridge closes, or the broker
// refuses our credentials. Each round is cfg.MaxRetries attempts; the delay
// doubles between rounds up to cfg.ReconnectMaxDelay.
func (b *Bridge) reconnect() *link {
	wait := b.cfg.RetryInterval

	for attempt := 1; ; attempt++ {
		select {
		case <-b.ctx.Done():
			return nil
		case <-time.After(wait):
		}

		b.logger.Info("attempting broker reconnection", "attempt", attempt)

		l, err := b.open()
		if err == nil {
			b.reconnects.Add(1)
			metrics.BrokerReconnectsTotal.Inc()
			b.logger.Info("reconnected to broker", "attempt", attempt)
			return l
		}
		if errors.Is(err, ErrClosed) {
			return nil
		}
		if isAuthError(err) {
			b.logger.Error("broker refused credentials, giving up", "error", err)
			select {
			case b.fatal <- fmt.Errorf("%w: %v", ErrBrokerAuth, err):
			default:
			}
			return nil
		}

		b.logger.Warn("reconnection failed", "attempt", attempt, "error", err)

		if attempt%b.cfg.MaxRetries == 0 {
			wait = min(wait*2, b.cfg.ReconnectMaxDelay)
			b.logger.Error("broker still unavailable", "attempts", attempt, "next_retry_in", wait)
		}
	}
}

func (b *Bridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
