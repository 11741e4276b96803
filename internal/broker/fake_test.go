package broker

import (
	"context"
	"errors"
	"sort"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeBroker is an in-process stand-in for RabbitMQ with the semantics the
// bridge relies on: durable queues, prefetch, manual ack, nack with requeue,
// and requeue of unacked messages when a channel dies.
type fakeBroker struct {
	mu        sync.Mutex
	queues    map[string]*fakeQueue
	conns     []*fakeConn
	failDials int  // next N dials fail with a network error
	authFail  bool // dials fail with ACCESS_REFUSED
	dials     int
	nextTag   uint64

	published []amqp.Publishing
	acked     [][]byte
	nacked    int
}

type fakeQueue struct {
	name      string
	durable   bool
	ready     []fakeMsg
	consumers []*fakeConsumer
	rr        int
}

type fakeMsg struct {
	pub         amqp.Publishing
	redelivered bool
}

type fakeConn struct {
	b        *fakeBroker
	closed   bool
	notify   []chan *amqp.Error
	channels []*fakeChannel
}

type fakeChannel struct {
	c            *fakeConn
	closed       bool
	prefetch     int
	consumers    map[string]*fakeConsumer
	notifyClose  []chan *amqp.Error
	notifyCancel []chan string
}

type fakeConsumer struct {
	tag       string
	queue     string
	ch        *fakeChannel
	out       chan amqp.Delivery
	unacked   map[uint64]fakeMsg
	cancelled bool // no new deliveries
	dead      bool // channel gone, acks refused
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{queues: make(map[string]*fakeQueue)}
}

func (b *fakeBroker) dial(string) (amqpConn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials++
	if b.authFail {
		return nil, amqp.ErrCredentials
	}
	if b.failDials > 0 {
		b.failDials--
		return nil, errors.New("dial tcp 127.0.0.1:5672: connect: connection refused")
	}

	c := &fakeConn{b: b}
	b.conns = append(b.conns, c)
	return c, nil
}

// drop kills every live connection the way a broker restart does.
func (b *fakeBroker) drop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range b.conns {
		b.closeConn(c, &amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED - broker forced connection closure", Server: true, Recover: true})
	}
}

func (b *fakeBroker) setFailDials(n int) {
	b.mu.Lock()
	b.failDials = n
	b.mu.Unlock()
}

func (b *fakeBroker) dialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *fakeBroker) ackedBodies() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.acked))
	for i, body := range b.acked {
		out[i] = string(body)
	}
	return out
}

func (b *fakeBroker) queue(name string) (fakeQueue, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return fakeQueue{}, false
	}
	return *q, true
}

func (b *fakeBroker) publishings() []amqp.Publishing {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]amqp.Publishing(nil), b.published...)
}

// closeConn must be called with b.mu held.
func (b *fakeBroker) closeConn(c *fakeConn, err *amqp.Error) {
	if c.closed {
		return
	}
	c.closed = true
	for _, ch := range c.channels {
		b.closeChannel(ch, err)
	}
	for _, n := range c.notify {
		if err != nil {
			n <- err
		}
		close(n)
	}
	c.notify = nil
}

// closeChannel must be called with b.mu held. A nil err is a client close.
func (b *fakeBroker) closeChannel(ch *fakeChannel, err *amqp.Error) {
	if ch.closed {
		return
	}
	ch.closed = true
	for _, cons := range ch.consumers {
		b.killConsumer(cons)
	}
	for _, n := range ch.notifyClose {
		if err != nil {
			n <- err
		}
		close(n)
	}
	for _, n := range ch.notifyCancel {
		close(n)
	}
	ch.notifyClose, ch.notifyCancel = nil, nil
}

// killChannel closes one channel with a channel exception, leaving its
// connection up.
func (b *fakeBroker) killChannel(ch *fakeChannel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closeChannel(ch, &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED - unknown delivery tag 42", Server: true})
}

// cancelConsumers sends basic.cancel to every consumer of queue, as the
// broker does when the queue is deleted.
func (b *fakeBroker) cancelConsumers(queue string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queue]
	if !ok {
		return
	}
	for _, cons := range append([]*fakeConsumer(nil), q.consumers...) {
		b.detach(cons)
		for _, n := range cons.ch.notifyCancel {
			select {
			case n <- cons.tag:
			default:
			}
		}
	}
}

// killConsumer requeues everything the consumer had not acked.
// Must be called with b.mu held.
func (b *fakeBroker) killConsumer(cons *fakeConsumer) {
	if cons.dead {
		return
	}
	b.detach(cons)
	cons.dead = true

	q := b.queues[cons.queue]
	tags := make([]uint64, 0, len(cons.unacked))
	for tag := range cons.unacked {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] > tags[j] })
	for _, tag := range tags {
		msg := cons.unacked[tag]
		msg.redelivered = true
		q.ready = append([]fakeMsg{msg}, q.ready...)
	}
	cons.unacked = map[uint64]fakeMsg{}
	b.dispatch(q)
}

// detach stops new deliveries to cons. Must be called with b.mu held.
func (b *fakeBroker) detach(cons *fakeConsumer) {
	if cons.cancelled {
		return
	}
	cons.cancelled = true
	close(cons.out)

	q := b.queues[cons.queue]
	for i, c := range q.consumers {
		if c == cons {
			q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
			break
		}
	}
}

// dispatch hands ready messages to consumers with prefetch room.
// Must be called with b.mu held.
func (b *fakeBroker) dispatch(q *fakeQueue) {
	for len(q.ready) > 0 {
		var target *fakeConsumer
		for i := 0; i < len(q.consumers); i++ {
			cons := q.consumers[(q.rr+i)%len(q.consumers)]
			if cons.ch.prefetch == 0 || len(cons.unacked) < cons.ch.prefetch {
				target = cons
				q.rr = (q.rr + i + 1) % len(q.consumers)
				break
			}
		}
		if target == nil {
			return
		}

		msg := q.ready[0]
		q.ready = q.ready[1:]
		b.nextTag++
		tag := b.nextTag
		target.unacked[tag] = msg

		target.out <- amqp.Delivery{
			Acknowledger: &fakeAcker{b: b, cons: target},
			ConsumerTag:  target.tag,
			DeliveryTag:  tag,
			Redelivered:  msg.redelivered,
			RoutingKey:   q.name,
			ContentType:  msg.pub.ContentType,
			DeliveryMode: msg.pub.DeliveryMode,
			MessageId:    msg.pub.MessageId,
			Body:         msg.pub.Body,
		}
	}
}

func (c *fakeConn) Channel() (amqpChan, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()

	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := &fakeChannel{c: c, consumers: make(map[string]*fakeConsumer)}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()

	if c.closed {
		close(receiver)
		return receiver
	}
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *fakeConn) Close() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()

	if c.closed {
		return amqp.ErrClosed
	}
	c.b.closeConn(c, nil)
	return nil
}

func (ch *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	b := ch.c.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	q, ok := b.queues[name]
	if !ok {
		q = &fakeQueue{name: name}
		b.queues[name] = q
	}
	q.durable = durable
	return amqp.Queue{Name: name, Messages: len(q.ready), Consumers: len(q.consumers)}, nil
}

func (ch *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	b := ch.c.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	ch.prefetch = prefetchCount
	return nil
}

func (ch *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	b := ch.c.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.published = append(b.published, msg)

	q, ok := b.queues[key]
	if !ok {
		return nil // unroutable on the default exchange
	}
	q.ready = append(q.ready, fakeMsg{pub: msg})
	b.dispatch(q)
	return nil
}

func (ch *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	b := ch.c.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return nil, amqp.ErrClosed
	}
	q, ok := b.queues[queue]
	if !ok {
		return nil, &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue '" + queue + "'"}
	}

	cons := &fakeConsumer{
		tag:     consumer,
		queue:   queue,
		ch:      ch,
		out:     make(chan amqp.Delivery, 256),
		unacked: make(map[uint64]fakeMsg),
	}
	ch.consumers[consumer] = cons
	q.consumers = append(q.consumers, cons)
	b.dispatch(q)
	return cons.out, nil
}

func (ch *fakeChannel) Cancel(consumer string, noWait bool) error {
	b := ch.c.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	if cons, ok := ch.consumers[consumer]; ok {
		b.detach(cons)
	}
	return nil
}

func (ch *fakeChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	b := ch.c.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		close(receiver)
		return receiver
	}
	ch.notifyClose = append(ch.notifyClose, receiver)
	return receiver
}

func (ch *fakeChannel) NotifyCancel(receiver chan string) chan string {
	b := ch.c.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch.closed {
		close(receiver)
		return receiver
	}
	ch.notifyCancel = append(ch.notifyCancel, receiver)
	return receiver
}

func (ch *fakeChannel) Close() error {
	b := ch.c.b
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closeChannel(ch, nil)
	return nil
}

// fakeAcker settles deliveries for one consumer.
type fakeAcker struct {
	b    *fakeBroker
	cons *fakeConsumer
}

func (a *fakeAcker) settle(tag uint64, requeue bool, ack bool) error {
	b := a.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if a.cons.dead {
		return amqp.ErrClosed
	}
	msg, ok := a.cons.unacked[tag]
	if !ok {
		return errors.New("PRECONDITION_FAILED - unknown delivery tag")
	}
	delete(a.cons.unacked, tag)

	q := b.queues[a.cons.queue]
	if ack {
		b.acked = append(b.acked, msg.pub.Body)
	} else {
		b.nacked++
		if requeue {
			msg.redelivered = true
			q.ready = append([]fakeMsg{msg}, q.ready...)
		}
	}
	b.dispatch(q)
	return nil
}

func (a *fakeAcker) Ack(tag uint64, multiple bool) error {
	return a.settle(tag, false, true)
}

func (a *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	return a.settle(tag, requeue, false)
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	return a.settle(tag, requeue, false)
}
