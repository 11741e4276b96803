package broker

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// amqpConn is the slice of *amqp.Connection the bridge uses.
type amqpConn interface {
	Channel() (amqpChan, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// amqpChan is the slice of *amqp.Channel the bridge uses.
type amqpChan interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	NotifyCancel(receiver chan string) chan string
	Close() error
}

type dialer func(url string) (amqpConn, error)

// conn adapts *amqp.Connection so Channel returns the narrow interface.
type conn struct {
	*amqp.Connection
}

func (c conn) Channel() (amqpChan, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func dialAMQP(url string) (amqpConn, error) {
	c, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Properties: amqp.Table{
			"connection_name": "orderfeed",
		},
	})
	if err != nil {
		return nil, err
	}
	return conn{c}, nil
}

// isAuthError reports a refused login. Retrying it only locks the account.
func isAuthError(err error) bool {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return amqpErr.Code == amqp.AccessRefused
	}
	return false
}
