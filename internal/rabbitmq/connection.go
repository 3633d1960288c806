// Package rabbitmq holds the broker side of the saga: the process-scoped
// connection, the stock-check publisher and the stock-response subscriber.
// The connection and channel are opened once at startup and closed on
// shutdown; nothing in this package dials per call.
package rabbitmq

import (
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const connectAttempts = 5

// SetupConn dials the broker and opens a channel, retrying a few times to
// tolerate container startup ordering. The caller owns both and must close
// them on shutdown.
func SetupConn(url string) (*amqp.Connection, *amqp.Channel, error) {
	var conn *amqp.Connection
	var err error

	for i := 0; i < connectAttempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		slog.Warn("failed to connect to RabbitMQ", "attempt", i+1, "error", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("could not open channel: %w", err)
	}

	return conn, ch, nil
}

// DeclareQueues declares the given queues as durable so messages survive a
// broker restart. Idempotent; both ends of each queue declare it.
func DeclareQueues(ch *amqp.Channel, names ...string) error {
	for _, name := range names {
		_, err := ch.QueueDeclare(
			name,  // name
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("could not declare queue %q: %w", name, err)
		}
	}
	return nil
}
