package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher writes messages to named durable queues over the shared
// process-scoped channel.
type Publisher struct {
	ch *amqp.Channel
}

func NewPublisher(ch *amqp.Channel) *Publisher {
	return &Publisher{ch: ch}
}

// Publish places the body on the queue via the default exchange with
// persistent delivery. The stock-check payload is a bare order id, so the
// content type is plain text rather than JSON.
func (p *Publisher) Publish(ctx context.Context, queue string, body []byte) error {
	err := p.ch.PublishWithContext(ctx,
		"",    // exchange (default: routes by queue name)
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "text/plain",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("could not publish to %q: %w", queue, err)
	}
	return nil
}
