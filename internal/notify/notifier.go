// Package notify delivers customer-facing messages for order lifecycle
// events. The saga treats every send as best-effort: a lost email is
// recoverable, a stuck order status is not, so callers log failures instead
// of propagating them.
package notify

import (
	"context"
	"fmt"
	"log/slog"
)

// Message is a templated subject + HTML body pair.
type Message struct {
	Subject string
	HTML    string
}

// Notifier sends a message to an address.
type Notifier interface {
	Send(ctx context.Context, to string, msg Message) error
}

// OrderReceived is sent right after the order is persisted, before the
// inventory decision arrives.
func OrderReceived(customerName, orderID string) Message {
	return Message{
		Subject: "Your order has been received",
		HTML: fmt.Sprintf(
			"<h2>Hello %s</h2><p>Your order was registered successfully.</p><p><b>ID:</b> %s</p><p>We will let you know once inventory confirms it.</p>",
			customerName, orderID),
	}
}

func StockConfirmed(customerName, orderID string) Message {
	return Message{
		Subject: "Your order has been confirmed",
		HTML: fmt.Sprintf(
			"<p>Dear %s,</p><p>Inventory confirmed your order %s. We are preparing it for shipment.</p>",
			customerName, orderID),
	}
}

func StockRejected(customerName, orderID string) Message {
	return Message{
		Subject: "Your order could not be confirmed",
		HTML: fmt.Sprintf(
			"<p>Dear %s,</p><p>Unfortunately we do not have enough stock to fulfil your order %s.</p><p>No charge has been made.</p>",
			customerName, orderID),
	}
}

func OrderShipped(customerName, orderID string) Message {
	return Message{
		Subject: "Your order has been shipped",
		HTML: fmt.Sprintf(
			"<p>Dear %s,</p><p>Your order %s has been shipped.</p><p>You will receive it soon.</p>",
			customerName, orderID),
	}
}

func OrderDelivered(customerName, orderID string) Message {
	return Message{
		Subject: "Your order has been delivered",
		HTML: fmt.Sprintf(
			"<p>Dear %s,</p><p>Your order %s has been delivered successfully.</p><p>Thank you for shopping with us.</p>",
			customerName, orderID),
	}
}

func OrderCancelled(customerName, orderID string) Message {
	return Message{
		Subject: "Your order has been cancelled",
		HTML: fmt.Sprintf(
			"<p>Dear %s,</p><p>Your order %s has been cancelled.</p><p>If you have any questions, please contact us.</p>",
			customerName, orderID),
	}
}

// LogNotifier is the fallback used when no mail provider is configured.
// It keeps local development working without an API key.
type LogNotifier struct{}

func (LogNotifier) Send(ctx context.Context, to string, msg Message) error {
	slog.InfoContext(ctx, "notification (log only)", "to", to, "subject", msg.Subject)
	return nil
}
