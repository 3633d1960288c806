package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.sendgrid.com"

// SendGridNotifier sends mail through the SendGrid v3 API.
type SendGridNotifier struct {
	apiKey   string
	from     string
	fromName string
	baseURL  string
	client   *http.Client
}

var _ Notifier = (*SendGridNotifier)(nil)

// NewSendGrid returns a Notifier backed by the SendGrid v3 mail API.
// The sender address must match a verified sender in the SendGrid account.
func NewSendGrid(apiKey, from, fromName string) *SendGridNotifier {
	return &SendGridNotifier{
		apiKey:   apiKey,
		from:     from,
		fromName: fromName,
		baseURL:  defaultBaseURL,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// WithBaseURL overrides the API endpoint. Used in tests.
func (n *SendGridNotifier) WithBaseURL(url string) *SendGridNotifier {
	n.baseURL = url
	return n
}

// v3 mail/send request shape, trimmed to the fields we use.
type sendGridRequest struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (n *SendGridNotifier) Send(ctx context.Context, to string, msg Message) error {
	payload := sendGridRequest{
		Personalizations: []sendGridPersonalization{{To: []sendGridAddress{{Email: to}}}},
		From:             sendGridAddress{Email: n.from, Name: n.fromName},
		Subject:          msg.Subject,
		Content:          []sendGridContent{{Type: "text/html", Value: msg.HTML}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sendgrid: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sendgrid: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+n.apiKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sendgrid: send to %s: %w", to, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("sendgrid: send to %s: status %d: %s", to, res.StatusCode, detail)
	}
	return nil
}
