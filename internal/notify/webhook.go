package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

// WebhookNotifier posts messages as JSON to a gateway endpoint. Calls go
// through a circuit breaker so a dead gateway fails fast.
type WebhookNotifier struct {
	URL     string
	Secret  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewWebhookNotifier(url, secret string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		Secret: secret,
		client: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "notify-webhook",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
		}),
	}
}

type webhookBody struct {
	DeliveryID      string            `json:"delivery_id"`
	Channel         Channel           `json:"channel"`
	Recipient       string            `json:"recipient"`
	Template        string            `json:"template"`
	Personalisation map[string]string `json:"personalisation,omitempty"`
	Reference       string            `json:"reference"`
}

func (n *WebhookNotifier) Send(ctx context.Context, msg Message) (string, error) {
	id := uuid.NewString()
	_, err := n.breaker.Execute(func() (any, error) {
		return nil, n.post(ctx, id, msg)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (n *WebhookNotifier) post(ctx context.Context, id string, msg Message) error {
	data, err := json.Marshal(webhookBody{
		DeliveryID:      id,
		Channel:         msg.Channel,
		Recipient:       msg.Recipient,
		Template:        msg.Template,
		Personalisation: msg.Personalisation,
		Reference:       msg.Reference,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Bops-Template", msg.Template)
	req.Header.Set("X-Bops-Delivery", id)
	if strings.TrimSpace(n.Secret) != "" {
		req.Header.Set("X-Bops-Secret", n.Secret)
	}
	res, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
