package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"golang.org/x/time/rate"
)

// WebhookChannel POSTs alerts as JSON to a configured endpoint. Sends are
// paced so a burst of failures cannot hammer the receiver.
type WebhookChannel struct {
	config  *common.WebhookConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  arbor.ILogger
}

// webhookPayload is the JSON body sent to the endpoint
type webhookPayload struct {
	Type      string `json:"type"`
	Module    string `json:"module,omitempty"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	Severity  string `json:"severity"`
	Timestamp string `json:"timestamp"`
}

// NewWebhookChannel validates the webhook configuration and returns the channel
func NewWebhookChannel(logger arbor.ILogger, config *common.WebhookConfig) (*WebhookChannel, error) {
	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid webhook config: %w", err)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &WebhookChannel{
		config:  config,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
		logger:  logger,
	}, nil
}

func (c *WebhookChannel) Name() string { return "webhook" }

// Send POSTs the alert and treats any non-2xx response as a failure
func (c *WebhookChannel) Send(alert *Alert) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.client.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limit wait: %w", err)
	}

	body, err := json.Marshal(webhookPayload{
		Type:      alert.Kind,
		Module:    alert.Module,
		Message:   alert.Subject,
		Error:     alert.Error,
		Attempts:  alert.Attempts,
		Severity:  string(alert.Severity),
		Timestamp: alert.Timestamp.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
