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

// SlackChannel delivers alerts to a Slack incoming webhook
type SlackChannel struct {
	config  *common.SlackConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  arbor.ILogger
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color string  `json:"color"`
	Text  string  `json:"text"`
	Ts    float64 `json:"ts"`
}

// NewSlackChannel validates the Slack configuration and returns the channel
func NewSlackChannel(logger arbor.ILogger, config *common.SlackConfig) (*SlackChannel, error) {
	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid slack config: %w", err)
	}

	return &SlackChannel{
		config:  config,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		logger:  logger,
	}, nil
}

func (c *SlackChannel) Name() string { return "slack" }

// Send posts an attachment-style message; severity maps to the bar color
func (c *SlackChannel) Send(alert *Alert) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.client.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("slack rate limit wait: %w", err)
	}

	color := "good"
	if alert.Severity == SeverityCritical {
		color = "danger"
	}

	text := fmt.Sprintf("*%s*", alert.Subject)
	if alert.Module != "" {
		text += fmt.Sprintf("\nModule: `%s`", alert.Module)
	}
	if alert.Error != "" {
		text += fmt.Sprintf("\nError: %s", alert.Error)
	}

	body, err := json.Marshal(slackPayload{
		Channel:  c.config.Channel,
		Username: c.config.Username,
		Attachments: []slackAttachment{{
			Color: color,
			Text:  text,
			Ts:    float64(alert.Timestamp.Unix()),
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	return nil
}
