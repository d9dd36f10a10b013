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

	"github.com/systmms/vaultops/internal/logging"
)

// Defaults for SlackConfig.
const (
	DefaultAttempts = 3
	DefaultTimeout  = 10 * time.Second
)

// SlackConfig holds configuration for Slack incoming webhooks.
type SlackConfig struct {
	WebhookURL string
	// Attempts is the total number of deliveries tried.
	Attempts int
	// Delay is the fixed wait between attempts.
	Delay time.Duration
	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

// SlackNotifier posts attachment messages to an incoming webhook.
type SlackNotifier struct {
	config   SlackConfig
	client   *http.Client
	logger   *logging.Logger
	onFailed func()
}

// SlackOption configures a SlackNotifier.
type SlackOption func(*SlackNotifier)

// WithLogger sets the notifier's logger.
func WithLogger(l *logging.Logger) SlackOption {
	return func(n *SlackNotifier) { n.logger = l }
}

// WithFailureHook registers a callback run when delivery is abandoned.
func WithFailureHook(fn func()) SlackOption {
	return func(n *SlackNotifier) { n.onFailed = fn }
}

// NewSlackNotifier creates a Slack notifier, filling unset fields with the
// package defaults.
func NewSlackNotifier(config SlackConfig, opts ...SlackOption) *SlackNotifier {
	if config.Attempts <= 0 {
		config.Attempts = DefaultAttempts
	}
	if config.Delay < 0 {
		config.Delay = 0
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	n := &SlackNotifier{
		config:   config,
		client:   &http.Client{Timeout: config.Timeout},
		logger:   logging.Discard(),
		onFailed: func() {},
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// New returns a SlackNotifier when a webhook is configured and Noop
// otherwise.
func New(config SlackConfig, logger *logging.Logger, opts ...SlackOption) Notifier {
	if config.WebhookURL == "" {
		return Noop{Logger: logger}
	}
	return NewSlackNotifier(config, append([]SlackOption{WithLogger(logger)}, opts...)...)
}

type slackAttachment struct {
	Color string `json:"color"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

type slackPayload struct {
	Attachments []slackAttachment `json:"attachments"`
}

// Send delivers msg, retrying with a fixed delay. Every non-2xx answer and
// every transport error is retried.
func (n *SlackNotifier) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(buildPayload(msg))
	if err != nil {
		return fmt.Errorf("failed to marshal Slack message: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= n.config.Attempts; attempt++ {
		err := n.doSend(ctx, payload)
		if err == nil {
			n.logger.Info("Sent Slack notification")
			return nil
		}
		lastErr = err
		n.logger.Debug("Slack attempt %d/%d failed: %v", attempt, n.config.Attempts, err)

		if attempt < n.config.Attempts {
			select {
			case <-ctx.Done():
				n.onFailed()
				return &Error{Attempts: attempt, Err: ctx.Err()}
			case <-time.After(n.config.Delay):
			}
		}
	}

	n.onFailed()
	return &Error{Attempts: n.config.Attempts, Err: lastErr}
}

func (n *SlackNotifier) doSend(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Slack notification: %s", logging.Redact(err.Error(), []string{n.config.WebhookURL}))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func buildPayload(msg Message) slackPayload {
	var text strings.Builder
	if msg.Link != "" {
		fmt.Fprintf(&text, "🔗 *Link:* <%s>\n", msg.Link)
	}
	if msg.User != "" {
		fmt.Fprintf(&text, "👤 *Created By:* %s", msg.User)
	}
	if msg.Details != "" {
		if text.Len() > 0 {
			text.WriteString("\n")
		}
		text.WriteString(msg.Details)
	}

	return slackPayload{Attachments: []slackAttachment{{
		Color: colorFor(msg.Status),
		Title: ":rocket: " + msg.Title,
		Text:  strings.TrimRight(text.String(), "\n"),
	}}}
}

func colorFor(s Status) string {
	switch s {
	case StatusFailure:
		return "#d00000"
	case StatusPartial:
		return "#f2c744"
	default:
		return "#36a64f"
	}
}
