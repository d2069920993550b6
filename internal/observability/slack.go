package observability

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	genErrors "github.com/blueberrycongee/genmux/pkg/errors"
	"github.com/blueberrycongee/genmux/pkg/provider"
	"github.com/blueberrycongee/genmux/pkg/types"
)

// SlackConfig contains configuration for Slack alerting.
type SlackConfig struct {
	Enabled          bool          `yaml:"enabled"`
	WebhookURL       string        `yaml:"webhook_url"`
	Channel          string        `yaml:"channel"`    // Override channel (optional)
	Username         string        `yaml:"username"`   // Bot username (default: "genmux")
	IconEmoji        string        `yaml:"icon_emoji"` // Bot icon emoji (default: ":frame_with_picture:")
	AlertOnErrors    bool          `yaml:"alert_on_errors"`
	AlertOnFailover  bool          `yaml:"alert_on_failover"`
	AlertOnStatus    bool          `yaml:"alert_on_status"`
	MinErrorInterval time.Duration `yaml:"min_error_interval"` // rate limit between error alerts
	ErrorThreshold   int           `yaml:"error_threshold"`    // consecutive failures before alerting
}

// DefaultSlackConfig returns default configuration from environment.
func DefaultSlackConfig() SlackConfig {
	return SlackConfig{
		WebhookURL:       os.Getenv("SLACK_WEBHOOK_URL"),
		Channel:          os.Getenv("SLACK_CHANNEL"),
		Username:         "genmux",
		IconEmoji:        ":frame_with_picture:",
		AlertOnErrors:    true,
		AlertOnFailover:  true,
		AlertOnStatus:    true,
		MinErrorInterval: time.Minute,
		ErrorThreshold:   1,
	}
}

// SlackAlerter posts generation and provider events to a Slack webhook.
type SlackAlerter struct {
	config     SlackConfig
	client     *http.Client
	now        func() time.Time
	lastAlert  time.Time
	errorCount int
	mu         sync.Mutex
}

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color      string       `json:"color,omitempty"`
	Title      string       `json:"title,omitempty"`
	Text       string       `json:"text,omitempty"`
	Fields     []slackField `json:"fields,omitempty"`
	Footer     string       `json:"footer,omitempty"`
	Timestamp  int64        `json:"ts,omitempty"`
	MarkdownIn []string     `json:"mrkdwn_in,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackAlerter creates a new Slack alerter.
func NewSlackAlerter(cfg SlackConfig) (*SlackAlerter, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("slack: webhook_url is required")
	}
	if cfg.ErrorThreshold < 1 {
		cfg.ErrorThreshold = 1
	}

	return &SlackAlerter{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}, nil
}

// GenerationFailed alerts on a terminal failure. Alerts fire once
// ErrorThreshold consecutive failures accumulate, at most once per
// MinErrorInterval.
func (s *SlackAlerter) GenerationFailed(ctx context.Context, fingerprint string, genErr *genErrors.GenerationError) error {
	if !s.config.AlertOnErrors || genErr == nil {
		return nil
	}

	s.mu.Lock()
	s.errorCount++
	now := s.now()
	if s.errorCount < s.config.ErrorThreshold || (!s.lastAlert.IsZero() && now.Sub(s.lastAlert) < s.config.MinErrorInterval) {
		s.mu.Unlock()
		return nil
	}
	s.lastAlert = now
	errorCount := s.errorCount
	s.errorCount = 0
	s.mu.Unlock()

	return s.send(ctx, s.buildErrorMessage(fingerprint, genErr, errorCount))
}

// GenerationCompleted resets the failure streak and alerts when the result
// was only produced after failing over.
func (s *SlackAlerter) GenerationCompleted(ctx context.Context, fingerprint string, meta types.ResultMetadata) error {
	s.mu.Lock()
	s.errorCount = 0
	s.mu.Unlock()

	if !s.config.AlertOnFailover || meta.Attempts < 2 {
		return nil
	}
	return s.send(ctx, s.buildFailoverMessage(fingerprint, meta))
}

// ProviderStatusChanged alerts when a provider leaves or rejoins rotation.
func (s *SlackAlerter) ProviderStatusChanged(ctx context.Context, id string, status provider.Status) error {
	if !s.config.AlertOnStatus {
		return nil
	}
	return s.send(ctx, s.buildStatusMessage(id, status))
}

func (s *SlackAlerter) buildErrorMessage(fingerprint string, genErr *genErrors.GenerationError, errorCount int) slackMessage {
	fields := []slackField{
		{Title: "Code", Value: genErr.Code, Short: true},
		{Title: "Retryable", Value: fmt.Sprintf("%t", genErr.Retryable), Short: true},
		{Title: "Fingerprint", Value: shorten(fingerprint, 16), Short: true},
	}
	if genErr.Provider != "" {
		fields = append(fields, slackField{Title: "Provider", Value: genErr.Provider, Short: true})
	}
	if genErr.SuggestedFix != "" {
		fields = append(fields, slackField{Title: "Suggested Fix", Value: genErr.SuggestedFix, Short: false})
	}

	title := ":x: Generation Failed"
	if errorCount > 1 {
		title = fmt.Sprintf(":x: Generation Failed (%d errors)", errorCount)
	}

	return s.message("danger", title, fmt.Sprintf("```%s```", shorten(genErr.Message, 500)), fields)
}

func (s *SlackAlerter) buildFailoverMessage(fingerprint string, meta types.ResultMetadata) slackMessage {
	text := fmt.Sprintf("Generation succeeded on `%s` after %d attempts", meta.Provider, meta.Attempts)
	fields := []slackField{
		{Title: "Provider", Value: meta.Provider, Short: true},
		{Title: "Attempts", Value: fmt.Sprintf("%d", meta.Attempts), Short: true},
		{Title: "Fingerprint", Value: shorten(fingerprint, 16), Short: true},
	}
	return s.message("warning", ":warning: Failover Triggered", text, fields)
}

func (s *SlackAlerter) buildStatusMessage(id string, status provider.Status) slackMessage {
	color := "warning"
	switch status {
	case provider.StatusOnline:
		color = "good"
	case provider.StatusOffline:
		color = "danger"
	}

	caser := cases.Title(language.English)
	label := caser.String(string(status))
	title := fmt.Sprintf(":satellite: Provider %s", label)
	text := fmt.Sprintf("Provider `%s` is now %s", id, label)
	return s.message(color, title, text, []slackField{
		{Title: "Provider", Value: id, Short: true},
		{Title: "Status", Value: string(status), Short: true},
	})
}

func (s *SlackAlerter) message(color, title, text string, fields []slackField) slackMessage {
	return slackMessage{
		Channel:   s.config.Channel,
		Username:  s.config.Username,
		IconEmoji: s.config.IconEmoji,
		Attachments: []slackAttachment{
			{
				Color:      color,
				Title:      title,
				Text:       text,
				Fields:     fields,
				Footer:     "genmux alert",
				Timestamp:  s.now().Unix(),
				MarkdownIn: []string{"text"},
			},
		},
	}
}

// send posts a message to Slack.
func (s *SlackAlerter) send(ctx context.Context, msg slackMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: failed to send message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
