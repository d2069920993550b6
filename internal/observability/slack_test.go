package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	genErrors "github.com/blueberrycongee/genmux/pkg/errors"
	"github.com/blueberrycongee/genmux/pkg/provider"
	"github.com/blueberrycongee/genmux/pkg/types"
)

type webhook struct {
	mu       sync.Mutex
	messages []slackMessage
}

func (w *webhook) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.messages)
}

func newTestAlerter(t *testing.T, cfg SlackConfig) (*SlackAlerter, *webhook) {
	t.Helper()
	hook := &webhook{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var msg slackMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			t.Errorf("invalid slack payload: %v", err)
		}
		hook.mu.Lock()
		hook.messages = append(hook.messages, msg)
		hook.mu.Unlock()
	}))
	t.Cleanup(srv.Close)

	cfg.WebhookURL = srv.URL
	a, err := NewSlackAlerter(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return a, hook
}

func TestNewSlackAlerter_RequiresWebhook(t *testing.T) {
	if _, err := NewSlackAlerter(SlackConfig{}); err == nil {
		t.Fatal("expected error without webhook_url")
	}
}

func TestSlackAlerter_FailureThresholdAndInterval(t *testing.T) {
	cfg := DefaultSlackConfig()
	cfg.ErrorThreshold = 2
	a, hook := newTestAlerter(t, cfg)
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }
	ctx := context.Background()
	genErr := genErrors.NewExhaustedFailoverError(genErrors.NewServiceUnavailableError("A", "down"), 3)

	if err := a.GenerationFailed(ctx, "fp-1", genErr); err != nil {
		t.Fatal(err)
	}
	if hook.count() != 0 {
		t.Fatal("first failure is below threshold")
	}
	if err := a.GenerationFailed(ctx, "fp-2", genErr); err != nil {
		t.Fatal(err)
	}
	if hook.count() != 1 {
		t.Fatalf("expected 1 alert, got %d", hook.count())
	}
	if title := hook.messages[0].Attachments[0].Title; !strings.Contains(title, "2 errors") {
		t.Errorf("title = %q", title)
	}

	_ = a.GenerationFailed(ctx, "fp-3", genErr)
	_ = a.GenerationFailed(ctx, "fp-4", genErr)
	if hook.count() != 1 {
		t.Fatal("alerts within MinErrorInterval are suppressed")
	}

	now = now.Add(2 * time.Minute)
	_ = a.GenerationFailed(ctx, "fp-5", genErr)
	_ = a.GenerationFailed(ctx, "fp-6", genErr)
	if hook.count() != 2 {
		t.Fatalf("expected alert after interval, got %d", hook.count())
	}
}

func TestSlackAlerter_CompletedResetsStreak(t *testing.T) {
	cfg := DefaultSlackConfig()
	cfg.ErrorThreshold = 2
	a, hook := newTestAlerter(t, cfg)
	ctx := context.Background()
	genErr := genErrors.NewServiceUnavailableError("A", "down")

	_ = a.GenerationFailed(ctx, "fp", genErr)
	_ = a.GenerationCompleted(ctx, "fp", types.ResultMetadata{Provider: "A", Attempts: 1})
	_ = a.GenerationFailed(ctx, "fp", genErr)
	if hook.count() != 0 {
		t.Fatalf("success resets the failure streak, got %d alerts", hook.count())
	}

	_ = a.GenerationCompleted(ctx, "fp", types.ResultMetadata{Provider: "B", Attempts: 2})
	if hook.count() != 1 {
		t.Fatalf("expected failover alert, got %d", hook.count())
	}
	if color := hook.messages[0].Attachments[0].Color; color != "warning" {
		t.Errorf("color = %q", color)
	}
}

func TestSlackAlerter_ProviderStatus(t *testing.T) {
	a, hook := newTestAlerter(t, DefaultSlackConfig())

	if err := a.ProviderStatusChanged(context.Background(), "local", provider.StatusMaintenance); err != nil {
		t.Fatal(err)
	}
	att := hook.messages[0].Attachments[0]
	if att.Title != ":satellite: Provider Maintenance" {
		t.Errorf("title = %q", att.Title)
	}
	if att.Color != "warning" {
		t.Errorf("color = %q", att.Color)
	}
	if !strings.Contains(att.Text, "`local`") {
		t.Errorf("text = %q", att.Text)
	}
}

func TestSlackAlerter_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a, err := NewSlackAlerter(SlackConfig{WebhookURL: srv.URL, AlertOnStatus: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.ProviderStatusChanged(context.Background(), "local", provider.StatusOffline); err == nil {
		t.Fatal("expected error on non-200 webhook")
	}
}
