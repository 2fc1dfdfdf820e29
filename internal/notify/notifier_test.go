package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/riptide-quant/riptide/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordSender captures deliveries for assertions.
type recordSender struct {
	name   string
	titles []string
	err    error
}

func (r *recordSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordSender) Name() string { return r.name }

func TestNotifyFiltersByEvent(t *testing.T) {
	rec := &recordSender{name: "rec"}
	n := NewNotifier([]Sender{rec}, []string{EventRiskHalted}, discardLogger())
	ctx := context.Background()

	if err := n.Notify(ctx, EventOrderFilled, "fill", "ignored"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := n.Notify(ctx, EventRiskHalted, "halt", "delivered"); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if len(rec.titles) != 1 || rec.titles[0] != "halt" {
		t.Fatalf("delivered titles = %v, want [halt]", rec.titles)
	}
}

func TestNotifyEmptyAllowListPassesEverything(t *testing.T) {
	rec := &recordSender{name: "rec"}
	n := NewNotifier([]Sender{rec}, nil, discardLogger())

	for _, event := range []string{EventOrderFilled, EventRiskHalted, EventRunComplete, EventError} {
		if err := n.Notify(context.Background(), event, event, "m"); err != nil {
			t.Fatalf("Notify(%s): %v", event, err)
		}
	}
	if len(rec.titles) != 4 {
		t.Fatalf("delivered %d, want 4", len(rec.titles))
	}
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	bad := &recordSender{name: "bad", err: io.ErrUnexpectedEOF}
	good := &recordSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	if err == nil {
		t.Fatal("want combined error from failed sender")
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Fatalf("error does not name the failed sender: %v", err)
	}
	if len(good.titles) != 1 {
		t.Fatalf("good sender skipped after bad sender failed")
	}
}

func TestNotifierNoSendersIsNoOp(t *testing.T) {
	n := NewNotifier(nil, nil, discardLogger())
	if err := n.NotifyAll(context.Background(), "t", "m"); err != nil {
		t.Fatalf("NotifyAll with no senders: %v", err)
	}
}

func TestDiscordSenderPostsMarkdown(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewDiscordSender(srv.URL)
	if err := sender.Send(context.Background(), "Order filled", "BTC-USD 0.5 @ 101.2"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.HasPrefix(got["content"], "**Order filled**\n") {
		t.Fatalf("content = %q", got["content"])
	}
}

func TestDiscordSenderSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("want status error, got %v", err)
	}
}

func TestFromConfigSelectsSenders(t *testing.T) {
	n := FromConfig(config.NotifyConfig{}, discardLogger())
	if len(n.senders) != 0 {
		t.Fatalf("empty config built %d senders", len(n.senders))
	}

	n = FromConfig(config.NotifyConfig{
		TelegramToken:     "tok",
		TelegramChatID:    "42",
		DiscordWebhookURL: "https://discord.example/hook",
		Events:            []string{EventRiskHalted},
	}, discardLogger())
	if len(n.senders) != 2 {
		t.Fatalf("built %d senders, want 2", len(n.senders))
	}
	if !n.events[EventRiskHalted] || n.events[EventOrderFilled] {
		t.Fatalf("event filter = %v", n.events)
	}
}
