package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func captureServer(t *testing.T, received *map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, received)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSend_NoWebhook(t *testing.T) {
	var buf bytes.Buffer
	s := NewSender("", "TestService", zerolog.New(&buf))
	if s.Enabled() {
		t.Fatal("should not be enabled with empty URL")
	}
	s.Send(context.Background(), "hello from test")
	if !strings.Contains(buf.String(), "hello from test") {
		t.Fatalf("message should still be logged: %s", buf.String())
	}
}

func TestSend_SlackFormat(t *testing.T) {
	var received map[string]string
	srv := captureServer(t, &received)

	s := NewSender(srv.URL, "TestService", zerolog.Nop())
	if !s.Enabled() {
		t.Fatal("should be enabled")
	}
	s.Send(context.Background(), "cache evicted")

	if received["username"] != "TestService" {
		t.Fatalf("username: got %s", received["username"])
	}
	if received["text"] != "`[TestService] cache evicted`" {
		t.Fatalf("text: got %q", received["text"])
	}
}

func TestSend_DiscordFormat(t *testing.T) {
	var received map[string]string
	srv := captureServer(t, &received)

	s := NewSender(srv.URL+"/discord/webhook", "PulseBot", zerolog.Nop())
	s.Send(context.Background(), "daily refresh started")

	if received["content"] == "" {
		t.Fatal("content should not be empty for Discord")
	}
	if received["username"] != "PulseBot" {
		t.Fatalf("username: got %s", received["username"])
	}
	if _, hasText := received["text"]; hasText {
		t.Fatal("Discord payload should not have 'text' field")
	}
}

func TestSend_WebhookError(t *testing.T) {
	var buf bytes.Buffer
	s := NewSender("http://localhost:1/bogus", "TestService", zerolog.New(&buf))
	s.retry.BaseDelay = time.Millisecond
	s.retry.MaxDelay = time.Millisecond
	s.Send(context.Background(), "this will fail gracefully")
	if !strings.Contains(buf.String(), "webhook delivery failed") {
		t.Fatalf("failure should be logged: %s", buf.String())
	}
}

func TestJobSummary(t *testing.T) {
	var received map[string]string
	srv := captureServer(t, &received)

	s := NewSender(srv.URL+"/discord", "", zerolog.Nop())
	s.JobSummary(context.Background(), JobReport{
		Job:       "daily_refresh",
		Total:     3,
		Succeeded: 2,
		Failed:    []string{"ZZZZ"},
		Duration:  1500 * time.Millisecond,
	})

	want := "[StockPulse] daily_refresh finished: 2/3 symbols refreshed in 1.5s | failed: ZZZZ"
	if received["content"] != want {
		t.Fatalf("content:\n got %q\nwant %q", received["content"], want)
	}
}
