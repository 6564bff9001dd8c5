package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fastSlack(url string) *SlackNotifier {
	return NewSlackNotifier(SlackConfig{
		Enabled:           true,
		WebhookURL:        url,
		Timeout:           2 * time.Second,
		MaxAttempts:       2,
		RetryBaseDelay:    10 * time.Millisecond,
		RequestsPerSecond: 1000,
	})
}

func fastDiscord(url string) *DiscordNotifier {
	return NewDiscordNotifier(DiscordConfig{
		Enabled:           true,
		WebhookURL:        url,
		Timeout:           2 * time.Second,
		MaxAttempts:       2,
		RetryBaseDelay:    10 * time.Millisecond,
		RequestsPerSecond: 1000,
	})
}

func TestSlackNotifier_PostsBlockKit(t *testing.T) {
	var got SlackWebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	if err := fastSlack(srv.URL).Notify(context.Background(), changeNotification()); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	if len(got.Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(got.Blocks))
	}
	if !strings.HasPrefix(got.Text, "Change detected: Pipeline page - biotech") {
		t.Errorf("fallback text = %q", got.Text)
	}
	if !strings.Contains(got.Blocks[0].Text.Text, "*<https://example.com/pipeline|Change detected: Pipeline page>*") {
		t.Errorf("section text = %q", got.Blocks[0].Text.Text)
	}
	if !strings.Contains(got.Blocks[1].Elements[0].Text, "2026-01-06T10:00:00Z") {
		t.Errorf("context text = %q", got.Blocks[1].Elements[0].Text)
	}
}

func TestSlackNotifier_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	if err := fastSlack(srv.URL).Notify(context.Background(), changeNotification()); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestSlackNotifier_ClientErrorIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("no_service"))
	}))
	defer srv.Close()

	err := fastSlack(srv.URL).Notify(context.Background(), changeNotification())
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("expected ClientError, got %v", err)
	}
	if clientErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d", clientErr.StatusCode)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestSlackNotifier_RejectsInvalidNotification(t *testing.T) {
	err := fastSlack("http://127.0.0.1:1").Notify(context.Background(), &Notification{Kind: KindChange})
	if !errors.Is(err, ErrInvalidNotification) {
		t.Errorf("expected ErrInvalidNotification, got %v", err)
	}
}

func TestDiscordNotifier_PostsEmbed(t *testing.T) {
	var got DiscordWebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := &Notification{Kind: KindError, Resource: testResource(), Error: "HTTP 503: Service Unavailable"}
	if err := fastDiscord(srv.URL).Notify(context.Background(), n); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	if len(got.Embeds) != 1 {
		t.Fatalf("expected 1 embed, got %d", len(got.Embeds))
	}
	e := got.Embeds[0]
	if e.Title != "Check failing: Pipeline page" {
		t.Errorf("Title = %q", e.Title)
	}
	if e.Color != discordRedColor {
		t.Errorf("Color = %d, want red", e.Color)
	}
	if e.URL != "https://example.com/pipeline" {
		t.Errorf("URL = %q", e.URL)
	}
	if e.Footer.Text != "biotech" {
		t.Errorf("Footer = %q", e.Footer.Text)
	}
}

func TestDiscordNotifier_HonoursRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"message":"You are being rate limited.","retry_after":0.05}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	start := time.Now()
	if err := fastDiscord(srv.URL).Notify(context.Background(), changeNotification()); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("expected to wait retry_after, waited %v", elapsed)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestExtractRetryAfter(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "7")
	tests := []struct {
		name string
		resp *http.Response
		body string
		want time.Duration
	}{
		{name: "json body", resp: &http.Response{Header: http.Header{}}, body: `{"retry_after":1.5}`, want: 1500 * time.Millisecond},
		{name: "header", resp: &http.Response{Header: header}, body: "", want: 7 * time.Second},
		{name: "default", resp: &http.Response{Header: http.Header{}}, body: "slow down", want: 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractRetryAfter(tt.resp, []byte(tt.body)); got != tt.want {
				t.Errorf("extractRetryAfter() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNoOpNotifier(t *testing.T) {
	if err := NewNoOpNotifier().Notify(context.Background(), nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(20, 1)
	if _, err := rl.Allow(context.Background()); err != nil {
		t.Fatalf("first Allow() error = %v", err)
	}
	waited, err := rl.Allow(context.Background())
	if err != nil {
		t.Fatalf("second Allow() error = %v", err)
	}
	if waited < 20*time.Millisecond {
		t.Errorf("expected to wait for a token, waited %v", waited)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewRateLimiter(0.001, 1).Allow(ctx); err == nil {
		t.Error("expected error for canceled context")
	}
}
