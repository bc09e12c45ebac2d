package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestRateLimiterUpdate(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	if rl.Status(now).Limited {
		t.Fatal("New rate limiter should not be limited")
	}

	rl.Update(http.StatusTooManyRequests, 10*time.Second, now)

	status := rl.Status(now)
	if !status.Limited {
		t.Error("Expected limited after update")
	}
	if status.LastStatus != http.StatusTooManyRequests {
		t.Errorf("Expected last status 429, got %d", status.LastStatus)
	}
	if !status.BlockedUntil.Equal(now.Add(10 * time.Second)) {
		t.Errorf("Expected blocked until %v, got %v", now.Add(10*time.Second), status.BlockedUntil)
	}
	if rl.Status(now.Add(10 * time.Second)).Limited {
		t.Error("Back-off should end at the deadline")
	}
}

func TestRateLimiterKeepsLaterDeadline(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	rl.Update(http.StatusTooManyRequests, time.Minute, now)
	rl.Update(http.StatusTooManyRequests, time.Second, now)

	if !rl.Status(now.Add(30 * time.Second)).Limited {
		t.Error("Short hint should not cut an earlier long back-off")
	}
}

func TestRateLimiterBounds(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	rl := NewRateLimiter()
	rl.Update(http.StatusServiceUnavailable, 0, now)
	if got := rl.Status(now).BlockedUntil.Sub(now); got != defaultRetryAfter {
		t.Errorf("Expected default back-off %v, got %v", defaultRetryAfter, got)
	}

	rl = NewRateLimiter()
	rl.Update(http.StatusTooManyRequests, 24*time.Hour, now)
	if got := rl.Status(now).BlockedUntil.Sub(now); got != maxRetryAfter {
		t.Errorf("Expected capped back-off %v, got %v", maxRetryAfter, got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 0},
		{"120", 2 * time.Minute},
		{"-5", 0},
		{"soon", 0},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
	}

	for _, tt := range tests {
		if got := parseRetryAfter(tt.header, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}

func TestPingWhileRateLimited(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", time.Second, nil)

	// The throttling response itself proves the host is reachable
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Expected first ping to succeed, got %v", err)
	}
	if !client.RateLimit().Limited {
		t.Fatal("Expected client to be rate limited after 429")
	}

	err := client.Ping(context.Background())
	if !errors.Is(err, ErrNetworkUnavailable) {
		t.Errorf("Expected ErrNetworkUnavailable while limited, got %v", err)
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("Expected no request while limited, got %d requests", n)
	}
}
