package gateway

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestNormalizeEndpoint(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://API.Example.com/v1/chat?key=abc", "https://api.example.com/v1/chat"},
		{"https://api.example.com/v1/chat#frag", "https://api.example.com/v1/chat"},
		{"HTTP://api.example.com/v1", "http://api.example.com/v1"},
	}
	for _, c := range cases {
		got, err := NormalizeEndpoint(c.in)
		if err != nil {
			t.Fatalf("NormalizeEndpoint(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("NormalizeEndpoint(%q) = %q, want %q", c.in, got, c.want)
		}
	}

	if _, err := NormalizeEndpoint("not a url"); err == nil {
		t.Fatalf("expected error for endpoint without scheme")
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d, ok := parseRetryAfter("5", now)
	if !ok || d != 5*time.Second {
		t.Fatalf("got %v ok=%v", d, ok)
	}
	if d, ok := parseRetryAfter("-3", now); !ok || d != 0 {
		t.Fatalf("negative seconds should floor at zero, got %v ok=%v", d, ok)
	}
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	at := now.Add(30 * time.Second)
	d, ok := parseRetryAfter(at.Format(http.TimeFormat), now)
	if !ok || d != 30*time.Second {
		t.Fatalf("got %v ok=%v", d, ok)
	}
	// dates in the past floor at zero
	d, ok = parseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now)
	if !ok || d != 0 {
		t.Fatalf("past date should floor at zero, got %v ok=%v", d, ok)
	}
}

func TestParseRetryAfterGarbage(t *testing.T) {
	if _, ok := parseRetryAfter("soon", time.Now()); ok {
		t.Fatalf("expected garbage value to be rejected")
	}
	if _, ok := parseRetryAfter("", time.Now()); ok {
		t.Fatalf("expected empty value to be rejected")
	}
}

func TestAcquireEnforcesSpacing(t *testing.T) {
	clock := newFakeClock()
	store := NewRateLimitStore(clock, time.Second)
	ctx := context.Background()

	start := clock.Now()
	if err := store.Acquire(ctx, "https://api.example.com/v1"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := store.Acquire(ctx, "https://api.example.com/v1"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if advanced := clock.Now().Sub(start); advanced < time.Second {
		t.Fatalf("second acquire waited %v, want >= 1s", advanced)
	}
}

func TestAcquireIsPerEndpoint(t *testing.T) {
	clock := newFakeClock()
	store := NewRateLimitStore(clock, time.Second)
	ctx := context.Background()

	start := clock.Now()
	if err := store.Acquire(ctx, "https://a.example.com/v1"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := store.Acquire(ctx, "https://b.example.com/v1"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if advanced := clock.Now().Sub(start); advanced != 0 {
		t.Fatalf("independent endpoints should not wait, advanced %v", advanced)
	}
}

func TestClearCooldown(t *testing.T) {
	clock := newFakeClock()
	store := NewRateLimitStore(clock, 0)
	endpoint := "https://api.example.com/v1"

	store.SetCooldown(endpoint, clock.Now().Add(time.Hour))
	store.ClearCooldown(endpoint)

	start := clock.Now()
	if err := store.Acquire(context.Background(), endpoint); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if advanced := clock.Now().Sub(start); advanced != 0 {
		t.Fatalf("cleared cooldown should not wait, advanced %v", advanced)
	}
}
