package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ashkan-rafiee/conductor/config"
)

// fakeClock advances instantly on Sleep so tests never wait on real time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func testGatewayConfig() config.GatewayConfig {
	return config.GatewayConfig{
		MinRequestSpacing: 200 * time.Millisecond,
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		DefaultCooldown:   10 * time.Second,
		CallTimeout:       time.Minute,
	}
}

func newTestGateway(clock Clock) *Gateway {
	cfg := testGatewayConfig()
	return New(cfg, "test-key", NewRateLimitStore(clock, cfg.MinRequestSpacing), clock)
}

func TestCallRetriesAfterThrottleAndHonoursRetryAfter(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	var hits []time.Time

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, clock.Now())
		n := len(hits)
		mu.Unlock()
		if n == 1 {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"output":"ok"}`))
	}))
	defer srv.Close()

	g := newTestGateway(clock)
	resp, err := g.Call(context.Background(), srv.URL+"/v1/generate", map[string]string{"prompt": "hi"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Data["output"] != "ok" {
		t.Fatalf("unexpected data: %v", resp.Data)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(hits) != 2 {
		t.Fatalf("expected 2 dispatches, got %d", len(hits))
	}
	if elapsed := hits[1].Sub(hits[0]); elapsed < 5*time.Second {
		t.Fatalf("second dispatch after %v, want >= 5s", elapsed)
	}
}

func TestCallCooldownBlocksSubsequentCall(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	var hits []time.Time

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, clock.Now())
		n := len(hits)
		mu.Unlock()
		if n == 1 {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"output":"ok"}`))
	}))
	defer srv.Close()

	cfg := testGatewayConfig()
	cfg.MaxRetries = 0 // first call fails outright, leaving the cooldown set
	g := New(cfg, "test-key", NewRateLimitStore(clock, cfg.MinRequestSpacing), clock)

	if _, err := g.Call(context.Background(), srv.URL+"/v1/generate", nil); err == nil {
		t.Fatalf("expected rate limit failure")
	}
	if _, err := g.Call(context.Background(), srv.URL+"/v1/generate", nil); err != nil {
		t.Fatalf("second call: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if elapsed := hits[1].Sub(hits[0]); elapsed < 5*time.Second {
		t.Fatalf("cooldown not honoured: second dispatch after %v", elapsed)
	}
}

func TestCallExhaustsRetryBudget(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := newTestGateway(clock)
	_, err := g.Call(context.Background(), srv.URL, nil)
	var gerr *Error
	if !errors.As(err, &gerr) || gerr.Kind != KindRateLimited {
		t.Fatalf("expected rate_limited, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if hits != 4 {
		t.Fatalf("expected 4 attempts (1 + 3 retries), got %d", hits)
	}
}

func TestCallTimeoutIsNotRetried(t *testing.T) {
	clock := newFakeClock()
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := newTestGateway(clock)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Call(ctx, srv.URL, nil)
	var gerr *Error
	if !errors.As(err, &gerr) || gerr.Kind != KindTimeout {
		t.Fatalf("expected timeout kind, got %v", err)
	}
	if hits > 1 {
		t.Fatalf("cancelled call retried %d times", hits)
	}
}

func TestCallRejectsWrongContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	g := newTestGateway(newFakeClock())
	_, err := g.Call(context.Background(), srv.URL, nil)
	var gerr *Error
	if !errors.As(err, &gerr) || gerr.Kind != KindContentType {
		t.Fatalf("expected content_type kind, got %v", err)
	}
}

func TestCallRejectsMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"output": truncated`))
	}))
	defer srv.Close()

	g := newTestGateway(newFakeClock())
	_, err := g.Call(context.Background(), srv.URL, nil)
	var gerr *Error
	if !errors.As(err, &gerr) || gerr.Kind != KindParse {
		t.Fatalf("expected parse kind, got %v", err)
	}
}

func TestCallMissingAPIKeyIsConfigError(t *testing.T) {
	g := New(testGatewayConfig(), "", nil, newFakeClock())
	_, err := g.Call(context.Background(), "https://api.example.com/v1", nil)
	var gerr *Error
	if !errors.As(err, &gerr) || gerr.Kind != KindConfig {
		t.Fatalf("expected config kind, got %v", err)
	}
}

func TestCallExtractsUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"output":"done","model":"gpt-4o-mini","usage":{"prompt_tokens":12,"completion_tokens":34}}`))
	}))
	defer srv.Close()

	g := newTestGateway(newFakeClock())
	resp, err := g.Call(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Usage == nil || resp.Usage.PromptTokens != 12 || resp.Usage.CompletionTokens != 34 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
}
