package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"time"

	"github.com/ashkan-rafiee/conductor/config"
)

// ErrorKind classifies gateway failures so callers can react uniformly.
type ErrorKind string

const (
	// KindConfig covers missing credentials and malformed endpoints; never retried.
	KindConfig ErrorKind = "config"
	// KindRateLimited means the retry budget was exhausted against a throttling provider.
	KindRateLimited ErrorKind = "rate_limited"
	// KindTimeout covers context deadline/cancellation; never retried.
	KindTimeout ErrorKind = "timeout"
	// KindContentType means the provider returned a non-JSON body.
	KindContentType ErrorKind = "content_type"
	// KindParse means the body claimed to be JSON but failed to decode.
	KindParse ErrorKind = "parse"
	// KindProvider covers provider-side errors (5xx and non-throttle 4xx).
	KindProvider ErrorKind = "provider"
	// KindNetwork covers transport failures before a response arrived.
	KindNetwork ErrorKind = "network"
)

// Error is the typed failure returned by Call.
type Error struct {
	Kind     ErrorKind
	Endpoint string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gateway %s (%s, status %d): %v", e.Kind, e.Endpoint, e.Status, e.Err)
	}
	return fmt.Sprintf("gateway %s (%s): %v", e.Kind, e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Message is a role-tagged chunk of a text-provider request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage carries token accounting when the provider reports it.
type Usage struct {
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	Model            string `json:"model,omitempty"`
}

// Response is the parsed outcome of a successful provider call.
type Response struct {
	Data     map[string]interface{}
	Usage    *Usage
	Duration time.Duration
}

// Gateway issues outbound calls to capability providers with rate limiting,
// throttle-aware retry, and timeout propagation.
type Gateway struct {
	cfg    config.GatewayConfig
	apiKey string
	client *http.Client
	limits *RateLimitStore
	clock  Clock
	logger *log.Logger
}

// New builds a Gateway around an explicitly constructed rate-limit store.
func New(cfg config.GatewayConfig, apiKey string, limits *RateLimitStore, clock Clock) *Gateway {
	if clock == nil {
		clock = realClock{}
	}
	if limits == nil {
		limits = NewRateLimitStore(clock, cfg.MinRequestSpacing)
	}
	return &Gateway{
		cfg:    cfg,
		apiKey: apiKey,
		client: &http.Client{},
		limits: limits,
		clock:  clock,
		logger: log.New(log.Writer(), "[GATEWAY] ", log.LstdFlags),
	}
}

// Call posts payload to endpoint and returns the parsed JSON response.
// Throttling responses are retried with exponential backoff up to the
// configured budget; timeouts and configuration problems are not.
func (g *Gateway) Call(ctx context.Context, endpoint string, payload interface{}) (*Response, error) {
	if g.apiKey == "" {
		return nil, &Error{Kind: KindConfig, Endpoint: endpoint, Err: errors.New("provider API key not configured")}
	}
	norm, err := NormalizeEndpoint(endpoint)
	if err != nil {
		return nil, &Error{Kind: KindConfig, Endpoint: endpoint, Err: err}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Kind: KindConfig, Endpoint: norm, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	if _, ok := ctx.Deadline(); !ok && g.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()
	}

	start := g.clock.Now()
	attempts := g.cfg.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if err := g.limits.Acquire(ctx, norm); err != nil {
			return nil, &Error{Kind: KindTimeout, Endpoint: norm, Err: err}
		}

		resp, err := g.dispatch(ctx, endpoint, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &Error{Kind: KindTimeout, Endpoint: norm, Err: ctx.Err()}
			}
			return nil, &Error{Kind: KindNetwork, Endpoint: norm, Err: err}
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			delay, provided := parseRetryAfter(resp.Header.Get("Retry-After"), g.clock.Now())
			drain(resp)
			cooldown := delay
			if !provided {
				cooldown = g.cfg.DefaultCooldown
			}
			g.limits.SetCooldown(norm, g.clock.Now().Add(cooldown))
			if attempt == attempts-1 {
				return nil, &Error{Kind: KindRateLimited, Endpoint: norm, Status: resp.StatusCode, Err: errors.New("retry budget exhausted")}
			}
			sleep := delay
			if !provided {
				sleep = g.cfg.InitialBackoff << attempt
			}
			g.logger.Printf("throttled by %s, retrying in %v (attempt %d/%d)", norm, sleep, attempt+1, attempts)
			if err := g.clock.Sleep(ctx, sleep); err != nil {
				return nil, &Error{Kind: KindTimeout, Endpoint: norm, Err: err}
			}
			continue
		}

		return g.finish(norm, resp, start)
	}
	return nil, &Error{Kind: KindRateLimited, Endpoint: norm, Err: errors.New("retry budget exhausted")}
}

func (g *Gateway) dispatch(ctx context.Context, endpoint string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	return g.client.Do(req)
}

func (g *Gateway) finish(norm string, resp *http.Response, start time.Time) (*Response, error) {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		drain(resp)
		return nil, &Error{Kind: KindConfig, Endpoint: norm, Status: resp.StatusCode, Err: errors.New("provider rejected credentials")}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &Error{Kind: KindProvider, Endpoint: norm, Status: resp.StatusCode, Err: errors.New(string(b))}
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		drain(resp)
		return nil, &Error{Kind: KindContentType, Endpoint: norm, Status: resp.StatusCode,
			Err: fmt.Errorf("expected application/json, got %q", resp.Header.Get("Content-Type"))}
	}

	var data map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, &Error{Kind: KindParse, Endpoint: norm, Status: resp.StatusCode, Err: err}
	}

	g.limits.ClearCooldown(norm)

	return &Response{
		Data:     data,
		Usage:    extractUsage(data),
		Duration: g.clock.Now().Sub(start),
	}, nil
}

// extractUsage pulls token accounting out of an OpenAI-style usage block.
// Providers that report nothing yield a nil Usage, which is not an error.
func extractUsage(data map[string]interface{}) *Usage {
	raw, ok := data["usage"].(map[string]interface{})
	if !ok {
		return nil
	}
	u := &Usage{}
	if v, ok := raw["prompt_tokens"].(float64); ok {
		u.PromptTokens = int64(v)
	}
	if v, ok := raw["completion_tokens"].(float64); ok {
		u.CompletionTokens = int64(v)
	}
	if v, ok := data["model"].(string); ok {
		u.Model = v
	}
	if u.PromptTokens == 0 && u.CompletionTokens == 0 && u.Model == "" {
		return nil
	}
	return u
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
