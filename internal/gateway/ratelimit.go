package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Clock abstracts time so tests can drive rate limiting deterministically.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

type endpointState struct {
	lastRequest   time.Time
	cooldownUntil time.Time
}

// RateLimitStore tracks per-endpoint request times and cooldowns. It is the
// only state shared across concurrent orchestration runs, so every
// read-modify-write happens under the mutex.
type RateLimitStore struct {
	mu      sync.Mutex
	clock   Clock
	spacing time.Duration
	states  map[string]*endpointState
}

// NewRateLimitStore builds a store enforcing the given inter-request spacing.
func NewRateLimitStore(clock Clock, spacing time.Duration) *RateLimitStore {
	if clock == nil {
		clock = realClock{}
	}
	return &RateLimitStore{
		clock:   clock,
		spacing: spacing,
		states:  make(map[string]*endpointState),
	}
}

// Acquire blocks until the endpoint is clear of any active cooldown and the
// minimum spacing from the previous request has elapsed, then records the
// request time.
func (s *RateLimitStore) Acquire(ctx context.Context, endpoint string) error {
	for {
		s.mu.Lock()
		st, ok := s.states[endpoint]
		if !ok {
			st = &endpointState{}
			s.states[endpoint] = st
		}
		now := s.clock.Now()
		wait := time.Duration(0)
		if st.cooldownUntil.After(now) {
			wait = st.cooldownUntil.Sub(now)
		}
		if !st.lastRequest.IsZero() {
			if spacingWait := st.lastRequest.Add(s.spacing).Sub(now); spacingWait > wait {
				wait = spacingWait
			}
		}
		if wait <= 0 {
			st.lastRequest = now
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()
		if err := s.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// SetCooldown suppresses calls to the endpoint until the given time.
func (s *RateLimitStore) SetCooldown(endpoint string, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[endpoint]
	if !ok {
		st = &endpointState{}
		s.states[endpoint] = st
	}
	st.cooldownUntil = until
}

// ClearCooldown lifts any active cooldown; a successful call is evidence the
// throttle has passed.
func (s *RateLimitStore) ClearCooldown(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[endpoint]; ok {
		st.cooldownUntil = time.Time{}
	}
}

// NormalizeEndpoint reduces a URL to its scheme+host+path identity so rate
// limit state is shared across calls that differ only in query or body.
func NormalizeEndpoint(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid endpoint %q: missing scheme or host", raw)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + u.Path, nil
}

// parseRetryAfter interprets a Retry-After header value as either a plain
// second count or an HTTP-date, returning a relative delay floored at zero.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
