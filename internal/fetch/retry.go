package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"github.com/vov-code/polymarket-bot/internal/logger"
)

const (
	defaultMaxRetries = 5
	defaultBaseDelay  = 750 * time.Millisecond
	defaultMaxDelay   = 60 * time.Second
	defaultMaxJitter  = 250 * time.Millisecond
	minBaseDelay      = 50 * time.Millisecond
)

// RetryConfig encapsulates exponential backoff settings.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxJitter  time.Duration
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retrier runs a call with bounded exponential backoff.
type Retrier struct {
	cfg    RetryConfig
	sleep  SleepFunc
	jitter func(max time.Duration) time.Duration
}

// DefaultRetryConfig returns 5 retries from 750ms, capped at 60s, with up to 250ms jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: defaultMaxRetries,
		BaseDelay:  defaultBaseDelay,
		MaxDelay:   defaultMaxDelay,
		MaxJitter:  defaultMaxJitter,
	}
}

// NewRetrier constructs a Retrier, filling zero durations with defaults.
// MaxRetries is taken as given; zero disables retries.
func NewRetrier(cfg RetryConfig, sleep SleepFunc) *Retrier {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.BaseDelay < minBaseDelay {
		cfg.BaseDelay = minBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.MaxJitter < 0 {
		cfg.MaxJitter = 0
	} else if cfg.MaxJitter == 0 {
		cfg.MaxJitter = defaultMaxJitter
	}
	if sleep == nil {
		sleep = Sleep
	}
	return &Retrier{cfg: cfg, sleep: sleep, jitter: randomJitter}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// Wait returns the delay before retry number attempt (0-based): base·2^attempt
// plus jitter, raised to retryAfter when that is longer, capped at MaxDelay.
func (r *Retrier) Wait(attempt int, retryAfter time.Duration) time.Duration {
	backoff := r.cfg.MaxDelay
	if attempt < 30 {
		if b := r.cfg.BaseDelay << attempt; b > 0 && b < r.cfg.MaxDelay {
			backoff = b
		}
	}
	backoff += r.jitter(r.cfg.MaxJitter)
	wait := max(backoff, retryAfter)
	return min(wait, r.cfg.MaxDelay)
}

// Do calls fn until it succeeds, fails with a non-retryable error, or the
// retry budget is spent; the last failure is returned unchanged.
func (r *Retrier) Do(ctx context.Context, route Route, fn func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	for attempt := 0; ; attempt++ {
		body, err := fn(ctx)
		if err == nil {
			return body, nil
		}
		if attempt >= r.cfg.MaxRetries || !IsRetryable(err) {
			return nil, err
		}

		var retryAfter time.Duration
		status := 0
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			status = httpErr.Status
			if httpErr.HasRetryAfter {
				retryAfter = httpErr.RetryAfter
			}
		}

		wait := r.Wait(attempt, retryAfter)
		logger.Debug("Retry %d/%d in %v (status=%d, route=%s): %v", attempt+1, r.cfg.MaxRetries, wait, status, route, err)

		if serr := r.sleep(ctx, wait); serr != nil {
			return nil, serr
		}
	}
}
