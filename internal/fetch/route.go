package fetch

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/vov-code/polymarket-bot/internal/logger"
)

// DefaultFallbackWindow is how long the circuit pins traffic to the alternate route.
const DefaultFallbackWindow = 15 * time.Minute

// RouteState is the circuit position.
type RouteState int

const (
	StateDirect RouteState = iota
	StateForcedAlternate
)

func (s RouteState) String() string {
	if s == StateForcedAlternate {
		return "FORCED_ALTERNATE"
	}
	return "DIRECT"
}

// Transport is a single-call fetcher over a selectable route. *Client implements it.
type Transport interface {
	Fetch(ctx context.Context, rawURL string, route Route) (json.RawMessage, error)
	HasAlternate() bool
}

// Router wraps a Transport with retry and the route-fallback circuit.
//
// The first attempt goes direct. A fallback-worthy failure (blocked status or
// transport/timeout) opens a forced-alternate window and the call is retried
// once via the alternate route. Any alternate failure closes the window again
// so the next call probes direct. Safe for concurrent use; concurrent updates
// to the window only ever extend or clear it.
type Router struct {
	transport Transport
	retrier   *Retrier
	window    time.Duration
	now       func() time.Time

	forcedUntil atomic.Int64 // unix nanos; 0 = closed
}

// NewRouter builds a Router. now may be nil to use time.Now.
func NewRouter(t Transport, r *Retrier, window time.Duration, now func() time.Time) *Router {
	if window <= 0 {
		window = DefaultFallbackWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Router{transport: t, retrier: r, window: window, now: now}
}

// State reports whether calls currently skip the direct route.
func (r *Router) State() RouteState {
	if r.transport.HasAlternate() && r.now().UnixNano() < r.forcedUntil.Load() {
		return StateForcedAlternate
	}
	return StateDirect
}

// ForcedUntil returns the end of the forced-alternate window, or the zero time.
func (r *Router) ForcedUntil() time.Time {
	ns := r.forcedUntil.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Fetch retrieves rawURL through the circuit.
func (r *Router) Fetch(ctx context.Context, rawURL string) (json.RawMessage, error) {
	if !r.transport.HasAlternate() {
		return r.attempt(ctx, rawURL, RouteDirect)
	}

	if r.State() == StateForcedAlternate {
		body, err := r.attempt(ctx, rawURL, RouteAlternate)
		if err != nil && !isCallerCancel(err) {
			r.forcedUntil.Store(0)
			logger.Warn("Alternate route failed inside fallback window, closing it: %v", err)
		}
		return body, err
	}

	body, err := r.attempt(ctx, rawURL, RouteDirect)
	if err == nil {
		return body, nil
	}
	if !IsFallbackWorthy(err) {
		return nil, err
	}

	r.forcedUntil.Store(r.now().Add(r.window).UnixNano())
	logger.Warn("Direct route failed (%v), switching to alternate route for %v", err, r.window)

	body, altErr := r.attempt(ctx, rawURL, RouteAlternate)
	if altErr != nil {
		r.forcedUntil.Store(0)
		logger.Warn("Alternate route failed as well, closing fallback window: %v", altErr)
		return nil, altErr
	}
	return body, nil
}

func (r *Router) attempt(ctx context.Context, rawURL string, route Route) (json.RawMessage, error) {
	return r.retrier.Do(ctx, route, func(ctx context.Context) (json.RawMessage, error) {
		return r.transport.Fetch(ctx, rawURL, route)
	})
}
