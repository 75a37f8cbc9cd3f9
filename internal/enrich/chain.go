package enrich

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Chain iterates providers in order until one resolves. Each attempt is
// bounded by the per-provider timeout; the chain itself is the only retry
// mechanism. The last successful resolution is cached for cacheTTL so
// frequent capture cadences don't hammer the providers; the cache is
// invalidated when the whole chain fails.
//
// Chain is not safe for concurrent use; the pipeline drives it from a single
// control loop.
type Chain struct {
	providers []Provider
	timeout   time.Duration
	cacheTTL  time.Duration
	logger    *slog.Logger

	cached   LocationInfo
	cachedAt time.Time
	now      func() time.Time
}

// NewChain builds a Chain. timeout bounds each provider attempt; cacheTTL
// bounds reuse of the last successful resolution (floored at 30s).
func NewChain(providers []Provider, timeout, cacheTTL time.Duration) *Chain {
	if cacheTTL < 30*time.Second {
		cacheTTL = 30 * time.Second
	}
	return &Chain{
		providers: providers,
		timeout:   timeout,
		cacheTTL:  cacheTTL,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// Resolve walks the provider chain. It never returns an error: exhaustion
// yields the unresolved sentinel carrying the last failure.
func (c *Chain) Resolve(ctx context.Context) LocationInfo {
	if !c.cachedAt.IsZero() && c.now().Sub(c.cachedAt) < c.cacheTTL {
		return c.cached
	}

	var lastErr *LocationError
	for _, p := range c.providers {
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		start := c.now()
		info, err := p.Resolve(pctx)
		cancel()

		if err == nil {
			info.Latency = c.now().Sub(start)
			c.cached = info
			c.cachedAt = c.now()
			return info
		}

		var locErr *LocationError
		if !errors.As(err, &locErr) {
			locErr = &LocationError{Provider: p.Name(), Kind: KindUnreachable, Err: err}
		}
		lastErr = locErr
		c.logger.Warn("location provider failed",
			"provider", p.Name(),
			"kind", locErr.Kind.String(),
			"error", err,
		)

		if ctx.Err() != nil {
			break
		}
	}

	// Whole chain failed: drop the stale cache entry.
	c.cachedAt = time.Time{}

	if lastErr == nil {
		return Unresolved("no location providers configured")
	}
	return Unresolved(lastErr.Error())
}
