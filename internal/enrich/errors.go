package enrich

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies provider failures. The chain treats all kinds the same
// (fall through to the next provider); the distinction exists for logging
// and for the unresolved sentinel's reason.
type Kind int

const (
	KindTimeout Kind = iota
	KindRateLimited
	KindMalformed
	KindUnreachable
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindMalformed:
		return "malformed"
	case KindUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// LocationError is a classified failure from a single provider attempt.
type LocationError struct {
	Provider string
	Kind     Kind
	Err      error
}

func (e *LocationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *LocationError) Unwrap() error { return e.Err }

// classifyTransport maps a transport-level error from an HTTP round trip to
// Timeout or Unreachable.
func classifyTransport(provider string, err error) *LocationError {
	kind := KindUnreachable
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &LocationError{Provider: provider, Kind: kind, Err: err}
}
