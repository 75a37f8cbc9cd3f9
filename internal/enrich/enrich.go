// Package enrich attaches contextual metadata to captures: host/system
// metrics and an approximate, public-IP-derived location resolved through an
// ordered chain of geolocation providers.
package enrich

import (
	"context"
	"fmt"
	"time"
)

// LocationInfo is the normalized result of a geolocation lookup. It is
// immutable once produced. An unresolved LocationInfo (Resolved == false)
// carries the failure reason instead of coordinates.
type LocationInfo struct {
	Resolved    bool
	City        string
	Region      string
	Country     string
	CountryCode string
	Latitude    float64
	Longitude   float64
	ISP         string
	IP          string
	Provider    string
	Latency     time.Duration
	FailReason  string
}

// Unresolved returns the sentinel LocationInfo for a failed or disabled lookup.
func Unresolved(reason string) LocationInfo {
	return LocationInfo{FailReason: reason}
}

// MapsLink returns a Google Maps URL for the coordinates, or "" when unresolved.
func (l LocationInfo) MapsLink() string {
	if !l.Resolved {
		return ""
	}
	return fmt.Sprintf("https://maps.google.com/?q=%f,%f", l.Latitude, l.Longitude)
}

// Service is the enrichment facade used by the pipeline: one location lookup
// (never fatal) and one system snapshot per tick.
type Service struct {
	chain   *Chain
	enabled bool
}

// NewService wraps a provider chain. When enabled is false, Location returns
// the disabled sentinel without touching the network.
func NewService(chain *Chain, enabled bool) *Service {
	return &Service{chain: chain, enabled: enabled}
}

// Location resolves the approximate location, consulting the chain's cache
// first. It never returns an error; failures degrade to an unresolved value.
func (s *Service) Location(ctx context.Context) LocationInfo {
	if !s.enabled || s.chain == nil {
		return Unresolved("location capture disabled")
	}
	return s.chain.Resolve(ctx)
}

// System returns the current host snapshot.
func (s *Service) System() SystemInfo {
	return CollectSystemInfo()
}
