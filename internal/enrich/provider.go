package enrich

import (
	"context"
	"log/slog"
	"net/http"
)

// Provider resolves the host's approximate location from its public IP.
// Implementations classify their own failures as *LocationError; the chain
// is the only retry mechanism, so a Resolve must make exactly one attempt.
type Provider interface {
	Name() string
	Resolve(ctx context.Context) (LocationInfo, error)
}

// ProvidersFor maps configured provider names to implementations, preserving
// order. Unknown names are logged and skipped.
func ProvidersFor(names []string, client *http.Client) []Provider {
	var out []Provider
	for _, name := range names {
		switch name {
		case "ip-api", "ipapi", "geolocation":
			out = append(out, NewIPAPI(client))
		case "ipapi.co", "ipapi_co":
			out = append(out, NewIPAPICo(client))
		default:
			slog.Warn("unknown location provider, skipping", "provider", name)
		}
	}
	return out
}
