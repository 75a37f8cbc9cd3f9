package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const ipAPICoBaseURL = "https://ipapi.co"

// ipAPICo resolves location via ipapi.co. Its free tier rate-limits
// aggressively, which is why it sits behind ip-api in the default chain.
type ipAPICo struct {
	baseURL string
	client  *http.Client
}

// NewIPAPICo creates the ipapi.co provider.
func NewIPAPICo(client *http.Client) Provider {
	return &ipAPICo{baseURL: ipAPICoBaseURL, client: client}
}

// NewIPAPICoWithBaseURL creates the provider against a custom base URL (tests).
func NewIPAPICoWithBaseURL(client *http.Client, baseURL string) Provider {
	return &ipAPICo{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (p *ipAPICo) Name() string { return "ipapi.co" }

func (p *ipAPICo) Resolve(ctx context.Context) (LocationInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/json/", nil)
	if err != nil {
		return LocationInfo{}, &LocationError{Provider: p.Name(), Kind: KindUnreachable, Err: err}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return LocationInfo{}, classifyTransport(p.Name(), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return LocationInfo{}, &LocationError{Provider: p.Name(), Kind: KindRateLimited}
	case resp.StatusCode != http.StatusOK:
		return LocationInfo{}, &LocationError{
			Provider: p.Name(), Kind: KindUnreachable,
			Err: fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}

	var body struct {
		Latitude    float64 `json:"latitude"`
		Longitude   float64 `json:"longitude"`
		City        string  `json:"city"`
		Region      string  `json:"region"`
		CountryName string  `json:"country_name"`
		CountryCode string  `json:"country_code"`
		Org         string  `json:"org"`
		IP          string  `json:"ip"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return LocationInfo{}, &LocationError{Provider: p.Name(), Kind: KindMalformed, Err: err}
	}
	if body.IP == "" {
		return LocationInfo{}, &LocationError{
			Provider: p.Name(), Kind: KindMalformed,
			Err: fmt.Errorf("response missing ip field"),
		}
	}

	return LocationInfo{
		Resolved:    true,
		City:        body.City,
		Region:      body.Region,
		Country:     body.CountryName,
		CountryCode: body.CountryCode,
		Latitude:    body.Latitude,
		Longitude:   body.Longitude,
		ISP:         body.Org,
		IP:          body.IP,
		Provider:    p.Name(),
	}, nil
}
