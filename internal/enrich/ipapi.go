package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const ipAPIBaseURL = "http://ip-api.com"

// ipAPI resolves location via ip-api.com's free JSON endpoint.
type ipAPI struct {
	baseURL string
	client  *http.Client
}

// NewIPAPI creates the ip-api.com provider.
func NewIPAPI(client *http.Client) Provider {
	return &ipAPI{baseURL: ipAPIBaseURL, client: client}
}

// NewIPAPIWithBaseURL creates the provider against a custom base URL (tests).
func NewIPAPIWithBaseURL(client *http.Client, baseURL string) Provider {
	return &ipAPI{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (p *ipAPI) Name() string { return "ip-api" }

func (p *ipAPI) Resolve(ctx context.Context) (LocationInfo, error) {
	url := p.baseURL + "/json/?fields=status,message,country,countryCode,region,regionName,city,zip,lat,lon,timezone,isp,org,as,query"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
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
		Status      string  `json:"status"`
		Message     string  `json:"message"`
		Country     string  `json:"country"`
		CountryCode string  `json:"countryCode"`
		RegionName  string  `json:"regionName"`
		City        string  `json:"city"`
		Lat         float64 `json:"lat"`
		Lon         float64 `json:"lon"`
		ISP         string  `json:"isp"`
		Query       string  `json:"query"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return LocationInfo{}, &LocationError{Provider: p.Name(), Kind: KindMalformed, Err: err}
	}
	if body.Status != "success" {
		return LocationInfo{}, &LocationError{
			Provider: p.Name(), Kind: KindMalformed,
			Err: fmt.Errorf("service reported %q: %s", body.Status, body.Message),
		}
	}

	return LocationInfo{
		Resolved:    true,
		City:        body.City,
		Region:      body.RegionName,
		Country:     body.Country,
		CountryCode: body.CountryCode,
		Latitude:    body.Lat,
		Longitude:   body.Lon,
		ISP:         body.ISP,
		IP:          body.Query,
		Provider:    p.Name(),
	}, nil
}
