package dash

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultEndpoints are the collectors used when none are configured.
var DefaultEndpoints = []string{
	"https://dash-collector.fiveruns.com",
	"https://dash-collector02.fiveruns.com",
}

// Endpoint is one delivery destination.
type Endpoint struct {
	URL *url.URL
}

// IsHTTP reports whether the endpoint is delivered to over the network.
func (e Endpoint) IsHTTP() bool {
	return strings.HasPrefix(strings.ToLower(e.URL.Scheme), "http")
}

// String returns the endpoint URI.
func (e Endpoint) String() string {
	return e.URL.String()
}

// ParseEndpoint parses one destination URI.
func ParseEndpoint(raw string) (Endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Endpoint{}, fmt.Errorf("parsing endpoint %q: %w", raw, err)
	}
	if u.Scheme == "" && u.Path == "" && u.Host == "" {
		return Endpoint{}, fmt.Errorf("empty endpoint %q", raw)
	}
	return Endpoint{URL: u}, nil
}

// ParseEndpoints parses a comma separated list of URIs, keeping their order.
func ParseEndpoints(list string) ([]Endpoint, error) {
	var endpoints []Endpoint
	for _, raw := range strings.Split(list, ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		ep, err := ParseEndpoint(raw)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}
