package adapter

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DomainClient reverse-resolves addresses against a name-service HTTP API
type DomainClient struct {
	client *resty.Client
}

// NewDomainClient creates a domain name client
func NewDomainClient(baseURL string, timeout time.Duration) *DomainClient {
	return &DomainClient{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

type reverseResponse struct {
	Name string `json:"name"`
}

// ReverseResolve returns the primary name for address, or "" when none is set.
// Bodies are decoded as JSON whatever Content-Type the upstream sends.
func (c *DomainClient) ReverseResolve(ctx context.Context, address string) (string, error) {
	var out reverseResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("address", address).
		SetResult(&out).
		ForceContentType("application/json").
		Get("/api/v1/reverse/{address}")
	if err != nil {
		return "", fmt.Errorf("domain reverse lookup: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return "", nil
	case resp.StatusCode() == http.StatusTooManyRequests:
		return "", ErrRateLimited
	case resp.IsError():
		return "", fmt.Errorf("domain reverse lookup: HTTP %d", resp.StatusCode())
	}

	return strings.TrimSpace(out.Name), nil
}

// FarcasterClient resolves social accounts through a Neynar-compatible API
type FarcasterClient struct {
	client *resty.Client
}

// NewFarcasterClient creates a social identity client
func NewFarcasterClient(baseURL, apiKey string, timeout time.Duration) *FarcasterClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetHeader("x-api-key", apiKey)
	}
	return &FarcasterClient{client: client}
}

// LookupByAddress returns the first account verified for address, or nil
func (c *FarcasterClient) LookupByAddress(ctx context.Context, address string) (*SocialProfile, error) {
	out := map[string][]SocialProfile{}
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("addresses", address).
		SetResult(&out).
		ForceContentType("application/json").
		Get("/v2/farcaster/user/bulk_by_address")
	if err != nil {
		return nil, fmt.Errorf("farcaster lookup: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode() == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.IsError():
		return nil, fmt.Errorf("farcaster lookup: HTTP %d", resp.StatusCode())
	}

	for key, profiles := range out {
		if strings.EqualFold(key, address) && len(profiles) > 0 {
			p := profiles[0]
			return &p, nil
		}
	}
	return nil, nil
}
