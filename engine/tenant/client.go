package tenant

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client is the Source backed by the remote tenant-configuration service.
type Client struct {
	http *resty.Client
}

// NewClient builds a configuration-service client. The timeout bounds a
// single load; the resolver layers its own per-call deadline on top via ctx.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &Client{http: client}
}

func (c *Client) Load(ctx context.Context, tenantID string) (*Config, error) {
	cfg := &Config{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(cfg).
		SetPathParam("tenant_id", tenantID).
		Get("/tenants/{tenant_id}/config")
	if err != nil {
		return nil, fmt.Errorf("tenant: load config for %q: %w", tenantID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("tenant: config service returned %s for %q", resp.Status(), tenantID)
	}
	if cfg.TenantID == "" {
		cfg.TenantID = tenantID
	}
	return cfg, nil
}
