package configsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultCoreURL = "http://supervisor/core"

// URLs are the public addresses Home Assistant core is reachable under.
type URLs struct {
	External string
	Internal string
}

// Preferred returns the address the cloud should call back on.
func (u URLs) Preferred() string {
	if u.External != "" {
		return u.External
	}
	return u.Internal
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultCoreURL
	}
	return &Client{
		baseURL: baseURL,
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type coreConfigResponse struct {
	ExternalURL *string `json:"external_url"`
	InternalURL *string `json:"internal_url"`
}

// FetchURLs reads external_url and internal_url from the core config API.
func (c *Client) FetchURLs(ctx context.Context) (URLs, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/config", nil)
	if err != nil {
		return URLs{}, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return URLs{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return URLs{}, fmt.Errorf("core config fetch status %d: %s", resp.StatusCode, string(body))
	}

	var payload coreConfigResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return URLs{}, err
	}
	return URLs{
		External: trimURL(payload.ExternalURL),
		Internal: trimURL(payload.InternalURL),
	}, nil
}

func trimURL(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSuffix(strings.TrimSpace(*v), "/")
}
