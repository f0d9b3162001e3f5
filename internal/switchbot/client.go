package switchbot

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/micro-ha/switchbot-cloud/internal/model"
)

const (
	DefaultBaseURL   = "https://api.switch-bot.com"
	defaultTimeout   = 10 * time.Second
	maxRetryAttempts = 3
)

// Client talks to the SwitchBot Cloud API v1.1.
type Client struct {
	token      string
	secret     string
	baseURL    string
	httpClient *http.Client

	now     func() time.Time
	nonce   func() string
	sleepFn func(ctx context.Context, wait time.Duration) error
}

func NewClient(token, secret string) *Client {
	return NewClientWithURL(token, secret, DefaultBaseURL, nil)
}

func NewClientWithURL(token, secret, baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = defaultTimeout
	}
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		token:      strings.TrimSpace(token),
		secret:     strings.TrimSpace(secret),
		baseURL:    baseURL,
		httpClient: httpClient,
		now:        time.Now,
		nonce:      uuid.NewString,
		sleepFn:    sleepContext,
	}
}

// ListDevices returns physical devices followed by IR remotes.
func (c *Client) ListDevices(ctx context.Context) ([]model.Device, error) {
	var body deviceListBody
	if err := c.call(ctx, http.MethodGet, "/v1.1/devices", nil, &body); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return mapDevices(body), nil
}

// DeviceStatus fetches the current status object of one device.
func (c *Client) DeviceStatus(ctx context.Context, deviceID string) (model.Snapshot, error) {
	var body model.Snapshot
	path := "/v1.1/devices/" + url.PathEscape(deviceID) + "/status"
	if err := c.call(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, fmt.Errorf("device %s status: %w", deviceID, err)
	}
	if body == nil {
		body = model.Snapshot{}
	}
	return body, nil
}

func (c *Client) GetWebhookConfiguration(ctx context.Context) (WebhookConfiguration, error) {
	var body WebhookConfiguration
	payload := map[string]any{"action": "queryUrl"}
	if err := c.call(ctx, http.MethodPost, "/v1.1/webhook/queryWebhook", payload, &body); err != nil {
		return WebhookConfiguration{}, fmt.Errorf("query webhook: %w", err)
	}
	return body, nil
}

func (c *Client) SetupWebhook(ctx context.Context, webhookURL string) error {
	payload := map[string]any{"action": "setupWebhook", "url": webhookURL, "deviceList": "ALL"}
	if err := c.call(ctx, http.MethodPost, "/v1.1/webhook/setupWebhook", payload, nil); err != nil {
		return fmt.Errorf("setup webhook: %w", err)
	}
	return nil
}

func (c *Client) DeleteWebhook(ctx context.Context, webhookURL string) error {
	payload := map[string]any{"action": "deleteWebhook", "url": webhookURL}
	if err := c.call(ctx, http.MethodPost, "/v1.1/webhook/deleteWebhook", payload, nil); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, payload any, out any) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = encoded
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetryAttempts; attempt++ {
		err := c.do(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == maxRetryAttempts {
			break
		}
		if sleepErr := c.sleepFn(ctx, time.Duration(attempt)*400*time.Millisecond); sleepErr != nil {
			return fmt.Errorf("%w: %w", ErrCannotConnect, sleepErr)
		}
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	c.sign(req)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf8")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCannotConnect, err)
	}
	defer resp.Body.Close()

	if classified := classifyHTTPStatus(resp.StatusCode); classified != nil {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%w: status %d: %s", classified, resp.StatusCode, string(snippet))
	}
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return &APIError{Endpoint: path, StatusCode: resp.StatusCode, Message: string(snippet)}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if env.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrInvalidAuth, env.Message)
	}
	if env.StatusCode != statusSuccess {
		return &APIError{Endpoint: path, StatusCode: env.StatusCode, Message: env.Message}
	}
	if out == nil || len(env.Body) == 0 || string(env.Body) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Body, out); err != nil {
		return fmt.Errorf("decode %s body: %w", path, err)
	}
	return nil
}

// sign adds the v1.1 authentication headers.
func (c *Client) sign(req *http.Request) {
	t := strconv.FormatInt(c.now().UnixMilli(), 10)
	nonce := c.nonce()

	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(c.token + t + nonce))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("Authorization", c.token)
	req.Header.Set("sign", signature)
	req.Header.Set("nonce", nonce)
	req.Header.Set("t", t)
}

func sleepContext(ctx context.Context, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsAuthError reports whether err means the credentials were rejected.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrInvalidAuth)
}
