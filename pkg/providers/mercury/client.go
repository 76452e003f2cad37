package mercury

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"mercuryhooks/pkg/auth"
)

const (
	ProductionBaseURL = "https://api.mercury.com/api/v1"
	SandboxBaseURL    = "https://api-sandbox.mercury.com/api/v1"

	DefaultTimeout = 30 * time.Second

	acceptJSON      = "application/json;charset=utf-8"
	maxErrorBodyLen = 4096
)

// Client is a thin wrapper over the Mercury REST API. It never retries;
// retry policy belongs to the caller.
type Client struct {
	baseURL string
	client  *http.Client
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	baseURL   string
	timeout   time.Duration
	transport http.RoundTripper
}

// WithBaseURL overrides the environment base URL.
func WithBaseURL(base string) Option {
	return func(o *clientOptions) {
		o.baseURL = base
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *clientOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithTransport sets the base transport under the bearer-token transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) {
		o.transport = rt
	}
}

// NewClient returns a client authenticated with creds.
func NewClient(creds auth.Credentials, opts ...Option) *Client {
	options := clientOptions{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&options)
	}
	base := options.baseURL
	if base == "" {
		base = BaseURL(creds.Environment)
	}
	transport := &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.AccessToken, TokenType: "Bearer"}),
		Base:   options.transport,
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: options.timeout, Transport: transport},
	}
}

// BaseURL returns the API root for env.
func BaseURL(env auth.Environment) string {
	if env == auth.EnvironmentSandbox {
		return SandboxBaseURL
	}
	return ProductionBaseURL
}

// ValidateToken issues a low-privilege authenticated read.
func (c *Client) ValidateToken(ctx context.Context) error {
	resp, err := c.do(ctx, "validate token", http.MethodGet, "/accounts", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return newAPIError("validate token", resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// CreateWebhook registers url as a webhook endpoint.
func (c *Client) CreateWebhook(ctx context.Context, input CreateWebhookRequest) (*Webhook, error) {
	const op = "create webhook"
	resp, err := c.do(ctx, op, http.MethodPost, "/webhooks", input)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, newAPIError(op, resp)
	}
	var out Webhook
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &out, nil
}

// GetWebhook fetches a webhook by id.
func (c *Client) GetWebhook(ctx context.Context, id string) (*Webhook, error) {
	const op = "get webhook"
	resp, err := c.do(ctx, op, http.MethodGet, "/webhooks/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(op, resp)
	}
	var out Webhook
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &out, nil
}

// DeleteWebhook removes a webhook. A 404 is returned as an APIError matching
// ErrNotFound so the caller can decide to treat it as already deleted.
func (c *Client) DeleteWebhook(ctx context.Context, id string) error {
	const op = "delete webhook"
	resp, err := c.do(ctx, op, http.MethodDelete, "/webhooks/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return newAPIError(op, resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// ListAccounts returns the accounts visible to the token.
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	const op = "list accounts"
	resp, err := c.do(ctx, op, http.MethodGet, "/accounts", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(op, resp)
	}
	var out struct {
		Accounts []Account `json:"accounts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return out.Accounts, nil
}

// GetTransaction fetches the full record of a single transaction.
func (c *Client) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	const op = "get transaction"
	if id == "" {
		return nil, errors.New("mercury transaction id is required")
	}
	resp, err := c.do(ctx, op, http.MethodGet, "/transactions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(op, resp)
	}
	var out Transaction
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload interface{}) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, &APIError{Op: op, Err: err}
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &APIError{Op: op, Err: err}
	}
	req.Header.Set("Accept", acceptJSON)
	if payload != nil {
		req.Header.Set("Content-Type", acceptJSON)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &APIError{Op: op, Err: err}
	}
	return resp, nil
}
