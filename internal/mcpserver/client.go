package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mbd888/chainwatch/internal/address"
	"github.com/mbd888/chainwatch/internal/risk"
	"github.com/mbd888/chainwatch/internal/tracker"
)

// Config holds the configuration for connecting to the chainwatch API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	APIKey string // Optional bearer token for a fronting proxy
}

// Client is a pure HTTP client for the chainwatch API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new API client. Sync and assessment can take as long
// as the server's sync timeout, so the HTTP timeout is generous.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request and decodes the JSON response into out.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ValidateAddress checks an address against a chain's format.
func (c *Client) ValidateAddress(ctx context.Context, chain, addr string) (address.Result, error) {
	var resp struct {
		Result address.Result `json:"result"`
	}
	q := url.Values{"chain": {chain}, "address": {addr}}
	err := c.doRequest(ctx, http.MethodGet, "/v1/addresses/validate", q, nil, &resp)
	return resp.Result, err
}

// SyncWallet fetches new transactions for every address of a wallet.
func (c *Client) SyncWallet(ctx context.Context, walletID string) (*tracker.SyncResult, error) {
	var resp struct {
		Sync *tracker.SyncResult `json:"sync"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/v1/wallets/"+url.PathEscape(walletID)+"/sync", nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Sync == nil {
		return nil, fmt.Errorf("empty sync response")
	}
	return resp.Sync, nil
}

// AssessWallet runs a fresh risk assessment.
func (c *Client) AssessWallet(ctx context.Context, walletID string) (*risk.Assessment, error) {
	return c.assessment(ctx, http.MethodPost, "/v1/wallets/"+url.PathEscape(walletID)+"/assess")
}

// GetWalletRisk returns the stored assessment.
func (c *Client) GetWalletRisk(ctx context.Context, walletID string) (*risk.Assessment, error) {
	return c.assessment(ctx, http.MethodGet, "/v1/wallets/"+url.PathEscape(walletID)+"/risk")
}

func (c *Client) assessment(ctx context.Context, method, path string) (*risk.Assessment, error) {
	var resp struct {
		Assessment *risk.Assessment `json:"assessment"`
	}
	if err := c.doRequest(ctx, method, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Assessment == nil {
		return nil, fmt.Errorf("empty assessment response")
	}
	return resp.Assessment, nil
}

// ListHighRisk lists wallets scoring at least minScore.
func (c *Client) ListHighRisk(ctx context.Context, minScore float64, limit int) ([]tracker.HighRiskWallet, error) {
	q := url.Values{}
	if minScore > 0 {
		q.Set("minScore", strconv.FormatFloat(minScore, 'f', -1, 64))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Wallets []tracker.HighRiskWallet `json:"wallets"`
	}
	err := c.doRequest(ctx, http.MethodGet, "/v1/risk/high", q, nil, &resp)
	return resp.Wallets, err
}
