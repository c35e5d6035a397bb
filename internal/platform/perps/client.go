package perps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/flowquant/flowrisk/internal/crypto"
)

// Client is the REST client for the perp venue API.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

// NewClient creates a new perp REST client.
//
// baseURL is the API root, e.g. "https://fapi.binance.com". auth may be nil
// for public-only usage; signed endpoints then return an error.
func NewClient(baseURL string, auth *crypto.HMACAuth) *Client {
	return &Client{
		baseURL: baseURL,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Signed reports whether the client carries credentials for the signed
// account endpoints.
func (c *Client) Signed() bool {
	return c.auth != nil
}

// GetMarkPrice returns the current premium-index snapshot for a symbol,
// including the mark price and the live funding rate.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (MarkPrice, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.doPublicRequest(ctx, "/fapi/v1/premiumIndex", params)
	if err != nil {
		return MarkPrice{}, fmt.Errorf("perps: get mark price %s: %w", symbol, err)
	}

	var resp premiumIndexResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return MarkPrice{}, fmt.Errorf("perps: decode mark price: %w", err)
	}
	return resp.toMarkPrice()
}

// GetFundingHistory returns up to limit recent funding settlements for a
// symbol, oldest first as delivered by the venue.
func (c *Client) GetFundingHistory(ctx context.Context, symbol string, limit int) ([]FundingPayment, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.doPublicRequest(ctx, "/fapi/v1/fundingRate", params)
	if err != nil {
		return nil, fmt.Errorf("perps: get funding history %s: %w", symbol, err)
	}

	var resp []fundingRateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("perps: decode funding history: %w", err)
	}

	payments := make([]FundingPayment, 0, len(resp))
	for _, r := range resp {
		p, err := r.toFundingPayment()
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, nil
}

// GetAccountPosition returns the venue's view of the open position for a
// symbol. Requires API credentials. A flat book yields a zero-size position
// rather than an error.
func (c *Client) GetAccountPosition(ctx context.Context, symbol string) (AccountPosition, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.doSignedRequest(ctx, "/fapi/v2/positionRisk", params)
	if err != nil {
		return AccountPosition{}, fmt.Errorf("perps: get account position %s: %w", symbol, err)
	}

	var resp []positionRiskResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return AccountPosition{}, fmt.Errorf("perps: decode account position: %w", err)
	}

	for _, r := range resp {
		if r.Symbol == symbol {
			return r.toAccountPosition()
		}
	}
	return AccountPosition{Symbol: symbol}, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) doPublicRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}
	return c.do(ctx, fullURL, nil)
}

func (c *Client) doSignedRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if c.auth == nil {
		return nil, fmt.Errorf("API credentials not configured")
	}

	fullURL := c.baseURL + path + "?" + c.auth.SignQuery(params.Encode())
	return c.do(ctx, fullURL, c.auth.Headers())
}

func (c *Client) do(ctx context.Context, fullURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkStatus maps non-2xx HTTP status codes to errors carrying the venue's
// error code and message when present.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr errorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("unauthorized: %s (%d)", apiErr.Message, apiErr.Code)
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limited: %s (%d)", apiErr.Message, apiErr.Code)
	case http.StatusBadRequest:
		return fmt.Errorf("bad request: %s (%d)", apiErr.Message, apiErr.Code)
	default:
		return fmt.Errorf("HTTP %d: %s (%d)", statusCode, apiErr.Message, apiErr.Code)
	}
}
