// execution/client.go
package execution

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"auto_guard_go/logs"
)

// Ensure APIClient implements the Client interface.
var _ Client = (*APIClient)(nil)

// APIClient talks to the execution gateway's REST API with HMAC-signed
// requests.
type APIClient struct {
	ApiKey    string
	ApiSecret string
	BaseURL   string
	Http      *http.Client
	mu        sync.Mutex
}

// apiError is the gateway's error response body.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// NewAPIClient creates a new execution gateway client.
func NewAPIClient(apiKey, apiSecret, baseURL string, timeoutSeconds int) *APIClient {
	return &APIClient{
		ApiKey:    apiKey,
		ApiSecret: apiSecret,
		BaseURL:   baseURL,
		Http:      &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
	}
}

// sendRequest signs and sends one request. The mutex serializes requests
// through this client instance so the http connection pool and signing state
// are never raced.
func (c *APIClient) sendRequest(ctx context.Context, method, endpoint string, params url.Values) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	queryString := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.ApiSecret))
	mac.Write([]byte(queryString))
	signature := hex.EncodeToString(mac.Sum(nil))

	fullURL := fmt.Sprintf("%s%s?%s&signature=%s", c.BaseURL, endpoint, queryString, signature)
	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}
	req.Header.Set("X-API-KEY", c.ApiKey)

	resp, err := c.Http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body from %s: %w", endpoint, err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return fmt.Errorf("gateway error on %s: code=%d msg=%s", endpoint, apiErr.Code, apiErr.Msg)
		}
		return fmt.Errorf("gateway error on %s: HTTP %d, body: %s", endpoint, resp.StatusCode, string(body))
	}

	return nil
}

func (c *APIClient) ClosePositions(ctx context.Context, strategyID string) error {
	params := url.Values{}
	params.Set("strategyId", strategyID)
	logs.Infof("[Execution] Issuing close-positions for strategy %s", strategyID)
	return c.sendRequest(ctx, http.MethodPost, "/api/v1/positions/close", params)
}

func (c *APIClient) CloseAllPositions(ctx context.Context) error {
	logs.Warnf("[Execution] Issuing close-all-positions")
	return c.sendRequest(ctx, http.MethodPost, "/api/v1/positions/closeAll", nil)
}

func (c *APIClient) CancelAllOrders(ctx context.Context) error {
	logs.Warnf("[Execution] Issuing cancel-all-orders")
	return c.sendRequest(ctx, http.MethodDelete, "/api/v1/orders", nil)
}

func (c *APIClient) DisconnectVenues(ctx context.Context) error {
	logs.Warnf("[Execution] Issuing venue disconnect")
	return c.sendRequest(ctx, http.MethodPost, "/api/v1/venues/disconnect", nil)
}
