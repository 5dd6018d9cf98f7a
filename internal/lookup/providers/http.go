package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// APIKeyHeader carries the provider credential on every request.
const APIKeyHeader = "X-API-Key"

const maxBodyBytes = 1 << 20

// HTTPClient is the JSON transport shared by the HTTP providers. Failures are
// returned as *ProviderError.
type HTTPClient struct {
	providerID string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPClient(providerID, baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		providerID: providerID,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) PostJSON(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

func (c *HTTPClient) GetJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return NewProviderError(ErrorInternal, c.providerID, "failed to encode request", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return NewProviderError(ErrorInternal, c.providerID, "failed to create request", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return NewProviderError(ErrorTimeout, c.providerID, "provider request timed out", err)
		}
		return NewProviderError(ErrorProviderOutage, c.providerID, "provider unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return NewProviderError(ErrorProviderOutage, c.providerID, "failed to read provider response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return NewProviderError(ErrorContractMismatch, c.providerID, "provider returned malformed JSON", err)
	}
	return nil
}

func (c *HTTPClient) statusError(status int, raw []byte) error {
	message := providerMessage(raw)
	if message == "" {
		message = http.StatusText(status)
	}
	cause := fmt.Errorf("http status %d", status)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewProviderError(ErrorAuthentication, c.providerID, message, cause)
	case status == http.StatusTooManyRequests:
		return NewProviderError(ErrorRateLimited, c.providerID, message, cause)
	case status == http.StatusGatewayTimeout:
		return NewProviderError(ErrorTimeout, c.providerID, message, cause)
	case status >= 500:
		return NewProviderError(ErrorProviderOutage, c.providerID, message, cause)
	default:
		return NewProviderError(ErrorBadData, c.providerID, message, cause)
	}
}

// providerMessage pulls a human message out of an error body, if any.
func providerMessage(raw []byte) string {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return strings.TrimSpace(string(raw))
	}
	for _, key := range []string{"message", "msg", "error"} {
		if s, ok := body[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
