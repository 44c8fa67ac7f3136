package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// HTTPAdapter executes tools described by an HTTPConfig against a real
// HTTP endpoint.
type HTTPAdapter struct {
	client *http.Client
}

// NewHTTPAdapter builds an adapter with a reasonable default client. A
// per-call timeout is still applied via context, so the client's own
// Timeout is left at zero.
func NewHTTPAdapter() *HTTPAdapter {
	return &HTTPAdapter{client: &http.Client{}}
}

func (a *HTTPAdapter) AdapterType() AdapterType { return AdapterHTTP }

func (a *HTTPAdapter) IsAvailable(ctx context.Context, cfg ToolConfig) bool {
	return cfg.HTTP != nil && cfg.HTTP.BaseURL != ""
}

func (a *HTTPAdapter) HealthCheck(ctx context.Context) bool { return true }

func (a *HTTPAdapter) Execute(ctx context.Context, cfg ToolConfig, action string, params map[string]any, timeout float64) ToolResult {
	result := startResult(cfg.ID, action, AdapterHTTP)
	result.StartedAt = time.Now()

	if cfg.HTTP == nil {
		return failHTTP(result, ErrorOther, "tool has no HTTP config")
	}
	endpoint, ok := cfg.HTTP.Endpoints[action]
	if !ok {
		return failHTTP(result, ErrorOther, fmt.Sprintf("no endpoint registered for action %q", action))
	}

	body, err := json.Marshal(params)
	if err != nil {
		return failHTTP(result, ErrorOther, err.Error())
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout*float64(time.Second)))
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.HTTP.BaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return failHTTP(result, ErrorOther, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.HTTP.Headers {
		req.Header.Set(k, v)
	}
	if cfg.HTTP.AuthHeader != "" && cfg.HTTP.AuthEnvVar != "" {
		if token := os.Getenv(cfg.HTTP.AuthEnvVar); token != "" {
			req.Header.Set(cfg.HTTP.AuthHeader, token)
		}
	}

	resp, err := a.client.Do(req)
	result.DurationMS = time.Since(result.StartedAt).Milliseconds()
	if err != nil {
		if ctx.Err() != nil {
			return failHTTP(result, ErrorTimeout, "request timed out")
		}
		return failHTTP(result, ErrorNetwork, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return failHTTP(result, ErrorNetwork, err.Error())
	}

	if resp.StatusCode >= 400 {
		return failHTTP(result, classifyHTTPStatus(resp.StatusCode), fmt.Sprintf("http %d: %s", resp.StatusCode, string(raw)))
	}

	var parsed any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			parsed = string(raw)
		}
	}
	result.Output = parsed
	result.Success = true
	return result
}

func classifyHTTPStatus(status int) string {
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrorTimeout
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorAuth
	case status >= 500:
		return ErrorNetwork
	default:
		return ErrorOther
	}
}

func failHTTP(result ToolResult, errorType, message string) ToolResult {
	result.Success = false
	result.ErrorType = errorType
	result.Error = message
	return result
}
