package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPAdapterExecuteSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "secret-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"matches": 3}`))
	}))
	defer server.Close()

	t.Setenv("CUB_TEST_HTTP_TOKEN", "secret-token")
	cfg := ToolConfig{
		ID:          "search-tool",
		AdapterType: AdapterHTTP,
		HTTP: &HTTPConfig{
			BaseURL:    server.URL,
			Endpoints:  map[string]string{"search": "/search"},
			AuthHeader: "Authorization",
			AuthEnvVar: "CUB_TEST_HTTP_TOKEN",
		},
	}

	adapter := NewHTTPAdapter()
	result := adapter.Execute(context.Background(), cfg, "search", map[string]any{"q": "foo"}, 5)
	require.True(t, result.Success)
	assert.Equal(t, map[string]any{"matches": float64(3)}, result.Output)
}

func TestHTTPAdapterClassifiesUnauthorizedAsAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`denied`))
	}))
	defer server.Close()

	cfg := ToolConfig{
		ID:          "search-tool",
		AdapterType: AdapterHTTP,
		HTTP:        &HTTPConfig{BaseURL: server.URL, Endpoints: map[string]string{"search": "/search"}},
	}

	adapter := NewHTTPAdapter()
	result := adapter.Execute(context.Background(), cfg, "search", nil, 5)
	assert.False(t, result.Success)
	assert.Equal(t, ErrorAuth, result.ErrorType)
}

func TestHTTPAdapterUnknownActionFailsWithoutRequest(t *testing.T) {
	cfg := ToolConfig{
		ID:          "search-tool",
		AdapterType: AdapterHTTP,
		HTTP:        &HTTPConfig{BaseURL: "http://example.invalid", Endpoints: map[string]string{"search": "/search"}},
	}
	adapter := NewHTTPAdapter()
	result := adapter.Execute(context.Background(), cfg, "missing-action", nil, 5)
	assert.False(t, result.Success)
	assert.Equal(t, ErrorOther, result.ErrorType)
}
