package providers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientStatusMapping(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantCat     ErrorCategory
		wantMessage string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"message":"bad key"}`, ErrorAuthentication, "bad key"},
		{"rate limited", http.StatusTooManyRequests, `{"msg":"slow down"}`, ErrorRateLimited, "slow down"},
		{"gateway timeout", http.StatusGatewayTimeout, ``, ErrorTimeout, "Gateway Timeout"},
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, ErrorProviderOutage, "boom"},
		{"client error with text body", http.StatusBadRequest, `invalid pan`, ErrorBadData, "invalid pan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			client := NewHTTPClient("test", srv.URL, "", time.Second)
			err := client.PostJSON(context.Background(), "/x", map[string]string{"a": "b"}, nil)
			require.Error(t, err)
			assert.Equal(t, tt.wantCat, GetCategory(err))
			assert.Equal(t, tt.wantMessage, MessageOf(err))
		})
	}
}

func TestHTTPClientDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/lookups/job-1", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get(APIKeyHeader))
		_, _ = io.WriteString(w, `{"status":"completed"}`)
	}))
	defer srv.Close()

	client := NewHTTPClient("test", srv.URL+"/", "k", time.Second)
	var out struct {
		Status string `json:"status"`
	}
	require.NoError(t, client.GetJSON(context.Background(), "/lookups/job-1", &out))
	assert.Equal(t, "completed", out.Status)
}

func TestHTTPClientMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{not json`)
	}))
	defer srv.Close()

	var out map[string]any
	err := NewHTTPClient("test", srv.URL, "", time.Second).GetJSON(context.Background(), "/", &out)
	assert.Equal(t, ErrorContractMismatch, GetCategory(err))
}

func TestHTTPClientTimeoutAndOutage(t *testing.T) {
	t.Run("slow provider times out", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			<-release
		}))
		defer srv.Close()
		defer close(release)

		err := NewHTTPClient("test", srv.URL, "", 50*time.Millisecond).GetJSON(context.Background(), "/", nil)
		assert.Equal(t, ErrorTimeout, GetCategory(err))
		assert.True(t, IsRetryable(err))
	})

	t.Run("unreachable provider is an outage", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		err := NewHTTPClient("test", url, "", time.Second).GetJSON(context.Background(), "/", nil)
		assert.Equal(t, ErrorProviderOutage, GetCategory(err))
	})
}
