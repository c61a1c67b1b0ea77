package coretools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/harun/nexus/internal/tracing"
	"github.com/harun/nexus/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteProvider_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tools/get_financial_data", r.URL.Path)
		assert.Equal(t, "sess-1", r.Header.Get("X-Session-ID"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"symbol": body["symbol"], "revenue": "$1B"})
	}))
	defer srv.Close()

	p := NewRemoteProvider(srv.URL+"/", time.Second)
	ctx := tracing.WithSessionID(context.Background(), "sess-1")
	out, err := p.Call(ctx, ToolFinancialData, map[string]interface{}{"symbol": "NVDA"})
	require.NoError(t, err)
	assert.Equal(t, "NVDA", out["symbol"])
	assert.Equal(t, "remote", p.Name())
}

func TestRemoteProvider_Classification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{name: "server error", status: http.StatusBadGateway, retryable: true},
		{name: "rate limited", status: http.StatusTooManyRequests, retryable: true},
		{name: "bad request", status: http.StatusBadRequest, retryable: false},
		{name: "not found", status: http.StatusNotFound, retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			reg := registered(t, NewRemoteProvider(srv.URL, time.Second))
			c, err := reg.Resolve(ToolFinancialData)
			require.NoError(t, err)

			_, err = toolexecutor.NewDispatcher().Invoke(context.Background(), c, map[string]interface{}{"symbol": "NVDA"}, 0)
			require.Error(t, err)
			var te *toolexecutor.ToolError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.retryable, te.Retryable())
		})
	}
}

func TestRemoteProvider_CancelledCall(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewRemoteProvider(srv.URL, 5*time.Second).Call(ctx, ToolRisks, map[string]interface{}{"symbols": []string{"NVDA"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRemoteProvider_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	assert.NoError(t, NewRemoteProvider(srv.URL, time.Second).Ping(context.Background()))
}
