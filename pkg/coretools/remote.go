package coretools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/harun/nexus/internal/tracing"
	"github.com/harun/nexus/pkg/toolexecutor"
)

// DefaultRemoteTimeout bounds one HTTP round trip to the tool service.
const DefaultRemoteTimeout = 20 * time.Second

// RemoteProvider forwards tool calls to POST {base}/tools/{name}. The
// request body is the argument object and the response body the payload.
// Transport errors, 429 and 5xx are transient; other non-2xx statuses are
// fatal. The client never retries on its own.
type RemoteProvider struct {
	client *resty.Client
}

// NewRemoteProvider creates a provider for the service at baseURL.
func NewRemoteProvider(baseURL string, timeout time.Duration) *RemoteProvider {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &RemoteProvider{client: client}
}

// Name returns "remote".
func (p *RemoteProvider) Name() string {
	return "remote"
}

// Call posts args to the tool endpoint.
func (p *RemoteProvider) Call(ctx context.Context, tool string, args map[string]interface{}) (map[string]interface{}, error) {
	var out map[string]interface{}
	req := p.client.R().
		SetContext(ctx).
		SetBody(args).
		SetResult(&out)
	if id := tracing.GetSessionID(ctx); id != "" {
		req.SetHeader("X-Session-ID", id)
	}
	if id := tracing.GetTraceID(ctx); id != "" {
		req.SetHeader("X-Trace-ID", id)
	}

	resp, err := req.Post("/tools/" + tool)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("remote tool %s: %w", tool, err)
	}

	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		if out == nil {
			return nil, fmt.Errorf("%w: remote tool %s returned no payload", toolexecutor.ErrFatal, tool)
		}
		return out, nil
	case status == http.StatusTooManyRequests || status >= 500:
		return nil, fmt.Errorf("remote tool %s: status %d: %s", tool, status, snippet(resp.String()))
	default:
		return nil, fmt.Errorf("%w: remote tool %s: status %d: %s", toolexecutor.ErrFatal, tool, status, snippet(resp.String()))
	}
}

// Ping checks that the service answers GET /healthz.
func (p *RemoteProvider) Ping(ctx context.Context) error {
	resp, err := p.client.R().SetContext(ctx).Get("/healthz")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return errors.New("remote tool service unhealthy: " + resp.Status())
	}
	return nil
}

func snippet(s string) string {
	const max = 200
	s = strings.TrimSpace(s)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
