package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/harun/nexus/pkg/eventhub"
	"github.com/harun/nexus/pkg/gateway"
)

// apiClient talks to a running gateway.
type apiClient struct {
	http *resty.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

// apiError turns a non-2xx reply into an error carrying the server's message.
func apiError(method, path string, resp *resty.Response) error {
	var body gateway.ErrorResponse
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Error != "" {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status(), body.Error)
	}
	return fmt.Errorf("%s %s: %s", method, path, resp.Status())
}

func (c *apiClient) run(ctx context.Context, req gateway.RunRequest) (*gateway.RunResponse, error) {
	blocking := false
	req.Streaming = &blocking

	var out gateway.RunResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/api/agent/run")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, apiError("POST", "/api/agent/run", resp)
	}
	return &out, nil
}

// runStream starts a streaming run and calls fn for every event until the
// stream ends.
func (c *apiClient) runStream(ctx context.Context, req gateway.RunRequest, fn func(eventhub.Event) error) error {
	streaming := true
	req.Streaming = &streaming

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetHeader("Accept", "text/event-stream").
		SetDoNotParseResponse(true).
		Post("/api/agent/run")
	if err != nil {
		return err
	}
	return readEventStream(resp, "POST", "/api/agent/run", fn)
}

// watch follows an existing session's stream, resuming after lastSeq.
func (c *apiClient) watch(ctx context.Context, id string, lastSeq int64, fn func(eventhub.Event) error) error {
	path := "/api/agent/stream/" + id
	r := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "text/event-stream").
		SetDoNotParseResponse(true)
	if lastSeq > 0 {
		r.SetHeader("Last-Event-ID", fmt.Sprint(lastSeq))
	}
	resp, err := r.Get(path)
	if err != nil {
		return err
	}
	return readEventStream(resp, "GET", path, fn)
}

func readEventStream(resp *resty.Response, method, path string, fn func(eventhub.Event) error) error {
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		var e gateway.ErrorResponse
		if err := json.NewDecoder(body).Decode(&e); err == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status(), e.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status())
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var name string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			name = ""
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			if name == "dropped" {
				return fmt.Errorf("stream dropped by server: %s", data)
			}
			var ev eventhub.Event
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				return fmt.Errorf("failed to decode event: %w", err)
			}
			if err := fn(ev); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

func (c *apiClient) status(ctx context.Context, id string) (*gateway.RunResponse, error) {
	path := "/api/agent/status/" + id
	var out gateway.RunResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, apiError("GET", path, resp)
	}
	return &out, nil
}

func (c *apiClient) cancel(ctx context.Context, id string) (*gateway.CancelResponse, error) {
	path := "/api/agent/cancel/" + id
	var out gateway.CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Post(path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusAccepted {
		return nil, apiError("POST", path, resp)
	}
	return &out, nil
}

func (c *apiClient) tools(ctx context.Context) ([]gateway.ToolInfo, error) {
	var out struct {
		Tools []gateway.ToolInfo `json:"tools"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/tools")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, apiError("GET", "/api/tools", resp)
	}
	return out.Tools, nil
}

func (c *apiClient) health(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/healthz")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, apiError("GET", "/healthz", resp)
	}
	return out, nil
}

func prettyJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
