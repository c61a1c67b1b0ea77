package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/nexus/pkg/agent"
	"github.com/harun/nexus/pkg/commandqueue"
	"github.com/harun/nexus/pkg/coretools"
	"github.com/harun/nexus/pkg/eventhub"
	"github.com/harun/nexus/pkg/planner"
	"github.com/harun/nexus/pkg/session"
	"github.com/harun/nexus/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	srv    *Server
	http   *httptest.Server
	engine *agent.Engine
}

func newTestEnv(t *testing.T, p planner.Planner, queueCapacity int, rps float64) *testEnv {
	t.Helper()

	reg := toolexecutor.NewRegistry(zerolog.Nop())
	require.NoError(t, coretools.Register(reg, coretools.NewFixtureProvider()))
	reg.Seal()

	queue := commandqueue.New(queueCapacity, zerolog.Nop())
	engine, err := agent.NewEngine(agent.Config{
		Store:    session.NewStore(session.WithLogger(zerolog.Nop())),
		Registry: reg,
		Planner:  p,
		Hub:      eventhub.New(64, zerolog.Nop()),
		Queue:    queue,
		Logger:   zerolog.Nop(),
		Backoff:  agent.BackoffConfig{Initial: time.Millisecond},
	})
	require.NoError(t, err)

	srv, err := NewServer(Config{
		Engine:            engine,
		RequestsPerSecond: rps,
		Burst:             1,
		Logger:            zerolog.Nop(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = engine.Shutdown(ctx)
		ts.Close()
		_ = queue.Close()
	})
	return &testEnv{srv: srv, http: ts, engine: engine}
}

func (e *testEnv) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(e.http.URL+path, "application/json", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.http.URL+path, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readSSE(t *testing.T, resp *http.Response) []eventhub.Event {
	t.Helper()
	var events []eventhub.Event
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev eventhub.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func blockingPlanner(release <-chan struct{}) planner.Planner {
	return planner.Func(func(ctx context.Context, query string, history []session.Step) (planner.Decision, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return planner.Decision{}, ctx.Err()
		}
		return planner.Decision{Thought: "done", Action: session.Action{Tool: toolexecutor.FinalResponse}}, nil
	})
}

func noStreaming() *bool {
	v := false
	return &v
}

func TestRun_Blocking(t *testing.T) {
	env := newTestEnv(t, planner.NewDemo(), 4, 0)

	resp := env.post(t, "/api/agent/run", RunRequest{
		Query:     planner.DemoQuery,
		UserID:    "u-1",
		Streaming: noStreaming(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Session-ID"))
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"))

	var out RunResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, resp.Header.Get("X-Session-ID"), out.SessionID)
	assert.Equal(t, session.StateCompleted, out.Status)
	assert.Len(t, out.Steps, 5)
	assert.Nil(t, out.Error)
	assert.Equal(t, "u-1", out.Metadata["user_id"])
	assert.GreaterOrEqual(t, out.ExecutionTimeSeconds, 0.0)

	result := out.FinalResult.(map[string]interface{})
	assert.Contains(t, result, "revenue_growth")
	assert.Contains(t, result, "draft")
}

func TestRun_Streaming(t *testing.T) {
	env := newTestEnv(t, planner.NewDemo(), 4, 0)

	resp := env.post(t, "/api/agent/run", RunRequest{Query: planner.DemoQuery})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	id := resp.Header.Get("X-Session-ID")
	require.NotEmpty(t, id)

	events := readSSE(t, resp)
	require.Len(t, events, 12)
	assert.Equal(t, eventhub.EventSessionStart, events[0].Type)
	assert.Equal(t, planner.DemoQuery, events[0].Query)
	assert.Equal(t, eventhub.EventExecutionComplete, events[len(events)-1].Type)
	for i, ev := range events {
		assert.Equal(t, id, ev.SessionID)
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}

func TestRun_BadRequests(t *testing.T) {
	env := newTestEnv(t, planner.NewDemo(), 4, 0)

	resp := env.post(t, "/api/agent/run", RunRequest{Query: "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	raw, err := http.Post(env.http.URL+"/api/agent/run", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(raw.Body).Decode(&body))
	assert.Contains(t, body.Error, "invalid request body")
	assert.NotEmpty(t, body.TraceID)
}

func TestRun_AdmissionRejected(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	env := newTestEnv(t, blockingPlanner(release), 1, 0)

	first, err := env.engine.Start(context.Background(), agent.Request{Query: "hold the only slot"})
	require.NoError(t, err)
	require.NotEmpty(t, first)

	resp := env.post(t, "/api/agent/run", RunRequest{Query: "q", Streaming: noStreaming()})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
}

func TestStatusAndCancel(t *testing.T) {
	release := make(chan struct{})
	env := newTestEnv(t, blockingPlanner(release), 4, 0)

	resp := env.get(t, "/api/agent/status/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = env.post(t, "/api/agent/cancel/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	id, err := env.engine.Start(context.Background(), agent.Request{Query: "q"})
	require.NoError(t, err)

	resp = env.get(t, "/api/agent/status/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status RunResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, id, status.SessionID)
	assert.False(t, status.Status.Terminal())

	resp = env.post(t, "/api/agent/cancel/"+id, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := env.engine.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, session.StateCancelled, snap.State)

	resp = env.post(t, "/api/agent/cancel/"+id, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	close(release)
}

func TestStream_ReplayAndResume(t *testing.T) {
	env := newTestEnv(t, planner.NewDemo(), 4, 0)

	id, err := env.engine.Start(context.Background(), agent.Request{Query: planner.DemoQuery})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = env.engine.Wait(ctx, id)
	require.NoError(t, err)

	full := readSSE(t, env.get(t, "/api/agent/stream/"+id, nil))
	require.Len(t, full, 12)
	assert.Equal(t, eventhub.EventSessionStart, full[0].Type)

	resumed := readSSE(t, env.get(t, "/api/agent/stream/"+id, http.Header{"Last-Event-Id": []string{"9"}}))
	require.Len(t, resumed, 3)
	assert.Equal(t, int64(10), resumed[0].Seq)

	resp := env.get(t, "/api/agent/stream/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketStream(t *testing.T) {
	env := newTestEnv(t, planner.NewDemo(), 4, 0)

	id, err := env.engine.Start(context.Background(), agent.Request{Query: planner.DemoQuery})
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/agent/ws/" + id
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, id, resp.Header.Get("X-Session-ID"))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var events []eventhub.Event
	for {
		var ev eventhub.Event
		if err := conn.ReadJSON(&ev); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected close: %v", err)
			break
		}
		events = append(events, ev)
	}

	require.Len(t, events, 12)
	assert.Equal(t, eventhub.EventExecutionComplete, events[len(events)-1].Type)

	_, resp, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(env.http.URL, "http")+"/api/agent/ws/missing", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTools(t *testing.T) {
	env := newTestEnv(t, planner.NewDemo(), 4, 0)

	resp := env.get(t, "/api/tools", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Tools []ToolInfo `json:"tools"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Tools, 3)
	assert.Equal(t, coretools.ToolRisks, body.Tools[0].Name)
	assert.Equal(t, coretools.ToolTextOutput, body.Tools[1].Name)
	assert.Equal(t, coretools.ToolFinancialData, body.Tools[2].Name)
	assert.Equal(t, 10.0, body.Tools[2].TimeoutSeconds)
	assert.True(t, body.Tools[2].Retryable)
	assert.Equal(t, "object", body.Tools[2].InputSchema["type"])
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, planner.NewDemo(), 4, 0.001)

	resp := env.get(t, "/api/tools", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.get(t, "/api/tools", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp = env.get(t, "/api/tools", http.Header{"X-Forwarded-For": []string{"10.0.0.9"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.get(t, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthAndShutdown(t *testing.T) {
	env := newTestEnv(t, planner.NewDemo(), 4, 0)

	resp := env.get(t, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])

	resp = env.get(t, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, env.srv.Stop(context.Background()))
	resp = env.get(t, "/api/tools", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp = env.get(t, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_StartStop(t *testing.T) {
	env := newTestEnv(t, planner.NewDemo(), 4, 1)

	srv, err := NewServer(Config{Host: "127.0.0.1", Port: 0, Engine: env.engine, RequestsPerSecond: 5, Burst: 5, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	require.NotEmpty(t, srv.Addr())

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	_, err = NewServer(Config{Port: -1, Engine: env.engine})
	assert.Error(t, err)
	_, err = NewServer(Config{})
	assert.Error(t, err)
}
