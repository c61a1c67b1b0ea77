package planner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaioption "github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicCompleter_Complete(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5",
			"content":[{"type":"text","text":"{\"thought\":\"t\","},{"type":"text","text":"\"action\":{\"tool\":\"x\"}}"}],
			"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":5}}`))
	}))
	defer srv.Close()

	c := NewAnthropicCompleter("sk-ant-test", anthropicoption.WithBaseURL(srv.URL), anthropicoption.WithMaxRetries(0))
	text, err := c.Complete(context.Background(), CompletionRequest{
		Model:        "claude-sonnet-4-5",
		SystemPrompt: "sys",
		Messages:     []Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "a"}, {Role: "user", Content: "b"}},
		MaxTokens:    64,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"thought":"t","action":{"tool":"x"}}`, text)

	assert.Equal(t, "claude-sonnet-4-5", body["model"])
	assert.Len(t, body["messages"], 3)
}

func TestOpenAICompleter_Complete(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o",
			"choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer srv.Close()

	c := NewOpenAICompleter("sk-test", openaioption.WithBaseURL(srv.URL+"/"), openaioption.WithMaxRetries(0))
	text, err := c.Complete(context.Background(), CompletionRequest{
		Model:        "gpt-4o",
		SystemPrompt: "sys",
		Messages:     []Message{{Role: "user", Content: "hi"}},
		MaxTokens:    64,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	assert.Equal(t, "gpt-4o", body["model"])
	assert.Len(t, body["messages"], 2)
}

func TestOpenAICompleter_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o","choices":[]}`))
	}))
	defer srv.Close()

	c := NewOpenAICompleter("sk-test", openaioption.WithBaseURL(srv.URL+"/"), openaioption.WithMaxRetries(0))
	_, err := c.Complete(context.Background(), CompletionRequest{Model: "gpt-4o", Messages: []Message{{Role: "user", Content: "hi"}}})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGeminiCompleter_Complete(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "AIza-test", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model",
			"parts":[{"text":"{\"thought\":\"t\","},{"text":"\"action\":{\"tool\":\"x\"}}"}]}}]}`))
	}))
	defer srv.Close()

	c := NewGeminiCompleter("AIza-test", WithGeminiBaseURL(srv.URL+"/"))
	text, err := c.Complete(context.Background(), CompletionRequest{
		Model:        "gemini-2.0-flash",
		SystemPrompt: "sys",
		Messages:     []Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "a"}},
		Temperature:  0.2,
		MaxTokens:    64,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"thought":"t","action":{"tool":"x"}}`, text)

	contents := body["contents"].([]interface{})
	require.Len(t, contents, 2)
	assert.Equal(t, "model", contents[1].(map[string]interface{})["role"])
	assert.NotNil(t, body["systemInstruction"])
	genCfg := body["generationConfig"].(map[string]interface{})
	assert.Equal(t, float64(64), genCfg["maxOutputTokens"])
	assert.Equal(t, 0.2, genCfg["temperature"])
}

func TestGeminiCompleter_Errors(t *testing.T) {
	t.Run("non-2xx status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"quota"}}`))
		}))
		defer srv.Close()

		c := NewGeminiCompleter("AIza-test", WithGeminiBaseURL(srv.URL))
		_, err := c.Complete(context.Background(), CompletionRequest{Model: "gemini-2.0-flash", Messages: []Message{{Role: "user", Content: "hi"}}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "429")
	})

	t.Run("no candidates", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"candidates":[]}`))
		}))
		defer srv.Close()

		c := NewGeminiCompleter("AIza-test", WithGeminiBaseURL(srv.URL))
		_, err := c.Complete(context.Background(), CompletionRequest{Model: "gemini-2.0-flash", Messages: []Message{{Role: "user", Content: "hi"}}})
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})
}
