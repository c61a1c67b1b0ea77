package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

// DefaultGeminiBaseURL is the Generative Language API root.
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiOption configures a GeminiCompleter.
type GeminiOption func(*GeminiCompleter)

// WithGeminiBaseURL points the completer at another API root.
func WithGeminiBaseURL(baseURL string) GeminiOption {
	return func(c *GeminiCompleter) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// GeminiCompleter implements Completer for Google Gemini
type GeminiCompleter struct {
	apiKey  string
	baseURL string
	client  *resty.Client
}

// NewGeminiCompleter creates a new Gemini completer
func NewGeminiCompleter(apiKey string, opts ...GeminiOption) *GeminiCompleter {
	c := &GeminiCompleter{apiKey: apiKey, baseURL: DefaultGeminiBaseURL}
	for _, opt := range opts {
		opt(c)
	}
	c.client = resty.New().
		SetBaseURL(c.baseURL).
		SetHeader("Content-Type", "application/json")
	return c
}

// Provider returns the provider name
func (p *GeminiCompleter) Provider() string {
	return "gemini"
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Complete sends the conversation to generateContent and returns the text
// parts of the first candidate.
func (p *GeminiCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	body := geminiRequest{Contents: make([]geminiContent, 0, len(req.Messages))}
	for _, msg := range req.Messages {
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		body.Contents = append(body.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: msg.Content}}})
	}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		cfg := &geminiGenerationConfig{MaxOutputTokens: req.MaxTokens}
		if req.Temperature > 0 {
			temp := req.Temperature
			cfg.Temperature = &temp
		}
		body.GenerationConfig = cfg
	}

	var out geminiResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("x-goog-api-key", p.apiKey).
		SetBody(body).
		SetResult(&out).
		Post("/models/" + req.Model + ":generateContent")
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("gemini API error: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	if len(out.Candidates) == 0 {
		return "", ErrEmptyResponse
	}
	var b strings.Builder
	for _, part := range out.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	if b.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}
