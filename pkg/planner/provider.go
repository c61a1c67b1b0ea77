package planner

import "fmt"

// NewCompleter creates the Completer for a configured provider kind.
func NewCompleter(kind, apiKey string) (Completer, error) {
	switch kind {
	case "anthropic":
		return NewAnthropicCompleter(apiKey), nil
	case "openai":
		return NewOpenAICompleter(apiKey), nil
	case "gemini":
		return NewGeminiCompleter(apiKey), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, kind)
	}
}
