package coretools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/nexus/pkg/toolexecutor"
)

// Tool names.
const (
	ToolFinancialData = "get_financial_data"
	ToolRisks         = "analyze_investment_risks"
	ToolTextOutput    = "generate_text_output"
)

// Provider produces the payload for a tool call. Errors wrapping
// toolexecutor.ErrFatal are never retried.
type Provider interface {
	Name() string
	Call(ctx context.Context, tool string, args map[string]interface{}) (map[string]interface{}, error)
}

// Register adds every financial tool backed by p to reg.
func Register(reg *toolexecutor.Registry, p Provider) error {
	if reg == nil {
		return errors.New("tool registry is required")
	}
	if p == nil {
		return errors.New("tool provider is required")
	}

	for _, c := range Contracts(p) {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", c.Name, err)
		}
	}
	return nil
}

// Contracts returns the tool contracts bound to p.
func Contracts(p Provider) []toolexecutor.Contract {
	return []toolexecutor.Contract{
		financialDataTool(p),
		risksTool(p),
		textOutputTool(p),
	}
}

func handler(p Provider, tool string) toolexecutor.ToolHandler {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return p.Call(ctx, tool, params)
	}
}

func financialDataTool(p Provider) toolexecutor.Contract {
	return toolexecutor.Contract{
		Name:        ToolFinancialData,
		Description: "Retrieve structured financial data (quarterly or annual financials, real-time price, key metrics) for a stock symbol",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "symbol", Type: "string", Description: "Stock ticker symbol, e.g. NVDA", Required: true},
			{
				Name:        "data_type",
				Type:        "string",
				Description: "Kind of data to retrieve",
				Default:     "quarterly_financials",
				Enum:        []interface{}{"quarterly_financials", "annual_financials", "real_time_price", "key_metrics"},
			},
			{Name: "period", Type: "string", Description: "Time period, e.g. Q3 2024 or 2023"},
			{Name: "metrics", Type: "array", Items: "string", Description: "Specific metrics to retrieve"},
		},
		OutputSchema: map[string]interface{}{
			"type":     "object",
			"required": []string{"symbol", "data_type", "data"},
		},
		Timeout:   10 * time.Second,
		Retryable: true,
		Handler:   handler(p, ToolFinancialData),
	}
}

func risksTool(p Provider) toolexecutor.Contract {
	return toolexecutor.Contract{
		Name:        ToolRisks,
		Description: "Score investment risks for one or more symbols from news, sentiment and fundamental risk factors",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "symbols", Type: "array", Items: "string", Description: "Stock ticker symbols to analyze", Required: true},
			{
				Name:        "analysis_timeframe",
				Type:        "string",
				Description: "Window of the analysis",
				Default:     "3_months",
				Enum:        []interface{}{"1_month", "3_months", "6_months", "1_year"},
			},
			{Name: "risk_categories", Type: "array", Items: "string", Description: "Risk types to focus on, e.g. market_risk"},
			{Name: "include_sentiment", Type: "boolean", Description: "Include news and social sentiment scores", Default: true},
		},
		OutputSchema: map[string]interface{}{
			"type":     "object",
			"required": []string{"symbols", "risk_scores", "key_risks"},
		},
		Timeout:   15 * time.Second,
		Retryable: true,
		Handler:   handler(p, ToolRisks),
	}
}

func textOutputTool(p Provider) toolexecutor.Contract {
	return toolexecutor.Contract{
		Name:        ToolTextOutput,
		Description: "Generate an email draft, executive summary, technical report or bullet points from context data",
		Parameters: []toolexecutor.ToolParameter{
			{
				Name:        "content_type",
				Type:        "string",
				Description: "Kind of text to generate",
				Required:    true,
				Enum:        []interface{}{"email_draft", "executive_summary", "technical_report", "bullet_points"},
			},
			{Name: "context_data", Type: "object", Description: "Data and context the text is based on", Required: true},
			{Name: "recipient", Type: "string", Description: "Target recipient, e.g. manager"},
			{Name: "tone", Type: "string", Description: "Writing tone", Default: "professional"},
			{Name: "format_requirements", Type: "object", Description: "Specific formatting needs"},
		},
		OutputSchema: map[string]interface{}{
			"type":     "object",
			"required": []string{"content_type", "content", "word_count"},
		},
		Timeout:   30 * time.Second,
		Retryable: false,
		Handler:   handler(p, ToolTextOutput),
	}
}

// stringSlice accepts the []interface{} produced by JSON decoding as well as
// a plain []string.
func stringSlice(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
