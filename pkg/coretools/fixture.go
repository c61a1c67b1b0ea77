package coretools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harun/nexus/pkg/toolexecutor"
)

type quarter struct {
	revenue      string
	revenueUSD   float64
	priorRevenue string
	growth       float64
	driver       string
}

type riskProfile struct {
	score     int
	keyRisks  []string
	sentiment float64
}

var quarterlyFixtures = map[string]quarter{
	"NVDA": {revenue: "$35.08B", revenueUSD: 35.08e9, priorRevenue: "$18.12B", growth: 0.94, driver: "AI and datacenter demand"},
	"AMD":  {revenue: "$6.82B", revenueUSD: 6.82e9, priorRevenue: "$5.80B", growth: 0.18, driver: "datacenter and embedded processor sales"},
}

var riskFixtures = map[string]riskProfile{
	"NVDA": {score: 35, keyRisks: []string{"AI bubble concerns", "China export restrictions"}, sentiment: 0.72},
	"AMD":  {score: 45, keyRisks: []string{"CPU market competition", "Data center dependency"}, sentiment: 0.58},
}

// FixtureProvider serves canned Q3 2024 data for NVDA and AMD. Unknown
// symbols fail with a fatal error.
type FixtureProvider struct {
	now func() time.Time
}

// NewFixtureProvider creates the offline provider.
func NewFixtureProvider() *FixtureProvider {
	return &FixtureProvider{now: time.Now}
}

// Name returns "fixture".
func (p *FixtureProvider) Name() string {
	return "fixture"
}

// Call dispatches to the per-tool fixture.
func (p *FixtureProvider) Call(ctx context.Context, tool string, args map[string]interface{}) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch tool {
	case ToolFinancialData:
		return p.financialData(args)
	case ToolRisks:
		return p.risks(args)
	case ToolTextOutput:
		return p.textOutput(args)
	default:
		return nil, fmt.Errorf("%w: fixture has no tool %s", toolexecutor.ErrFatal, tool)
	}
}

func (p *FixtureProvider) financialData(args map[string]interface{}) (map[string]interface{}, error) {
	symbol := strings.ToUpper(stringArg(args, "symbol"))
	q, ok := quarterlyFixtures[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: no financial data for symbol %s", toolexecutor.ErrFatal, symbol)
	}

	period := stringArg(args, "period")
	if period == "" {
		period = "Q3 2024"
	}
	growth := fmt.Sprintf("%.0f%%", q.growth*100)

	return map[string]interface{}{
		"symbol":                symbol,
		"data_type":             stringArg(args, "data_type"),
		"period":                period,
		"revenue":               q.revenue,
		"year_over_year_growth": growth,
		"data": map[string]interface{}{
			"revenue":            q.revenueUSD,
			"revenue_growth":     q.growth,
			"prior_year_revenue": q.priorRevenue,
			"currency":           "USD",
		},
		"summary":      fmt.Sprintf("%s %s revenue of %s, %s year-over-year growth from %s, driven by %s.", symbol, period, q.revenue, growth, q.priorRevenue, q.driver),
		"last_updated": p.now().UTC().Format(time.RFC3339),
		"source":       p.Name(),
	}, nil
}

func (p *FixtureProvider) risks(args map[string]interface{}) (map[string]interface{}, error) {
	symbols := stringSlice(args["symbols"])
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols to analyze", toolexecutor.ErrFatal)
	}

	scores := make(map[string]interface{}, len(symbols))
	keyRisks := make(map[string]interface{}, len(symbols))
	sentiment := make(map[string]interface{}, len(symbols))
	for _, s := range symbols {
		symbol := strings.ToUpper(s)
		profile, ok := riskFixtures[symbol]
		if !ok {
			return nil, fmt.Errorf("%w: no risk data for symbol %s", toolexecutor.ErrFatal, symbol)
		}
		scores[symbol] = profile.score
		keyRisks[symbol] = append([]string(nil), profile.keyRisks...)
		sentiment[symbol] = profile.sentiment
	}

	ranked := append([]string(nil), symbols...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return riskFixtures[strings.ToUpper(ranked[i])].score < riskFixtures[strings.ToUpper(ranked[j])].score
	})

	out := map[string]interface{}{
		"symbols":            symbols,
		"analysis_timeframe": stringArg(args, "analysis_timeframe"),
		"risk_scores":        scores,
		"key_risks":          keyRisks,
		"risk_comparison":    fmt.Sprintf("%s carries the lowest risk score; all symbols share semiconductor cycle volatility", strings.ToUpper(ranked[0])),
		"analysis_date":      p.now().UTC().Format(time.RFC3339),
	}
	if include, ok := args["include_sentiment"].(bool); !ok || include {
		out["sentiment_analysis"] = sentiment
	}
	if categories := stringSlice(args["risk_categories"]); len(categories) > 0 {
		out["risk_categories"] = categories
	}
	return out, nil
}

func (p *FixtureProvider) textOutput(args map[string]interface{}) (map[string]interface{}, error) {
	contentType := stringArg(args, "content_type")
	contextData, _ := args["context_data"].(map[string]interface{})
	recipient := stringArg(args, "recipient")
	tone := stringArg(args, "tone")

	var b strings.Builder
	if contentType == "email_draft" {
		to := recipient
		if to == "" {
			to = "team"
		}
		fmt.Fprintf(&b, "Subject: Q3 2024 Investment Analysis\n\nHi %s,\n\n", to)
	}

	if comparison, ok := contextData["comparison_data"].(map[string]interface{}); ok {
		symbols := make([]string, 0, len(comparison))
		for s := range comparison {
			symbols = append(symbols, s)
		}
		sort.Strings(symbols)
		for _, s := range symbols {
			row, _ := comparison[s].(map[string]interface{})
			fmt.Fprintf(&b, "- %s: revenue %v, growth %v. Key risk: %v.\n", s, row["revenue"], row["growth"], row["key_risk"])
		}
	}
	if rec, ok := contextData["recommendation"]; ok {
		fmt.Fprintf(&b, "\nRecommendation: %v", rec)
		if reason, ok := contextData["reasoning"]; ok {
			fmt.Fprintf(&b, " on %v", reason)
		}
		b.WriteString(".\n")
	}
	if contentType == "email_draft" {
		b.WriteString("\nBest regards")
	}

	content := b.String()
	return map[string]interface{}{
		"content_type":         contentType,
		"content":              content,
		"word_count":           len(strings.Fields(content)),
		"tone_applied":         tone,
		"recipient":            recipient,
		"generation_timestamp": p.now().UTC().Format(time.RFC3339),
	}, nil
}

func stringArg(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}
