package planner

import (
	"github.com/harun/nexus/pkg/session"
	"github.com/harun/nexus/pkg/toolexecutor"
)

// DemoQuery is the query the demo script answers.
const DemoQuery = "Compare the Q3 2024 revenue growth of NVIDIA and AMD, and then draft a summary email to my manager about which stock is a better buy right now, citing a key risk for each."

// DemoScript is the five-step NVDA/AMD comparison.
func DemoScript() []Decision {
	metrics := []interface{}{"revenue", "revenue_growth", "year_over_year_growth"}
	return []Decision{
		{
			Thought: "The user wants a Q3 2024 revenue growth comparison between NVIDIA and AMD followed by an email with a recommendation and key risks. I start with NVIDIA's quarterly financials.",
			Action: session.Action{Tool: "get_financial_data", Arguments: map[string]interface{}{
				"symbol":    "NVDA",
				"data_type": "quarterly_financials",
				"period":    "Q3 2024",
				"metrics":   metrics,
			}},
		},
		{
			Thought: "I have NVIDIA's Q3 2024 revenue. I need the same data for AMD to compare.",
			Action: session.Action{Tool: "get_financial_data", Arguments: map[string]interface{}{
				"symbol":    "AMD",
				"data_type": "quarterly_financials",
				"period":    "Q3 2024",
				"metrics":   metrics,
			}},
		},
		{
			Thought: "NVIDIA grew much faster than AMD. Before recommending either stock I need the key risks for both.",
			Action: session.Action{Tool: "analyze_investment_risks", Arguments: map[string]interface{}{
				"symbols":            []interface{}{"NVDA", "AMD"},
				"analysis_timeframe": "3_months",
				"risk_categories":    []interface{}{"market_risk", "sector_risk", "regulatory_risk", "competitive_risk"},
				"include_sentiment":  true,
			}},
		},
		{
			Thought: "I have growth figures and risk scores for both companies. Now I draft the email for the manager.",
			Action: session.Action{Tool: "generate_text_output", Arguments: map[string]interface{}{
				"content_type": "email_draft",
				"context_data": map[string]interface{}{
					"comparison_data": map[string]interface{}{
						"NVDA": map[string]interface{}{"revenue": "$35.08B", "growth": "94%", "key_risk": "AI bubble concerns and China export restrictions"},
						"AMD":  map[string]interface{}{"revenue": "$6.82B", "growth": "18%", "key_risk": "CPU market competition and datacenter dependency"},
					},
					"recommendation": "NVDA",
					"reasoning":      "superior revenue growth and market position in AI",
				},
				"recipient": "manager",
				"tone":      "professional",
			}},
		},
		{
			Thought: "The comparison, risk analysis and email draft are done. The task is complete.",
			Action: session.Action{Tool: toolexecutor.FinalResponse, Arguments: map[string]interface{}{
				"summary":     "NVIDIA Q3 2024 revenue growth (94%) significantly outperformed AMD (18%). Risk analysis and a professional email draft were generated with a buy recommendation for NVIDIA, citing key risks for both stocks.",
				"deliverable": "email_draft_ready_for_review",
			}},
		},
	}
}

// NewDemo returns the demo planner. Its final decision carries the growth
// figures and the draft observed during the session.
func NewDemo() *Scripted {
	return NewScripted("demo", DemoScript()).WithFinisher(summarize)
}

func summarize(_ string, history []session.Step) map[string]interface{} {
	growth := make(map[string]interface{})
	out := map[string]interface{}{}

	for _, st := range history {
		if st.Status != session.StepCompleted || st.Observation == nil {
			continue
		}
		payload, ok := st.Observation.Payload.(map[string]interface{})
		if !ok {
			continue
		}
		switch st.Action.Tool {
		case "get_financial_data":
			symbol, _ := payload["symbol"].(string)
			if symbol == "" {
				continue
			}
			growth[symbol] = map[string]interface{}{
				"revenue":               payload["revenue"],
				"year_over_year_growth": payload["year_over_year_growth"],
			}
		case "generate_text_output":
			if draft, ok := payload["content"]; ok {
				out["draft"] = draft
			}
		}
	}

	if len(growth) > 0 {
		out["revenue_growth"] = growth
	}
	return out
}
