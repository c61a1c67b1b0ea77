// Package coretools declares the financial research tools the agent can
// call and binds them to a data provider.
//
// Contracts:
//   - get_financial_data(symbol, data_type, period, metrics)
//   - analyze_investment_risks(symbols, analysis_timeframe, risk_categories, include_sentiment)
//   - generate_text_output(content_type, context_data, recipient, tone, format_requirements)
//
// Handlers only shape arguments and results; the data comes from a Provider.
// FixtureProvider serves canned Q3 2024 data offline, RemoteProvider forwards
// calls to an HTTP service.
//
// Usage:
//
//	reg := toolexecutor.NewRegistry()
//	if err := coretools.Register(reg, coretools.NewFixtureProvider()); err != nil {
//		return err
//	}
package coretools
