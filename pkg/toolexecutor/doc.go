// Package toolexecutor holds the tool catalog and the single-shot dispatcher.
//
// Invariants:
// - Tool names are unique and final_response is reserved.
// - Arguments are schema-validated before the handler runs; a validation
//   failure never reaches the tool.
// - Every call runs under a deadline and the handler's context is cancelled
//   when the deadline or the caller's context ends.
// - Failures come back as *ToolError with a Kind; the dispatcher never retries.
//
// Usage:
//
//	reg := toolexecutor.NewRegistry()
//	_ = reg.Register(toolexecutor.Contract{
//		Name:        "echo",
//		Description: "Echo input",
//		Parameters:  []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Timeout:     time.Second,
//		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
//			return params["text"], nil
//		},
//	})
//	reg.Seal()
//	c, _ := reg.Resolve("echo")
//	out, err := toolexecutor.NewDispatcher().Invoke(ctx, c, map[string]interface{}{"text": "hi"}, 0)
package toolexecutor
