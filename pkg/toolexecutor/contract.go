package toolexecutor

import (
	"context"
	"fmt"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// FinalResponse is the reserved action name a planner uses to finish a
// session. It can never be registered as a tool.
const FinalResponse = "final_response"

// DefaultTimeout applies when neither the contract nor the caller sets one.
const DefaultTimeout = 30 * time.Second

// ToolParameter defines one argument of a tool.
type ToolParameter struct {
	Name        string        `json:"name" yaml:"name"`
	Type        string        `json:"type" yaml:"type"`
	Description string        `json:"description" yaml:"description"`
	Required    bool          `json:"required" yaml:"required"`
	Default     interface{}   `json:"default,omitempty" yaml:"default,omitempty"`
	Items       string        `json:"items,omitempty" yaml:"items,omitempty"` // element type for arrays
	Enum        []interface{} `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// ToolHandler performs the tool call. It must honour ctx cancellation.
// Wrapping ErrFatal in the returned error marks the failure non-retryable
// regardless of the contract.
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Contract declares a tool: its arguments, result shape, timeout and
// whether a failed call may be retried.
type Contract struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	Parameters   []ToolParameter        `json:"parameters"`
	OutputSchema map[string]interface{} `json:"output_schema,omitempty"`
	Timeout      time.Duration          `json:"timeout"`
	Retryable    bool                   `json:"retryable"`
	Handler      ToolHandler            `json:"-"`

	schema *gojsonschema.Schema
}

// EffectiveTimeout resolves the per-call deadline: override, then contract, then default.
func (c Contract) EffectiveTimeout(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// InputSchema returns the JSON schema the arguments are validated against.
func (c Contract) InputSchema() map[string]interface{} {
	return buildSchemaMap(c.Parameters)
}

var validTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"object": true, "array": true, "integer": true,
}

func validateContract(c Contract) error {
	if c.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if c.Name == FinalResponse {
		return fmt.Errorf("tool name %q is reserved", FinalResponse)
	}
	if c.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if c.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("tool timeout cannot be negative")
	}

	seen := make(map[string]bool, len(c.Parameters))
	for _, param := range c.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if seen[param.Name] {
			return fmt.Errorf("duplicate parameter %s", param.Name)
		}
		seen[param.Name] = true
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
		if param.Items != "" {
			if param.Type != "array" {
				return fmt.Errorf("items is only valid for array parameter %s", param.Name)
			}
			if !validTypes[param.Items] {
				return fmt.Errorf("invalid items type %q for %s", param.Items, param.Name)
			}
		}
	}

	return nil
}

func buildSchemaMap(params []ToolParameter) map[string]interface{} {
	properties := make(map[string]interface{}, len(params))
	required := []string{}

	for _, param := range params {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Items != "" {
			paramSchema["items"] = map[string]interface{}{"type": param.Items}
		}
		if len(param.Enum) > 0 {
			paramSchema["enum"] = param.Enum
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}
	return schemaMap
}

func compileSchema(params []ToolParameter) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(buildSchemaMap(params)))
}

// applyDefaults returns a copy of args with missing optional parameters filled in.
func applyDefaults(params []ToolParameter, args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args)+len(params))
	for k, v := range args {
		out[k] = v
	}
	for _, param := range params {
		if _, ok := out[param.Name]; !ok && param.Default != nil {
			out[param.Name] = param.Default
		}
	}
	return out
}
