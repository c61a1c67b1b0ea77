package toolexecutor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Registry is the catalog of tool contracts. It is written during startup
// and read concurrently by every session afterwards.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Contract
	sealed bool
	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger ...zerolog.Logger) *Registry {
	l := log.Logger
	if len(logger) > 0 {
		l = logger[0]
	}
	return &Registry{
		tools:  make(map[string]Contract),
		logger: l,
	}
}

// Register validates c, compiles its input schema and adds it.
func (r *Registry) Register(c Contract) error {
	if err := validateContract(c); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := compileSchema(c.Parameters)
	if err != nil {
		return fmt.Errorf("failed to generate schema for %s: %w", c.Name, err)
	}
	c.schema = schema
	c.Parameters = append([]ToolParameter(nil), c.Parameters...)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("register %s: %w", c.Name, ErrRegistrySealed)
	}
	if _, exists := r.tools[c.Name]; exists {
		return fmt.Errorf("register %s: %w", c.Name, ErrDuplicateTool)
	}
	r.tools[c.Name] = c

	r.logger.Info().
		Str("tool", c.Name).
		Dur("timeout", c.Timeout).
		Bool("retryable", c.Retryable).
		Msg("Tool registered")

	return nil
}

// Override changes the timeout and retryability of a registered tool.
// Nil fields keep their current value. Not allowed once sealed.
func (r *Registry) Override(name string, timeout *time.Duration, retryable *bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("override %s: %w", name, ErrRegistrySealed)
	}
	c, ok := r.tools[name]
	if !ok {
		return unknownTool(name)
	}
	if timeout != nil {
		if *timeout < 0 {
			return fmt.Errorf("override %s: timeout cannot be negative", name)
		}
		c.Timeout = *timeout
	}
	if retryable != nil {
		c.Retryable = *retryable
	}
	r.tools[name] = c
	return nil
}

// Seal freezes the registry. Later Register and Override calls fail.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Resolve returns the contract for name or a ToolError of kind unknown_tool_error.
func (r *Registry) Resolve(name string) (Contract, error) {
	r.mu.RLock()
	c, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return Contract{}, unknownTool(name)
	}
	return c, nil
}

// List returns all contracts sorted by name.
func (r *Registry) List() []Contract {
	r.mu.RLock()
	out := make([]Contract, 0, len(r.tools))
	for _, c := range r.tools {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns all registered tool names sorted.
func (r *Registry) Names() []string {
	contracts := r.List()
	names := make([]string, len(contracts))
	for i, c := range contracts {
		names[i] = c.Name
	}
	return names
}

func unknownTool(name string) *ToolError {
	return &ToolError{
		Kind:    KindUnknownTool,
		Tool:    name,
		Message: "no tool registered under this name",
	}
}
