package toolexecutor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ToolOverride adjusts a registered contract. Nil fields are left unchanged.
type ToolOverride struct {
	Timeout   *time.Duration `yaml:"timeout"`
	Retryable *bool          `yaml:"retryable"`
}

// Catalog is the YAML file of per-tool overrides:
//
//	tools:
//	  get_financial_data:
//	    timeout: 20s
//	    retryable: true
type Catalog struct {
	Tools map[string]ToolOverride `yaml:"tools"`
}

// LoadCatalog reads a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes catalog YAML, rejecting unknown keys.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse tool catalog: %w", err)
	}
	return &c, nil
}

// Apply overrides every listed tool. Tools are applied in name order and the
// first failure stops the pass.
func (c *Catalog) Apply(r *Registry) error {
	names := make([]string, 0, len(c.Tools))
	for name := range c.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		o := c.Tools[name]
		if err := r.Override(name, o.Timeout, o.Retryable); err != nil {
			return fmt.Errorf("tool catalog: %w", err)
		}
	}
	return nil
}
