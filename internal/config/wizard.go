package config

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Wizard asks for the few settings a first run needs and returns a config.
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard reading answers from in and writing prompts to out.
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "=== Nexus Configuration Wizard ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()
	validator := NewValidator()

	kind, err := w.ask("Planner (scripted/anthropic/openai/gemini)", cfg.Planner.Kind)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "scripted", "anthropic", "openai", "gemini":
		cfg.Planner.Kind = kind
	default:
		fmt.Fprintf(w.out, "Warning: unknown planner %q, using scripted\n", kind)
	}

	if cfg.Planner.Kind != "scripted" {
		for {
			key, err := w.ask(fmt.Sprintf("%s API key", cfg.Planner.Kind), "")
			if err != nil {
				return nil, err
			}
			if err := validator.ValidateAPIKey(key, cfg.Planner.Kind); err != nil {
				fmt.Fprintf(w.out, "Error: %v\n", err)
				continue
			}
			cfg.Planner.APIKey = key
			break
		}

		defaultModel := "claude-sonnet-4-5"
		switch cfg.Planner.Kind {
		case "openai":
			defaultModel = "gpt-4o"
		case "gemini":
			defaultModel = "gemini-2.0-flash"
		}
		model, err := w.ask("Model", defaultModel)
		if err != nil {
			return nil, err
		}
		cfg.Planner.Model = model
	}

	provider, err := w.ask("Tool provider (fixture/remote)", cfg.Tools.Provider)
	if err != nil {
		return nil, err
	}
	if provider == "remote" {
		for {
			base, err := w.ask("Remote tool base URL", "")
			if err != nil {
				return nil, err
			}
			if err := validator.ValidateRemoteURL(base); err != nil {
				fmt.Fprintf(w.out, "Error: %v\n", err)
				continue
			}
			cfg.Tools.Provider = "remote"
			cfg.Tools.RemoteURL = base
			break
		}
	}

	level, err := w.ask("Log level (debug/info/warn/error)", cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateLogLevel(level); err != nil {
		fmt.Fprintf(w.out, "Warning: %v, using default (info)\n", err)
	} else {
		cfg.Logging.Level = level
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

// ask prints a prompt and returns the trimmed answer or def when empty.
func (w *Wizard) ask(prompt, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(w.out, "%s: ", prompt)
	}

	line, err := w.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def, nil
	}
	return line, nil
}
