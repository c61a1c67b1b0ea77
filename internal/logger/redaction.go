package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// Redactor masks credentials in log output.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor for the credentials this service handles:
// planner provider keys, bearer tokens and passwords embedded in redis URLs.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),
			regexp.MustCompile(`(?i)(api[_-]?key["\s:=]+)"?[^\s",]+`),
			regexp.MustCompile(`(redis(?:s)?://[^:/@\s]*:)[^@\s]+(@)`),
			regexp.MustCompile(`(?i)(password["\s:=]+)"?[^\s",]+`),
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact masks every match. Capture groups, when present, are kept around the mask.
func (r *Redactor) Redact(s string) string {
	result := s
	for _, pattern := range r.patterns {
		switch pattern.NumSubexp() {
		case 0:
			result = pattern.ReplaceAllString(result, redacted)
		case 1:
			result = pattern.ReplaceAllString(result, "${1}"+redacted)
		default:
			result = pattern.ReplaceAllString(result, "${1}"+redacted+"${2}")
		}
	}
	return result
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so callers do not see a short write when
// the masked line differs in length.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
