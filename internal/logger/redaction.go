package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Redactor masks credentials that tool arguments and resource URLs tend to carry
type Redactor struct {
	rules []rule
}

// NewRedactor creates a new redactor with default patterns
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []rule{
			// key/value pairs in JSON, query strings and headers; the key survives
			{regexp.MustCompile(`(?i)("?\b(?:api[_-]?key|access[_-]?token|auth[_-]?token|refresh[_-]?token|client[_-]?secret|token|secret|password|passwd|pwd)"?\s*[:=]\s*"?)[^\s"&,}]+`), "${1}" + redacted},

			// Bearer and Basic credentials
			{regexp.MustCompile(`(?i)\b(Bearer|Basic)\s+[a-zA-Z0-9._~+/-]+=*`), "${1} " + redacted},

			// userinfo in URLs
			{regexp.MustCompile(`(https?://)[^/\s:@"]+:[^/\s@"]+@`), "${1}" + redacted + "@"},

			// vendor API keys
			{regexp.MustCompile(`sk-(?:ant-)?[a-zA-Z0-9_-]{20,}`), redacted},

			// JWTs
			{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`), redacted},

			// AWS keys
			{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), redacted},
		},
	}
}

// AddPattern adds a custom pattern whose matches are replaced entirely
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, rule{pattern: re, replacement: redacted})
	return nil
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	result := s
	for _, rule := range r.rules {
		result = rule.pattern.ReplaceAllString(result, rule.replacement)
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

// redactingWriter is an io.Writer that redacts sensitive information
type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so callers do not see a short write when
// redaction changes the length
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
