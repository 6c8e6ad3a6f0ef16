// Package jimilog wraps log/slog with the session/run/agent correlation
// fields and secret-redaction layer every other package in this module
// logs through.
package jimilog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Config controls the handler New builds.
type Config struct {
	// Level is one of "debug", "info", "warn", "error"; defaults to "info".
	Level string
	// Format is "json" or "text"; defaults to "json".
	Format string
	// Output defaults to os.Stdout.
	Output io.Writer
	// AddSource includes file:line in each record.
	AddSource bool
	// RedactPatterns are additional regexes appended to DefaultRedactPatterns.
	RedactPatterns []string
}

// DefaultRedactPatterns matches common secret shapes (API keys, bearer
// tokens, JWTs) so tool-argument or LLM-payload logging never leaks them.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["']?([^\s"']{8,})["']?`,
	`sk-ant-[a-zA-Z0-9_-]{95,}`,
	`sk-[a-zA-Z0-9]{48,}`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

// New builds a *slog.Logger with a redacting handler wrapped around
// slog.NewJSONHandler/slog.NewTextHandler per cfg.Format.
func New(cfg Config) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}

	var base slog.Handler
	if cfg.Format == "text" {
		base = slog.NewTextHandler(cfg.Output, opts)
	} else {
		base = slog.NewJSONHandler(cfg.Output, opts)
	}

	patterns := append(append([]string{}, DefaultRedactPatterns...), cfg.RedactPatterns...)
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			res = append(res, re)
		}
	}

	return slog.New(&redactingHandler{next: base, patterns: res})
}

// WithSession attaches session_id/run_id/agent_name correlation fields to
// every subsequent record from the returned logger.
func WithSession(logger *slog.Logger, sessionID, runID, agentName string) *slog.Logger {
	logger = OrDefault(logger)
	args := make([]any, 0, 6)
	if sessionID != "" {
		args = append(args, "session_id", sessionID)
	}
	if runID != "" {
		args = append(args, "run_id", runID)
	}
	if agentName != "" {
		args = append(args, "agent_name", agentName)
	}
	if len(args) == 0 {
		return logger
	}
	return logger.With(args...)
}

// OrDefault returns logger, or slog.Default() when logger is nil — the
// pattern every package-level constructor in this module follows so a nil
// Logger field never panics.
func OrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// redactingHandler wraps another slog.Handler and redacts secret-shaped
// substrings from the record message and every string-valued attribute, and
// the whole value of any string attribute whose key names a secret, before
// delegating.
type redactingHandler struct {
	next     slog.Handler
	patterns []*regexp.Regexp
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, record slog.Record) error {
	redacted := slog.NewRecord(record.Time, record.Level, h.redact(record.Message), record.PC)
	record.Attrs(func(a slog.Attr) bool {
		redacted.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, redacted)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = h.redactAttr(a)
	}
	return &redactingHandler{next: h.next.WithAttrs(redacted), patterns: h.patterns}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name), patterns: h.patterns}
}

// sensitiveKeyParts are attribute-key substrings whose string values are
// redacted whole, whatever their shape.
var sensitiveKeyParts = []string{"api_key", "apikey", "token", "password", "secret", "authorization"}

func (h *redactingHandler) redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		key := strings.ToLower(a.Key)
		for _, part := range sensitiveKeyParts {
			if strings.Contains(key, part) {
				return slog.String(a.Key, "[REDACTED]")
			}
		}
		return slog.String(a.Key, h.redact(a.Value.String()))
	}
	return a
}

func (h *redactingHandler) redact(s string) string {
	for _, re := range h.patterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}
