// Package logger provides structured logging with automatic secret redaction.
//
// This package wraps Go's standard log/slog with convenience functions for:
//   - model completion logging (requests, responses, errors)
//   - tool server call logging
//   - API key and bearer token redaction
//   - contextual fields (case, run, provider) pulled from context.Context
//
// All exported functions use the global DefaultLogger, which reads LOG_LEVEL
// and LOG_FORMAT at start-up and can be reconfigured with Configure.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
)

var (
	// DefaultLogger is the global structured logger instance.
	// It is safe for concurrent use and initialized with slog.LevelInfo by default.
	DefaultLogger *slog.Logger

	mu     sync.Mutex
	output io.Writer = os.Stderr
	format           = "text"
)

func init() {
	if envFormat := os.Getenv("LOG_FORMAT"); envFormat != "" {
		format = strings.ToLower(envFormat)
	}
	DefaultLogger = build(ParseLevel(os.Getenv("LOG_LEVEL")))
}

// ParseLevel maps a level name to a slog.Level. Unknown names map to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
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

func build(level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if format == "json" {
		inner = slog.NewJSONHandler(output, opts)
	} else {
		inner = slog.NewTextHandler(output, opts)
	}
	return slog.New(NewContextHandler(inner))
}

// Configure replaces the global logger. An empty fmtName keeps the current
// format and a nil w keeps the current output.
func Configure(level slog.Level, fmtName string, w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if fmtName != "" {
		format = strings.ToLower(fmtName)
	}
	if w != nil {
		output = w
	}
	DefaultLogger = build(level)
}

// SetLevel changes the logging level for all subsequent log operations.
func SetLevel(level slog.Level) {
	Configure(level, "", nil)
}

// SetVerbose enables debug-level logging when verbose is true, otherwise sets info-level.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

// Info logs an informational message with structured key-value attributes.
func Info(msg string, args ...any) {
	DefaultLogger.Info(msg, args...)
}

// InfoContext logs an informational message with context fields attached.
func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

// Debug logs a debug-level message with structured attributes.
func Debug(msg string, args ...any) {
	DefaultLogger.Debug(msg, args...)
}

// DebugContext logs a debug message with context fields attached.
func DebugContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.DebugContext(ctx, msg, args...)
}

// Warn logs a warning message with structured attributes.
func Warn(msg string, args ...any) {
	DefaultLogger.Warn(msg, args...)
}

// WarnContext logs a warning message with context fields attached.
func WarnContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.WarnContext(ctx, msg, args...)
}

// Error logs an error message with structured attributes.
func Error(msg string, args ...any) {
	DefaultLogger.Error(msg, args...)
}

// ErrorContext logs an error message with context fields attached.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}

// LLMCall logs an outbound model completion.
func LLMCall(ctx context.Context, provider string, messages, tools int, attrs ...any) {
	allAttrs := make([]any, 0, 6+len(attrs))
	allAttrs = append(allAttrs,
		"provider", provider,
		"messages", messages,
		"tools", tools,
	)
	allAttrs = append(allAttrs, attrs...)
	DebugContext(ctx, "🤖 LLM API Call", allAttrs...)
}

// LLMResponse logs a model completion with token usage.
func LLMResponse(ctx context.Context, provider string, tokensIn, tokensOut, toolCalls int, attrs ...any) {
	allAttrs := make([]any, 0, 8+len(attrs))
	allAttrs = append(allAttrs,
		"provider", provider,
		"tokens_in", tokensIn,
		"tokens_out", tokensOut,
		"tool_calls", toolCalls,
	)
	allAttrs = append(allAttrs, attrs...)
	DebugContext(ctx, "✅ LLM API Response", allAttrs...)
}

// LLMError logs a failed model completion.
func LLMError(ctx context.Context, provider string, err error, attrs ...any) {
	allAttrs := make([]any, 0, 4+len(attrs))
	allAttrs = append(allAttrs,
		"provider", provider,
		"error", err,
	)
	allAttrs = append(allAttrs, attrs...)
	ErrorContext(ctx, "❌ LLM API Call Failed", allAttrs...)
}

// ToolCall logs a tool server invocation once it has completed.
func ToolCall(ctx context.Context, server, tool string, id any, latencyMs int64, err error) {
	attrs := []any{
		"server", server,
		"tool", tool,
		"id", id,
		"latency_ms", latencyMs,
	}
	if err != nil {
		attrs = append(attrs, "error", err)
		WarnContext(ctx, "🔧 MCP call failed", attrs...)
		return
	}
	DebugContext(ctx, "🔧 MCP call", attrs...)
}

var (
	// apiKeyPatterns match common API key formats from various providers.
	apiKeyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`), // Anthropic API keys
		regexp.MustCompile(`sk-[a-zA-Z0-9_-]{32,}`),     // OpenAI API keys
		regexp.MustCompile(`Bearer\s+[a-zA-Z0-9_.-]+`),  // Bearer tokens
	}
)

// RedactSensitiveData removes API keys and other secrets from strings.
// Keys keep their first four characters for debugging; bearer tokens are
// replaced entirely.
func RedactSensitiveData(input string) string {
	result := input

	for _, pattern := range apiKeyPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			if strings.HasPrefix(match, "Bearer") {
				return "Bearer [REDACTED]"
			}
			if len(match) > 8 {
				return match[:4] + "...[REDACTED]"
			}
			return "[REDACTED]"
		})
	}

	return result
}
