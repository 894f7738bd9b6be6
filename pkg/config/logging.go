package config

import (
	"io"
	"log/slog"
	"os"

	"github.com/danield137/lev/runtime/logger"
)

// LogFormat constants for programmatic use.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// LoggingSpec is the optional logging section of a suite.
type LoggingSpec struct {
	// Level is one of debug, info, warn, error. Empty keeps LOG_LEVEL.
	Level string `yaml:"level,omitempty"`
	// Format is json or text. Empty keeps LOG_FORMAT.
	Format string `yaml:"format,omitempty"`
}

// Apply configures the global logger. verbose forces debug level.
func (l *LoggingSpec) Apply(verbose bool, w io.Writer) {
	level, format := os.Getenv("LOG_LEVEL"), ""
	if l != nil {
		if l.Level != "" {
			level = l.Level
		}
		format = l.Format
	}
	lvl := logger.ParseLevel(level)
	if verbose {
		lvl = slog.LevelDebug
	}
	logger.Configure(lvl, format, w)
}
