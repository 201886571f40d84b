// Package logging configures the zerolog loggers used by the tracker
// binaries. Services log JSON; interactive tools log to a console writer
// or, when a TUI owns the terminal, to an arbitrary io.Writer.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration options.
type Config struct {
	// Level is the minimum log level to output
	Level string `json:"level" yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic disabled"`

	// Format is the output format (json, console, auto)
	Format string `json:"format" yaml:"format" validate:"omitempty,oneof=json console pretty auto"`

	// Output is where to write logs (stderr, stdout, discard, or file path)
	Output string `json:"output" yaml:"output"`

	// NoColor disables color output in console mode
	NoColor bool `json:"no_color" yaml:"no_color"`

	// AddCaller includes file:line in log output
	AddCaller bool `json:"add_caller" yaml:"add_caller"`

	// Fields are default fields attached to every entry
	Fields map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// DefaultConfig returns info-level logging to stderr with format auto-detected.
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Format:  "auto",
		Output:  "stderr",
		NoColor: os.Getenv("NO_COLOR") != "",
	}
}

var defaultLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Default returns the process-wide logger.
func Default() *zerolog.Logger {
	return &defaultLogger
}

// SetDefault replaces the process-wide logger. It also becomes zerolog's
// global logger and the fallback returned by zerolog.Ctx.
func SetDefault(logger zerolog.Logger) {
	defaultLogger = logger
	log.Logger = logger
	zerolog.DefaultContextLogger = &defaultLogger
}

// Configure builds a logger from cfg and installs it as the default.
func Configure(cfg Config) (zerolog.Logger, io.Closer) {
	writer, closer := openOutput(cfg.Output)
	logger := NewWithWriter(cfg, writer)
	SetDefault(logger)
	return logger, closer
}

// NewWithWriter builds a logger that writes to w, honoring level, format,
// caller and default fields from cfg.
func NewWithWriter(cfg Config, w io.Writer) zerolog.Logger {
	level := ParseLevel(cfg.Level)

	if useConsole(cfg.Format, w) {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.Kitchen,
			NoColor:    cfg.NoColor,
		}
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()

	if cfg.AddCaller || level <= zerolog.DebugLevel {
		logger = logger.With().Caller().Logger()
	}

	if len(cfg.Fields) > 0 {
		ctx := logger.With()
		for k, v := range cfg.Fields {
			ctx = ctx.Str(k, v)
		}
		logger = ctx.Logger()
	}

	return logger
}

// WithContext attaches logger to ctx so that zerolog.Ctx finds it.
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}

// Component returns a child of the default logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return defaultLogger.With().Str("component", name).Logger()
}

// ParseLevel parses a level name, falling back to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "warning":
		return zerolog.WarnLevel
	case "none", "off":
		return zerolog.Disabled
	case "":
		return zerolog.InfoLevel
	}
	if l, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil {
		return l
	}
	return zerolog.InfoLevel
}

func useConsole(format string, w io.Writer) bool {
	switch strings.ToLower(format) {
	case "console", "pretty":
		return true
	case "json":
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openOutput resolves an output name to a writer. Unknown names are file
// paths; a file that cannot be opened falls back to stderr.
func openOutput(output string) (io.Writer, io.Closer) {
	switch strings.ToLower(output) {
	case "", "stderr":
		return os.Stderr, nopCloser{}
	case "stdout":
		return os.Stdout, nopCloser{}
	case "discard", "none":
		return io.Discard, nopCloser{}
	}

	file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return os.Stderr, nopCloser{}
	}
	return file, file
}
