// Package logger provides structured logging for the IntCopilot services.
// It wraps zap with a small field vocabulary and context propagation so that
// the attendance barker and the student sniffer log the same way.
package logger

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/blake2b"
)

// Level represents the severity of a log message.
type Level = zapcore.Level

const (
	LevelDebug = zapcore.DebugLevel
	LevelInfo  = zapcore.InfoLevel
	LevelWarn  = zapcore.WarnLevel
	LevelError = zapcore.ErrorLevel
	LevelFatal = zapcore.FatalLevel
)

// ParseLevel parses a string into a Level. Unknown values fall back to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Field represents a key-value pair for structured logging.
type Field = zap.Field

// F creates a new Field with the given key and value.
func F(key string, value any) Field { return zap.Any(key, value) }

// Common field constructors for convenience.
func String(key, value string) Field          { return zap.String(key, value) }
func Int(key string, value int) Field         { return zap.Int(key, value) }
func Int64(key string, value int64) Field     { return zap.Int64(key, value) }
func Float64(key string, value float64) Field { return zap.Float64(key, value) }
func Bool(key string, value bool) Field       { return zap.Bool(key, value) }
func Any(key string, value any) Field         { return zap.Any(key, value) }

// Err creates an error field.
func Err(err error) Field { return zap.Error(err) }

// Duration creates a duration field.
func Duration(key string, value time.Duration) Field { return zap.Duration(key, value) }

// Time creates a time field.
func Time(key string, value time.Time) Field { return zap.Time(key, value) }

// Secret logs a short blake2b fingerprint of value instead of the value itself.
// Two log lines with the same fingerprint used the same credential.
func Secret(key, value string) Field {
	if value == "" {
		return zap.String(key, "")
	}
	sum := blake2b.Sum256([]byte(value))
	return zap.String(key, "b2:"+hex.EncodeToString(sum[:6]))
}

// Options configures the logger.
type Options struct {
	Level       Level
	Format      string // json or console
	Development bool
	OutputPaths []string
}

// DefaultOptions returns sensible defaults for the logger.
func DefaultOptions() Options {
	return Options{
		Level:       LevelInfo,
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// Logger is the main logger struct.
type Logger struct {
	z *zap.Logger
}

// New creates a new Logger with the given options.
func New(opts Options) (*Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if opts.Development {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.Sampling = nil
	}
	if opts.Format == "console" {
		zapCfg.Encoding = "console"
	} else {
		zapCfg.Encoding = "json"
	}
	zapCfg.Level = zap.NewAtomicLevelAt(opts.Level)
	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	if len(opts.OutputPaths) > 0 {
		zapCfg.OutputPaths = opts.OutputPaths
	}

	z, err := zapCfg.Build(
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return &Logger{z: z}, nil
}

// Must creates a new Logger and exits the process if it fails.
func Must(opts Options) *Logger {
	l, err := New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return l
}

// FromZap wraps an existing zap logger.
func FromZap(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{z: z.WithOptions(zap.AddCallerSkip(1))}
}

// NewNop returns a logger that discards everything. Handy in tests.
func NewNop() *Logger {
	return &Logger{z: zap.NewNop()}
}

// Default creates a logger with default options, falling back to a no-op
// logger if zap cannot be built.
func Default() *Logger {
	l, err := New(DefaultOptions())
	if err != nil {
		return NewNop()
	}
	return l
}

// Zap exposes the underlying zap logger for libraries that want one.
func (l *Logger) Zap() *zap.Logger {
	return l.z.WithOptions(zap.AddCallerSkip(-1))
}

// With returns a new Logger with the given fields added.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

// Named returns a child logger with the given name segment.
func (l *Logger) Named(name string) *Logger {
	return &Logger{z: l.z.Named(name)}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...Field) { l.z.Info(msg, fields...) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...Field) { l.z.Warn(msg, fields...) }

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }

// Fatal logs a fatal message and exits the program.
func (l *Logger) Fatal(msg string, fields ...Field) { l.z.Fatal(msg, fields...) }

// Infof logs a formatted info message.
func (l *Logger) Infof(format string, args ...any) { l.z.Info(fmt.Sprintf(format, args...)) }

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...any) { l.z.Error(fmt.Sprintf(format, args...)) }

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.z.Sync()
}

// Context key for logger.
type ctxKey struct{}

// WithContext returns a new context with the logger attached.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger from context, or returns a default logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Default()
}

// Domain helpers.
func StudentID(id string) Field       { return String("student_id", id) }
func SchoolYearID(id string) Field    { return String("school_year_id", id) }
func ProfileID(id string) Field       { return String("profile_id", id) }
func Course(name string) Field        { return String("course", name) }
func CrawlStatus(status string) Field { return String("crawl_status", status) }
func Component(name string) Field     { return String("component", name) }
func Operation(name string) Field     { return String("operation", name) }
func Latency(d time.Duration) Field   { return Duration("latency", d) }
