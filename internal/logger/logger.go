// Package logger provides structured, level-gated logging for the anonymizer.
//
// Loggers are thin module-scoped wrappers around a zap core. The console
// encoding keeps one line per entry with fixed columns:
//
//	2006-01-02 15:04:05.000 | INFO  | ENGINE       | analysis complete | {"action": "analyze"}
//
// Levels (lowest to highest): debug, info, warn, error.
// Entries below the configured minimum level are dropped.
//
// Usage:
//
//	log := logger.New("ENGINE", cfg.LogLevel)
//	log.Info("analyze", "analysis complete")
//	log.Errorf("external", "detector %s: %v", name, err)
//
// Callers log counts, offsets and entity types. Matched substrings of the
// input text are never passed to a logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents a log severity.
type Level int

// Log severity constants, ordered lowest to highest.
const (
	LevelDebug Level = iota // fine-grained diagnostic output
	LevelInfo               // normal operational messages
	LevelWarn               // unexpected but recoverable conditions
	LevelError              // failures requiring attention
)

func (l Level) zap() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger writes structured log lines for a single module.
type Logger struct {
	module string
	level  zap.AtomicLevel
	z      *zap.Logger
}

// New creates a Logger for the given module writing to stderr, gated at the
// given level string. Unrecognized level strings default to "info".
func New(module, levelStr string) *Logger {
	return newWithWriter(module, levelStr, os.Stderr)
}

func newWithWriter(module, levelStr string, w io.Writer) *Logger {
	level := zap.NewAtomicLevelAt(parseLevel(levelStr).zap())
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.AddSync(w), level)
	return &Logger{
		module: strings.ToUpper(module),
		level:  level,
		z:      zap.New(core).Named(strings.ToUpper(module)),
	}
}

// NewWithCore wraps an existing zap core. Tests pass an observer core here.
func NewWithCore(module string, core zapcore.Core) *Logger {
	return &Logger{
		module: strings.ToUpper(module),
		level:  zap.NewAtomicLevelAt(zapcore.DebugLevel),
		z:      zap.New(core).Named(strings.ToUpper(module)),
	}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{module: "NOP", level: zap.NewAtomicLevel(), z: zap.NewNop()}
}

// Module returns a Logger for another module sharing this logger's core and
// level.
func (l *Logger) Module(name string) *Logger {
	return &Logger{
		module: strings.ToUpper(name),
		level:  l.level,
		z:      zap.New(l.z.Core()).Named(strings.ToUpper(name)),
	}
}

// SetLevel changes the minimum log level at runtime. Loggers derived with
// Module share the change.
func (l *Logger) SetLevel(levelStr string) {
	l.level.SetLevel(parseLevel(levelStr).zap())
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.z.Sync() }

// Debug logs at DEBUG level.
func (l *Logger) Debug(action, msg string) { l.z.Debug(msg, zap.String("action", action)) }

// Info logs at INFO level.
func (l *Logger) Info(action, msg string) { l.z.Info(msg, zap.String("action", action)) }

// Warn logs at WARN level.
func (l *Logger) Warn(action, msg string) { l.z.Warn(msg, zap.String("action", action)) }

// Error logs at ERROR level.
func (l *Logger) Error(action, msg string) { l.z.Error(msg, zap.String("action", action)) }

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(action, format string, args ...any) {
	if !l.z.Core().Enabled(zapcore.DebugLevel) {
		return
	}
	l.Debug(action, fmt.Sprintf(format, args...))
}

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(action, format string, args ...any) {
	l.Info(action, fmt.Sprintf(format, args...))
}

// Warnf logs a formatted message at WARN level.
func (l *Logger) Warnf(action, format string, args ...any) {
	l.Warn(action, fmt.Sprintf(format, args...))
}

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(action, format string, args ...any) {
	l.Error(action, fmt.Sprintf(format, args...))
}

// Fatal logs at ERROR level and then calls os.Exit(1).
func (l *Logger) Fatal(action, msg string) {
	l.Error(action, msg)
	_ = l.z.Sync()
	os.Exit(1)
}

// Fatalf logs a formatted message at ERROR level and then calls os.Exit(1).
func (l *Logger) Fatalf(action, format string, args ...any) {
	l.Fatal(action, fmt.Sprintf(format, args...))
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:          "ts",
		LevelKey:         "level",
		NameKey:          "module",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		ConsoleSeparator: " | ",
		EncodeTime:       zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000"),
		EncodeLevel: func(lvl zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(fmt.Sprintf("%-5s", lvl.CapitalString()))
		},
		EncodeName: func(name string, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(fmt.Sprintf("%-12s", name))
		},
		EncodeDuration: zapcore.StringDurationEncoder,
	}
}

// parseLevel converts a string to a Level, defaulting to LevelInfo.
func parseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}
