// Package logging - Structured logger construction shared by every component.
package logging

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// Logger is the logger type handed to long-lived components.
type Logger = *zap.SugaredLogger

// NewLoggerConfig returns the console logger configuration: no stacktraces, ISO8601
// time, short callers and colored levels.
func NewLoggerConfig() zap.Config {
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(zap.InfoLevel),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// NewLogger returns an Info+ logger named name.
func NewLogger(name string) Logger {
	logger, err := FromLevel("info", name)
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger
}

// NewDebugLogger returns a Debug+ logger named name.
func NewDebugLogger(name string) Logger {
	logger, err := FromLevel("debug", name)
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger
}

// FromLevel builds a named console logger at the given level.
//
// Arguments:
//   - level: One of debug, info, warn, error. Empty means info.
//   - name: The logger name.
//
// Returns:
//   - Logger: The logger.
//   - error: An error if the level is unknown or the sinks cannot be opened.
func FromLevel(level, name string) (Logger, error) {
	cfg := NewLoggerConfig()
	if level = strings.TrimSpace(level); level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid log level %q", level)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build logger")
	}
	return logger.Sugar().Named(name), nil
}

// NewTestLogger returns a Debug+ logger that writes through tb.
func NewTestLogger(tb testing.TB) Logger {
	return zaptest.NewLogger(tb, zaptest.Level(zap.DebugLevel)).Sugar()
}

// OrNop returns logger, or a no-op logger if it is nil.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return zap.NewNop().Sugar()
	}
	return logger
}
