// Package logging provides the leveled logger shared by the worker components.
package logging

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging surface every component accepts. *zap.SugaredLogger
// satisfies it.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// ParseLevel maps a config string to a level, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New writes JSON lines at level and above to w, using the production
// encoder settings.
func New(w io.Writer, level zapcore.Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(cfg.EncoderConfig),
		zapcore.Lock(zapcore.AddSync(w)),
		cfg.Level,
	)
	return zap.New(core, zap.AddCaller()).Sugar()
}

// Default logs info and above to stderr.
func Default() Logger {
	return New(os.Stderr, zapcore.InfoLevel)
}

// Discard drops everything; used by tests.
func Discard() Logger {
	return zap.NewNop().Sugar()
}

// OrDefault returns l, or Default when l is nil.
func OrDefault(l Logger) Logger {
	if l != nil {
		return l
	}
	return Default()
}
