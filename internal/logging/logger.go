// Package logging builds the structured zap logger used by the kernel.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/plugkit/kernel/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a logger from the logging configuration. An empty level
// yields a no-op logger.
func New(cfg config.Logging) *zap.Logger {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter is New with an explicit sink.
func NewWithWriter(cfg config.Logging, w io.Writer) *zap.Logger {
	if cfg.Level == "" {
		return zap.NewNop()
	}

	core := zapcore.NewCore(encoder(cfg.Format), zapcore.AddSync(w), ParseLevel(cfg.Level))

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	} else {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return zap.New(core, opts...)
}

func encoder(format string) zapcore.Encoder {
	if strings.EqualFold(format, "console") {
		return zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.LevelKey = "level"
	encoderConfig.MessageKey = "msg"
	encoderConfig.CallerKey = "caller"
	encoderConfig.StacktraceKey = "stacktrace"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

// ParseLevel converts a string log level to a zapcore.Level. Unknown
// values map to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Component returns a child logger tagged with the component name.
func Component(l *zap.Logger, name string) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l.Named(name)
}
