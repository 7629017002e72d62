// Package observability carries the storefront's structured logging, tracing and HTTP metrics.
package observability

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"finitefield.org/wholesale/internal/platform/requestctx"
)

type loggerConfig struct {
	level   string
	outputs []string
	fields  []zap.Field
}

// LoggerOption customises NewLogger.
type LoggerOption func(*loggerConfig)

// WithLevel overrides the LOG_LEVEL environment variable.
func WithLevel(level string) LoggerOption {
	return func(cfg *loggerConfig) {
		if level = strings.TrimSpace(level); level != "" {
			cfg.level = level
		}
	}
}

// WithOutputPaths replaces stdout as the log sink.
func WithOutputPaths(paths ...string) LoggerOption {
	return func(cfg *loggerConfig) {
		if len(paths) > 0 {
			cfg.outputs = paths
		}
	}
}

// WithService stamps every entry with the service name and build version.
func WithService(name, version string) LoggerOption {
	return func(cfg *loggerConfig) {
		if name != "" {
			cfg.fields = append(cfg.fields, zap.String("service", name))
		}
		if version != "" {
			cfg.fields = append(cfg.fields, zap.String("version", version))
		}
	}
}

// NewLogger builds the JSON logger. Field names follow Cloud Logging (message, timestamp, severity)
// and the level defaults to LOG_LEVEL, then info.
func NewLogger(opts ...LoggerOption) (*zap.Logger, error) {
	cfg := loggerConfig{level: os.Getenv("LOG_LEVEL"), outputs: []string{"stdout"}}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if raw := strings.ToLower(strings.TrimSpace(cfg.level)); raw != "" {
		if parsed, err := zapcore.ParseLevel(raw); err == nil {
			level.SetLevel(parsed)
		}
	}

	logger, err := zap.Config{
		Level:             level,
		Encoding:          "json",
		EncoderConfig:     encoderConfig(),
		OutputPaths:       cfg.outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(cfg.fields...), nil
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey:     "message",
		TimeKey:        "timestamp",
		LevelKey:       "severity",
		NameKey:        "logger",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// WithLogger puts logger on ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// FromContext returns the request logger, or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	return requestctx.Logger(ctx)
}
