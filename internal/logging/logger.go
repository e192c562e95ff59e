package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a production ready structured logger at the given level.
// Unknown levels fall back to info.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	if parsed, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(parsed)
	}
	return cfg.Build()
}

// WithOperation enriches the logger with operation and record identifiers.
func WithOperation(logger *zap.Logger, operation, recordID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if recordID != "" {
		fields = append(fields, zap.String("record_id", recordID))
	}
	return logger.With(fields...)
}
