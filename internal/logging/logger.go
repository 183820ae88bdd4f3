// Package logging provides the structured zap logger shared by every
// component. Services hold a *StandardLogger (or the underlying
// *zap.Logger) and attach context through the With* helpers so log lines
// stay queryable by sector, discussion, and agent.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// StandardLogger wraps zap with the field conventions used across the
// engine: service, component, operation, sector_id, discussion_id,
// agent_id, request_id.
type StandardLogger struct {
	logger *zap.Logger
}

// NewStandardLogger builds a logger for the given level and environment.
// Production emits JSON; anything else emits console output with colored
// levels. Invalid levels fall back to info.
func NewStandardLogger(level, environment string) *StandardLogger {
	var cfg zap.Config
	if environment == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(getZapLevel(level))

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		logger = zap.NewNop()
	}
	return &StandardLogger{logger: logger}
}

func getZapLevel(level string) zapcore.Level {
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

// Logger exposes the underlying zap logger for packages that take
// *zap.Logger directly.
func (s *StandardLogger) Logger() *zap.Logger { return s.logger }

func (s *StandardLogger) with(fields ...zap.Field) *StandardLogger {
	return &StandardLogger{logger: s.logger.With(fields...)}
}

func (s *StandardLogger) WithService(service string) *StandardLogger {
	return s.with(zap.String("service", service))
}

func (s *StandardLogger) WithComponent(component string) *StandardLogger {
	return s.with(zap.String("component", component))
}

func (s *StandardLogger) WithOperation(operation string) *StandardLogger {
	return s.with(zap.String("operation", operation))
}

func (s *StandardLogger) WithRequestID(requestID string) *StandardLogger {
	return s.with(zap.String("request_id", requestID))
}

func (s *StandardLogger) WithSector(sectorID string) *StandardLogger {
	return s.with(zap.String("sector_id", sectorID))
}

func (s *StandardLogger) WithDiscussion(discussionID string) *StandardLogger {
	return s.with(zap.String("discussion_id", discussionID))
}

func (s *StandardLogger) WithAgent(agentID string) *StandardLogger {
	return s.with(zap.String("agent_id", agentID))
}

func (s *StandardLogger) WithError(err error) *StandardLogger {
	return s.with(zap.Error(err))
}

// WithFields attaches arbitrary key/value context.
func (s *StandardLogger) WithFields(fields map[string]interface{}) *StandardLogger {
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	return s.with(zf...)
}

func (s *StandardLogger) Debug(msg string, fields ...zap.Field) { s.logger.Debug(msg, fields...) }
func (s *StandardLogger) Info(msg string, fields ...zap.Field)  { s.logger.Info(msg, fields...) }
func (s *StandardLogger) Warn(msg string, fields ...zap.Field)  { s.logger.Warn(msg, fields...) }
func (s *StandardLogger) Error(msg string, fields ...zap.Field) { s.logger.Error(msg, fields...) }

// LogStartup emits the canonical service startup line.
func (s *StandardLogger) LogStartup(service, version string, port int) {
	s.logger.Info("service starting",
		zap.String("event", "startup"),
		zap.String("service", service),
		zap.String("version", version),
		zap.Int("port", port),
	)
}

// LogShutdown emits the canonical service shutdown line.
func (s *StandardLogger) LogShutdown(service, reason string) {
	s.logger.Info("service stopping",
		zap.String("event", "shutdown"),
		zap.String("service", service),
		zap.String("reason", reason),
	)
}

// LogAPIRequest records one handled HTTP request.
func (s *StandardLogger) LogAPIRequest(method, path string, statusCode int, durationMS int64, clientID string) {
	s.logger.Info("api request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", statusCode),
		zap.Int64("duration_ms", durationMS),
		zap.String("client_id", clientID),
	)
}

// Sync flushes buffered log entries. Callers defer this in main.
func (s *StandardLogger) Sync() error { return s.logger.Sync() }
