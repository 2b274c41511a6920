package observer

import (
	"context"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-http-capture/internal/domain"
)

// Log writes each capture as a structured log entry.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a log observer
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger.Named("capture")}
}

// Name implements Named
func (l *Log) Name() string { return "log" }

// Handle implements Observer
func (l *Log) Handle(_ context.Context, req *domain.CapturedRequest) error {
	l.logger.Info("Captured request",
		zap.String("id", req.ID),
		zap.Int("port", req.Port),
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.String("address", req.Address),
		zap.Any("querystring", req.Query),
		zap.Any("headers", req.Headers),
		zap.Any("body", req.Body),
	)
	return nil
}
