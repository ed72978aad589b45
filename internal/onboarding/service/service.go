// Package service hosts the property and user onboarding workflows. Each
// operation runs to completion against one record; the oracle call is the
// only suspension point and persistence of the outcome always happens after
// it, so a crash between verdict and write is recoverable by resubmitting.
package service

import (
	"errors"
	"log/slog"

	"deedgate/internal/onboarding/metrics"
	"deedgate/internal/onboarding/ports"
	dErrors "deedgate/pkg/domain-errors"
	"deedgate/pkg/platform/sentinel"
)

// Upload carries one raw file from the form layer.
type Upload struct {
	Name     string
	MimeType string
	Bytes    []byte
}

type serviceConfig struct {
	logger         *slog.Logger
	auditPublisher ports.AuditPublisher
	metrics        *metrics.Metrics
}

// Option configures a workflow service.
type Option func(*serviceConfig)

// WithLogger injects a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *serviceConfig) { c.logger = logger }
}

// WithAuditPublisher injects the audit event sink.
func WithAuditPublisher(p ports.AuditPublisher) Option {
	return func(c *serviceConfig) { c.auditPublisher = p }
}

// WithMetrics injects the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *serviceConfig) { c.metrics = m }
}

// wrapStoreErr translates sentinel store errors into coded domain errors.
// Coded errors surfaced by Execute callbacks pass through untouched.
func wrapStoreErr(err error) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "onboarding record not found")
	case errors.Is(err, sentinel.ErrAlreadyExists):
		return dErrors.Wrap(err, dErrors.CodeConflict, "onboarding record already exists")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "concurrent write on onboarding record")
	default:
		return dErrors.Wrap(err, dErrors.CodeStorage, "onboarding store failure")
	}
}
