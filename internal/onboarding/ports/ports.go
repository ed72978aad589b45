// Package ports defines shared interfaces for the onboarding module.
// Interfaces are placed here when consumed by multiple services to avoid duplication.
package ports

import (
	"context"
	"log/slog"

	"deedgate/internal/audit"
	"deedgate/internal/onboarding/models"
	"deedgate/pkg/attrs"
	id "deedgate/pkg/domain"
	"deedgate/pkg/requestcontext"
)

// AuditPublisher emits audit events for lifecycle-relevant operations.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// PropertyStore persists property onboarding records.
//
// Execute is the only mutation path after creation: it loads the record,
// runs validate and mutate while holding the record lock (mutex or FOR
// UPDATE), and persists the result with an optimistic version check. A
// concurrent writer surfaces as sentinel.ErrConflict.
type PropertyStore interface {
	// Create stores a new record. Returns sentinel.ErrAlreadyExists if the
	// ID is taken.
	Create(ctx context.Context, record *models.PropertyOnboarding) error

	// FindByID retrieves a record. Returns sentinel.ErrNotFound if absent.
	FindByID(ctx context.Context, propertyID id.PropertyID) (*models.PropertyOnboarding, error)

	// ListByOwner returns all records submitted by a principal.
	ListByOwner(ctx context.Context, owner id.Principal) ([]*models.PropertyOnboarding, error)

	// ListByStatus returns all records currently in the given status.
	ListByStatus(ctx context.Context, status models.PropertyStatus) ([]*models.PropertyOnboarding, error)

	// Execute atomically validates and mutates a record.
	Execute(ctx context.Context, propertyID id.PropertyID,
		validate func(*models.PropertyOnboarding) error,
		mutate func(*models.PropertyOnboarding)) (*models.PropertyOnboarding, error)
}

// UserStore persists user onboarding records, one per principal, keyed
// case-insensitively.
type UserStore interface {
	// Create stores a new record. Returns sentinel.ErrAlreadyExists if the
	// principal already has one.
	Create(ctx context.Context, record *models.UserOnboarding) error

	// FindByPrincipal retrieves a record. Returns sentinel.ErrNotFound if
	// absent.
	FindByPrincipal(ctx context.Context, principal id.Principal) (*models.UserOnboarding, error)

	// Execute atomically validates and mutates a record under the record
	// lock, with the same conflict semantics as PropertyStore.Execute.
	Execute(ctx context.Context, principal id.Principal,
		validate func(*models.UserOnboarding) error,
		mutate func(*models.UserOnboarding)) (*models.UserOnboarding, error)
}

// LogAudit logs a lifecycle event and forwards it to the audit publisher if
// one is wired. Publisher failures are logged, never propagated: audit
// delivery must not fail the business operation.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, event audit.Event, attrs ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		event.RequestID = requestID
		attrs = append(attrs, "request_id", requestID)
	}
	if device := requestcontext.Device(ctx); device != "" {
		event.Device = device
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.Reason == "" {
		event.Reason = extractReason(attrs)
	}

	args := append(attrs, "action", event.Action, "log_type", "audit")
	if logger != nil {
		logger.InfoContext(ctx, event.Action, args...)
	}

	if publisher == nil {
		return
	}
	if err := publisher.Emit(ctx, event); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "action", event.Action, "error", err)
	}
}

func extractReason(attrList []any) string {
	for _, key := range []string{"reason", "verdict"} {
		if val := attrs.ExtractString(attrList, key); val != "" {
			return val
		}
	}
	return ""
}
