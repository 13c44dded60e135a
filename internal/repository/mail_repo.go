package repository

import (
	"context"
	"time"

	"github.com/parishops/mailqueue/internal/domain"
)

// MailRepository defines all persistence operations for queued messages.
// The pgx implementation is in pg_mail_repo.go.
// Tests use a hand-written mock (mock_mail_repo.go).
type MailRepository interface {
	Create(ctx context.Context, m *domain.QueuedMessage) error
	GetByID(ctx context.Context, id string) (*domain.QueuedMessage, error)
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.QueuedMessage, int, error)

	// ClaimDue atomically moves up to limit due pending rows to status=sending
	// and returns them, oldest first. Two concurrent claims never return
	// overlapping rows.
	ClaimDue(ctx context.Context, limit int, now time.Time) ([]*domain.QueuedMessage, error)

	// MarkSent resolves a claimed row to the terminal sent state.
	MarkSent(ctx context.Context, id string, attempts int, providerMsgID string, sentAt time.Time) error
	// MarkFailed resolves a claimed row to the terminal failed state.
	MarkFailed(ctx context.Context, id string, attempts int, errMsg string) error
	// Requeue returns a claimed row to pending after a counted failed attempt.
	Requeue(ctx context.Context, id string, attempts int, nextAttempt time.Time, errMsg string) error
	// Defer returns a claimed row to pending without touching attempts
	// (no eligible sending account was available).
	Defer(ctx context.Context, id string, nextAttempt time.Time) error
	// Release returns a claimed but never-attempted row to pending unchanged
	// (run budget exhausted before the row was reached).
	Release(ctx context.Context, id string) error

	CountByStatus(ctx context.Context) (map[domain.Status]int, error)
}

// TrackingRepository persists recipient interaction events.
type TrackingRepository interface {
	RecordEvent(ctx context.Context, e *domain.TrackingEvent) error
	ListByMessage(ctx context.Context, messageID string) ([]*domain.TrackingEvent, error)
}
