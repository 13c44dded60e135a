package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parishops/mailqueue/internal/account"
	"github.com/parishops/mailqueue/internal/domain"
	"github.com/parishops/mailqueue/internal/repository"
)

const defaultMaxAttempts = 3

// MailService coordinates the queue repository, tracking repository, and
// account pool for the HTTP layer. Producers enqueue through it; the batch
// worker mutates queue state directly through the repository.
type MailService struct {
	repo     repository.MailRepository
	tracking repository.TrackingRepository
	pool     *account.Pool
	logger   *zap.Logger
}

func NewMailService(
	repo repository.MailRepository,
	tracking repository.TrackingRepository,
	pool *account.Pool,
	logger *zap.Logger,
) *MailService {
	return &MailService{repo: repo, tracking: tracking, pool: pool, logger: logger}
}

// Enqueue validates and persists a new outbound message with status=pending,
// attempts=0, next_attempt_at=now. Returns the stored message with its
// generated id.
func (s *MailService) Enqueue(ctx context.Context, req domain.EnqueueRequest) (*domain.QueuedMessage, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	maxAttempts := defaultMaxAttempts
	if req.MaxAttempts != nil {
		maxAttempts = *req.MaxAttempts
	}

	now := time.Now().UTC()
	m := &domain.QueuedMessage{
		ID:            uuid.New().String(),
		To:            req.To,
		From:          req.From,
		Subject:       req.Subject,
		HTMLBody:      req.HTMLBody,
		TextBody:      req.TextBody,
		Category:      req.Category,
		Metadata:      req.Metadata,
		Status:        domain.StatusPending,
		Attempts:      0,
		MaxAttempts:   maxAttempts,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}
	return m, nil
}

func (s *MailService) GetByID(ctx context.Context, id string) (*domain.QueuedMessage, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *MailService) List(ctx context.Context, filter domain.ListFilter) ([]*domain.QueuedMessage, int, error) {
	return s.repo.List(ctx, filter)
}

// QueueStats is the operator-facing snapshot served by the stats endpoint.
type QueueStats struct {
	Statuses map[domain.Status]int `json:"statuses"`
	Accounts []account.Snapshot    `json:"accounts"`
}

func (s *MailService) Stats(ctx context.Context) (*QueueStats, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return &QueueStats{Statuses: counts, Accounts: s.pool.Snapshots()}, nil
}

// RecordTracking appends an open/click event. Write failures are logged and
// swallowed: a broken tracking write must never surface to the recipient's
// browser.
func (s *MailService) RecordTracking(ctx context.Context, messageID string, eventType domain.EventType, eventData, userAgent, ip string) {
	e := &domain.TrackingEvent{
		ID:         uuid.New().String(),
		MessageID:  messageID,
		EventType:  eventType,
		UserAgent:  userAgent,
		IP:         ip,
		RecordedAt: time.Now().UTC(),
	}
	if eventData != "" {
		e.EventData = &eventData
	}

	if err := s.tracking.RecordEvent(ctx, e); err != nil {
		s.logger.Warn("tracking write failed",
			zap.String("message_id", messageID),
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
	}
}

func (s *MailService) ListTrackingEvents(ctx context.Context, messageID string) ([]*domain.TrackingEvent, error) {
	// 404 on unknown message ids rather than an empty list.
	if _, err := s.repo.GetByID(ctx, messageID); err != nil {
		return nil, err
	}
	return s.tracking.ListByMessage(ctx, messageID)
}
