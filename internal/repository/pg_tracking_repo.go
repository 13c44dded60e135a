package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parishops/mailqueue/internal/domain"
)

type pgTrackingRepository struct {
	pool *pgxpool.Pool
}

// NewPgTrackingRepository returns a TrackingRepository backed by PostgreSQL.
func NewPgTrackingRepository(pool *pgxpool.Pool) TrackingRepository {
	return &pgTrackingRepository{pool: pool}
}

func (r *pgTrackingRepository) RecordEvent(ctx context.Context, e *domain.TrackingEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO email_tracking_events
			(id, message_id, event_type, event_data, user_agent, ip, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.MessageID, e.EventType, e.EventData, e.UserAgent, e.IP, e.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert tracking event: %w", err)
	}
	return nil
}

func (r *pgTrackingRepository) ListByMessage(ctx context.Context, messageID string) ([]*domain.TrackingEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, message_id, event_type, event_data, user_agent, ip, recorded_at
		FROM email_tracking_events
		WHERE message_id = $1
		ORDER BY recorded_at ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list tracking events: %w", err)
	}
	defer rows.Close()

	var events []*domain.TrackingEvent
	for rows.Next() {
		var e domain.TrackingEvent
		if err := rows.Scan(&e.ID, &e.MessageID, &e.EventType, &e.EventData,
			&e.UserAgent, &e.IP, &e.RecordedAt); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
