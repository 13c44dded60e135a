package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parishops/mailqueue/internal/domain"
)

const messageColumns = `id, to_address, from_address, subject, html_body, text_body,
	       category, metadata, status, attempts, max_attempts, next_attempt_at,
	       last_error, provider_msg_id, created_at, sent_at, updated_at`

type pgMailRepository struct {
	pool *pgxpool.Pool
}

// NewPgMailRepository returns a MailRepository backed by PostgreSQL.
func NewPgMailRepository(pool *pgxpool.Pool) MailRepository {
	return &pgMailRepository{pool: pool}
}

func (r *pgMailRepository) Create(ctx context.Context, m *domain.QueuedMessage) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO email_queue
			(id, to_address, from_address, subject, html_body, text_body,
			 category, metadata, status, attempts, max_attempts, next_attempt_at,
			 created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		m.ID, m.To, m.From, m.Subject, m.HTMLBody, m.TextBody,
		m.Category, m.Metadata, m.Status, m.Attempts, m.MaxAttempts, m.NextAttemptAt,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert queued message: %w", err)
	}
	return nil
}

func (r *pgMailRepository) GetByID(ctx context.Context, id string) (*domain.QueuedMessage, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM email_queue WHERE id = $1`, id)

	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return m, err
}

func (r *pgMailRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.QueuedMessage, int, error) {
	where, args := buildListWhere(f)
	offset := (f.Page - 1) * f.Limit

	// Count total matching rows for pagination metadata.
	var total int
	countQuery := "SELECT COUNT(*) FROM email_queue" + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	// Append pagination args after the WHERE args.
	args = append(args, f.Limit, offset)
	limitPlaceholder := fmt.Sprintf("$%d", len(args)-1)
	offsetPlaceholder := fmt.Sprintf("$%d", len(args))

	query := fmt.Sprintf(`
		SELECT `+messageColumns+`
		FROM email_queue%s
		ORDER BY created_at DESC
		LIMIT %s OFFSET %s`, where, limitPlaceholder, offsetPlaceholder)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

// ClaimDue is the sole synchronisation point between worker runs.
// FOR UPDATE SKIP LOCKED makes concurrent claims partition the due set
// instead of blocking or double-claiming; the enclosing UPDATE flips the
// winners to the sending marker in the same statement.
func (r *pgMailRepository) ClaimDue(ctx context.Context, limit int, now time.Time) ([]*domain.QueuedMessage, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE email_queue
		SET status = 'sending', updated_at = $2
		WHERE id IN (
			SELECT id FROM email_queue
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+messageColumns, now, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due messages: %w", err)
	}
	defer rows.Close()

	claimed, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING does not honour the subquery ORDER BY; restore oldest-first.
	sortByCreatedAt(claimed)
	return claimed, nil
}

func (r *pgMailRepository) MarkSent(ctx context.Context, id string, attempts int, providerMsgID string, sentAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE email_queue
		SET status = 'sent', attempts = $1, provider_msg_id = $2, sent_at = $3,
		    last_error = NULL, updated_at = $3
		WHERE id = $4 AND status = 'sending'`,
		attempts, providerMsgID, sentAt, id)
	return err
}

func (r *pgMailRepository) MarkFailed(ctx context.Context, id string, attempts int, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE email_queue
		SET status = 'failed', attempts = $1, last_error = $2, updated_at = NOW()
		WHERE id = $3 AND status = 'sending'`,
		attempts, errMsg, id)
	return err
}

func (r *pgMailRepository) Requeue(ctx context.Context, id string, attempts int, nextAttempt time.Time, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE email_queue
		SET status = 'pending', attempts = $1, next_attempt_at = $2, last_error = $3,
		    updated_at = NOW()
		WHERE id = $4 AND status = 'sending'`,
		attempts, nextAttempt, errMsg, id)
	return err
}

func (r *pgMailRepository) Defer(ctx context.Context, id string, nextAttempt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE email_queue
		SET status = 'pending', next_attempt_at = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'sending'`,
		nextAttempt, id)
	return err
}

func (r *pgMailRepository) Release(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE email_queue
		SET status = 'pending', updated_at = NOW()
		WHERE id = $1 AND status = 'sending'`, id)
	return err
}

func (r *pgMailRepository) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM email_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Status]int)
	for rows.Next() {
		var s domain.Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[s] = n
	}
	return counts, rows.Err()
}

// ---- helpers ----

// scanMessage reads a single message row from any pgx row type.
func scanMessage(row pgx.Row) (*domain.QueuedMessage, error) {
	var m domain.QueuedMessage
	err := row.Scan(
		&m.ID, &m.To, &m.From, &m.Subject, &m.HTMLBody, &m.TextBody,
		&m.Category, &m.Metadata, &m.Status, &m.Attempts, &m.MaxAttempts,
		&m.NextAttemptAt, &m.LastError, &m.ProviderMsgID,
		&m.CreatedAt, &m.SentAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanMessages(rows pgx.Rows) ([]*domain.QueuedMessage, error) {
	var result []*domain.QueuedMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func sortByCreatedAt(messages []*domain.QueuedMessage) {
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
}

// buildListWhere builds a parameterised WHERE clause from a ListFilter.
func buildListWhere(f domain.ListFilter) (string, []any) {
	var conditions []string
	var args []any

	add := func(condition string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.Category != nil {
		add("category = $%d", *f.Category)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
