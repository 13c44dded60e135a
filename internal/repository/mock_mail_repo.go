package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/parishops/mailqueue/internal/domain"
)

// MockMailRepository is a hand-written, in-memory implementation of
// MailRepository used in unit tests. No mock-generation library needed.
type MockMailRepository struct {
	mu       sync.Mutex
	messages map[string]*domain.QueuedMessage

	// Optional error overrides — set in tests to simulate failure paths.
	CreateErr   error
	GetByIDErr  error
	ClaimDueErr error
}

func NewMockMailRepository() *MockMailRepository {
	return &MockMailRepository{messages: make(map[string]*domain.QueuedMessage)}
}

func (m *MockMailRepository) Create(_ context.Context, msg *domain.QueuedMessage) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *msg
	m.messages[msg.ID] = &clone
	return nil
}

func (m *MockMailRepository) GetByID(_ context.Context, id string) (*domain.QueuedMessage, error) {
	if m.GetByIDErr != nil {
		return nil, m.GetByIDErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *msg
	return &clone, nil
}

func (m *MockMailRepository) List(_ context.Context, f domain.ListFilter) ([]*domain.QueuedMessage, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.QueuedMessage
	for _, msg := range m.messages {
		if f.Status != nil && msg.Status != *f.Status {
			continue
		}
		if f.Category != nil && msg.Category != *f.Category {
			continue
		}
		clone := *msg
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, len(result), nil
}

// ClaimDue mirrors the SQL claim: due pending rows flip to sending under one
// lock acquisition, so two concurrent claims never overlap.
func (m *MockMailRepository) ClaimDue(_ context.Context, limit int, now time.Time) ([]*domain.QueuedMessage, error) {
	if m.ClaimDueErr != nil {
		return nil, m.ClaimDueErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*domain.QueuedMessage
	for _, msg := range m.messages {
		if msg.Status == domain.StatusPending && !msg.NextAttemptAt.After(now) {
			due = append(due, msg)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*domain.QueuedMessage, len(due))
	for i, msg := range due {
		msg.Status = domain.StatusSending
		clone := *msg
		claimed[i] = &clone
	}
	return claimed, nil
}

func (m *MockMailRepository) MarkSent(_ context.Context, id string, attempts int, providerMsgID string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[id]; ok && msg.Status == domain.StatusSending {
		msg.Status = domain.StatusSent
		msg.Attempts = attempts
		msg.ProviderMsgID = &providerMsgID
		msg.SentAt = &sentAt
		msg.LastError = nil
	}
	return nil
}

func (m *MockMailRepository) MarkFailed(_ context.Context, id string, attempts int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[id]; ok && msg.Status == domain.StatusSending {
		msg.Status = domain.StatusFailed
		msg.Attempts = attempts
		msg.LastError = &errMsg
	}
	return nil
}

func (m *MockMailRepository) Requeue(_ context.Context, id string, attempts int, nextAttempt time.Time, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[id]; ok && msg.Status == domain.StatusSending {
		msg.Status = domain.StatusPending
		msg.Attempts = attempts
		msg.NextAttemptAt = nextAttempt
		msg.LastError = &errMsg
	}
	return nil
}

func (m *MockMailRepository) Defer(_ context.Context, id string, nextAttempt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[id]; ok && msg.Status == domain.StatusSending {
		msg.Status = domain.StatusPending
		msg.NextAttemptAt = nextAttempt
	}
	return nil
}

func (m *MockMailRepository) Release(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[id]; ok && msg.Status == domain.StatusSending {
		msg.Status = domain.StatusPending
	}
	return nil
}

func (m *MockMailRepository) CountByStatus(_ context.Context) (map[domain.Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.Status]int)
	for _, msg := range m.messages {
		counts[msg.Status]++
	}
	return counts, nil
}
