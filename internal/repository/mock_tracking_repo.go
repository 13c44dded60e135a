package repository

import (
	"context"
	"sync"

	"github.com/parishops/mailqueue/internal/domain"
)

// MockTrackingRepository is an in-memory TrackingRepository for tests.
type MockTrackingRepository struct {
	mu     sync.Mutex
	events []*domain.TrackingEvent

	// RecordErr simulates a datastore write failure.
	RecordErr error
}

func NewMockTrackingRepository() *MockTrackingRepository {
	return &MockTrackingRepository{}
}

func (m *MockTrackingRepository) RecordEvent(_ context.Context, e *domain.TrackingEvent) error {
	if m.RecordErr != nil {
		return m.RecordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *e
	m.events = append(m.events, &clone)
	return nil
}

func (m *MockTrackingRepository) ListByMessage(_ context.Context, messageID string) ([]*domain.TrackingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.TrackingEvent
	for _, e := range m.events {
		if e.MessageID == messageID {
			clone := *e
			result = append(result, &clone)
		}
	}
	return result, nil
}

// Events returns every recorded event. Test helper.
func (m *MockTrackingRepository) Events() []*domain.TrackingEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.TrackingEvent, len(m.events))
	copy(out, m.events)
	return out
}
