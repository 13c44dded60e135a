package domain

import "time"

// EventType is the kind of recipient interaction recorded by the tracking endpoint.
type EventType string

const (
	EventOpen  EventType = "open"
	EventClick EventType = "click"
)

func (e EventType) IsValid() bool {
	return e == EventOpen || e == EventClick
}

// TrackingEvent is one open or click against a queued message.
// Events are append-only; duplicates are expected and retained individually.
type TrackingEvent struct {
	ID         string    `json:"id"`
	MessageID  string    `json:"message_id"`
	EventType  EventType `json:"event_type"`
	EventData  *string   `json:"event_data,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	IP         string    `json:"ip,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}
