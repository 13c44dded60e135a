package domain

import (
	"strings"
	"time"
)

// Category selects which sending accounts are eligible for a message.
type Category string

const (
	CategoryAdmin  Category = "admin"
	CategoryInfo   Category = "info"
	CategoryEvents Category = "events"
	CategorySystem Category = "system"
	CategoryBulk   Category = "bulk"

	// CategoryAll marks a sending account as general-purpose: it may serve
	// any message category. Messages themselves never use this value.
	CategoryAll Category = "all"
)

func (c Category) IsValid() bool {
	switch c {
	case CategoryAdmin, CategoryInfo, CategoryEvents, CategorySystem, CategoryBulk:
		return true
	}
	return false
}

// Status tracks the delivery lifecycle of a queued message.
// "sending" is the in-flight claim marker: a worker run has claimed the row
// and will resolve it to sent, failed, or back to pending before returning.
type Status string

const (
	StatusPending Status = "pending"
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSending, StatusSent, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions may occur.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// QueuedMessage is one outbound email.
//
// Invariants maintained by the worker:
//   - status=sent    ⇒ sent_at set, row never claimed again
//   - status=failed  ⇒ attempts >= max_attempts
//   - status=pending ⇒ attempts <  max_attempts
type QueuedMessage struct {
	ID            string            `json:"id"`
	To            string            `json:"to"`
	From          *string           `json:"from,omitempty"`
	Subject       string            `json:"subject"`
	HTMLBody      string            `json:"html_body"`
	TextBody      *string           `json:"text_body,omitempty"`
	Category      Category          `json:"category"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Status        Status            `json:"status"`
	Attempts      int               `json:"attempts"`
	MaxAttempts   int               `json:"max_attempts"`
	NextAttemptAt time.Time         `json:"next_attempt_at"`
	LastError     *string           `json:"last_error,omitempty"`
	ProviderMsgID *string           `json:"provider_message_id,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	SentAt        *time.Time        `json:"sent_at,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// EnqueueRequest is the inbound payload for the enqueue API.
type EnqueueRequest struct {
	To          string            `json:"to"`
	From        *string           `json:"from,omitempty"`
	Subject     string            `json:"subject"`
	HTMLBody    string            `json:"html_body"`
	TextBody    *string           `json:"text_body,omitempty"`
	Category    Category          `json:"category"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	MaxAttempts *int              `json:"max_attempts,omitempty"`
}

func (r *EnqueueRequest) Validate() error {
	if r.To == "" || !strings.Contains(r.To, "@") {
		return ErrInvalidRecipient
	}
	if r.Subject == "" {
		return ErrInvalidSubject
	}
	if r.HTMLBody == "" {
		return ErrInvalidBody
	}
	if !r.Category.IsValid() {
		return ErrInvalidCategory
	}
	if r.MaxAttempts != nil && (*r.MaxAttempts < 1 || *r.MaxAttempts > 10) {
		return ErrInvalidMaxAttempts
	}
	return nil
}

// RunResult is the outcome summary of one batch worker invocation.
type RunResult struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Retried   int `json:"retried"`
}

// ListFilter holds query parameters for paginated message listing.
type ListFilter struct {
	Status   *Status
	Category *Category
	From     *time.Time
	To       *time.Time
	Page     int
	Limit    int
}
