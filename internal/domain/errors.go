package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidRecipient   = errors.New("to must be a valid email address")
	ErrInvalidSubject     = errors.New("subject must not be empty")
	ErrInvalidBody        = errors.New("html_body must not be empty")
	ErrInvalidCategory    = errors.New("invalid category: must be admin, info, events, system, or bulk")
	ErrInvalidMaxAttempts = errors.New("max_attempts must be between 1 and 10")

	// ErrNoEligibleAccount signals infrastructure exhaustion: every account
	// serving the category is degraded or over its window ceiling. The worker
	// defers the message without counting an attempt against it.
	ErrNoEligibleAccount = errors.New("no eligible sending account")
)
