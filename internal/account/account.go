package account

import (
	"time"

	"github.com/parishops/mailqueue/internal/domain"
)

// Health is the sending eligibility state of an account.
type Health string

const (
	Healthy  Health = "healthy"
	Degraded Health = "degraded"
)

// Config is the static description of one sending identity, loaded at
// process start. Never hot-reloaded.
type Config struct {
	Address  string          `json:"address"`
	Password string          `json:"password"`
	Category domain.Category `json:"category"`
	Priority int             `json:"priority"`
}

// SendingAccount is one sending identity with its runtime health and
// throughput state. All mutable fields are guarded by the owning Pool's
// mutex; callers outside this package only ever see snapshots.
type SendingAccount struct {
	Address  string
	Password string
	Category domain.Category
	Priority int // 1 is highest

	health      Health
	lastError   string
	degradedAt  time.Time
	windowCount int
	windowStart time.Time
}

// Snapshot is a read-only copy of an account's state for operator visibility.
type Snapshot struct {
	Address     string          `json:"address"`
	Category    domain.Category `json:"category"`
	Priority    int             `json:"priority"`
	Health      Health          `json:"health"`
	LastError   string          `json:"last_error,omitempty"`
	WindowCount int             `json:"window_count"`
	WindowStart time.Time       `json:"window_start"`
}

// serves reports whether the account may send messages of the given category.
func (a *SendingAccount) serves(c domain.Category) bool {
	return a.Category == c || a.Category == domain.CategoryAll
}

// rollWindow resets the counter when the current window has elapsed.
func (a *SendingAccount) rollWindow(now time.Time, windowLen time.Duration) {
	if now.Sub(a.windowStart) >= windowLen {
		a.windowCount = 0
		a.windowStart = now
	}
}

// eligible reports whether the account may be selected right now.
// A degraded account becomes eligible again once the cool-down has elapsed.
func (a *SendingAccount) eligible(now time.Time, windowLen time.Duration, ceiling int, cooldown time.Duration) bool {
	if a.health == Degraded && now.Sub(a.degradedAt) < cooldown {
		return false
	}
	a.rollWindow(now, windowLen)
	return a.windowCount < ceiling
}
