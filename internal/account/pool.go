package account

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parishops/mailqueue/internal/domain"
)

// PoolOptions tune eligibility windows and health recovery.
type PoolOptions struct {
	// WindowLength is the fixed rate window per account (e.g. one hour).
	WindowLength time.Duration
	// WindowCeiling is the maximum sends per account per window.
	WindowCeiling int
	// DegradedCooldown is how long a degraded account stays out of rotation
	// before it is allowed back in. Avoids permanent lock-out from one
	// transient SMTP failure.
	DegradedCooldown time.Duration
}

// Pool holds the fixed set of sending identities and owns all of their
// mutable health/window state. It is an explicit object (not package-level
// state) so tests can construct isolated pools per case.
//
// Parallel sends within a batch may select and report on the same account
// concurrently; the single mutex serialises counter updates.
type Pool struct {
	mu       sync.Mutex
	accounts []*SendingAccount
	opts     PoolOptions
	logger   *zap.Logger

	now func() time.Time // overridable in tests
}

// NewPool builds a pool from static account configs.
// windowStart is left zero so the first eligibility check opens the window
// from the pool's own clock.
func NewPool(configs []Config, opts PoolOptions, logger *zap.Logger) *Pool {
	accounts := make([]*SendingAccount, len(configs))
	for i, c := range configs {
		accounts[i] = &SendingAccount{
			Address:  c.Address,
			Password: c.Password,
			Category: c.Category,
			Priority: c.Priority,
			health:   Healthy,
		}
	}
	return &Pool{accounts: accounts, opts: opts, logger: logger, now: time.Now().UTC}
}

// Select chooses a sending identity for the given message category.
//
// Filter: serves the category (or general-purpose), not in degraded
// cool-down, window count below ceiling. Among survivors: highest priority
// (lowest number), tie-broken by lowest current-window count so load spreads
// across equal-priority accounts.
//
// Returns domain.ErrNoEligibleAccount when nothing survives; the caller must
// treat that as retryable infrastructure exhaustion, not a message failure.
func (p *Pool) Select(category domain.Category) (*SendingAccount, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var best *SendingAccount
	for _, a := range p.accounts {
		if !a.serves(category) {
			continue
		}
		if !a.eligible(now, p.opts.WindowLength, p.opts.WindowCeiling, p.opts.DegradedCooldown) {
			continue
		}
		if best == nil ||
			a.Priority < best.Priority ||
			(a.Priority == best.Priority && a.windowCount < best.windowCount) {
			best = a
		}
	}
	if best == nil {
		return nil, domain.ErrNoEligibleAccount
	}
	// Reserve the window slot at selection time: parallel sends must not all
	// pass the ceiling check before any of their outcomes land, or the counter
	// would overshoot the ceiling.
	best.windowCount++
	return best, nil
}

// RecordOutcome updates health state after a delivery attempt. The window
// slot was already consumed at selection; success clears any degraded flag,
// failure releases the slot and marks the account degraded with the error
// stored for operator visibility.
func (p *Pool) RecordOutcome(a *SendingAccount, success bool, errDetail string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if success {
		a.health = Healthy
		a.lastError = ""
		return
	}

	// A failed exchange should not count against the window. The counter may
	// already be zero if the window rolled between selection and outcome.
	if a.windowCount > 0 {
		a.windowCount--
	}
	a.health = Degraded
	a.degradedAt = p.now()
	a.lastError = errDetail
	p.logger.Warn("sending account degraded",
		zap.String("address", a.Address),
		zap.String("error", errDetail),
	)
}

// ReleaseSlot hands back a window slot reserved by Select when the selected
// account was never used (the send was cancelled before submission).
func (p *Pool) ReleaseSlot(a *SendingAccount) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a.windowCount > 0 {
		a.windowCount--
	}
}

// Reset restores a degraded account by address (operator action).
// Returns false if no account matches.
func (p *Pool) Reset(address string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.accounts {
		if a.Address == address {
			a.health = Healthy
			a.lastError = ""
			return true
		}
	}
	return false
}

// Snapshots returns a read-only view of every account for the stats endpoint.
func (p *Pool) Snapshots() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Snapshot, len(p.accounts))
	for i, a := range p.accounts {
		out[i] = Snapshot{
			Address:     a.Address,
			Category:    a.Category,
			Priority:    a.Priority,
			Health:      a.health,
			LastError:   a.lastError,
			WindowCount: a.windowCount,
			WindowStart: a.windowStart,
		}
	}
	return out
}

// SetClock overrides the pool's time source. Test helper.
func (p *Pool) SetClock(now func() time.Time) { p.now = now }
