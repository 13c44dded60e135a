package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parishops/mailqueue/internal/account"
	"github.com/parishops/mailqueue/internal/domain"
	"github.com/parishops/mailqueue/internal/ratelimiter"
	"github.com/parishops/mailqueue/internal/repository"
	"github.com/parishops/mailqueue/internal/transport"
)

// MetricHooks carries the metric callback functions injected by main.
// Using a struct keeps the constructor signature clean; nil fields are no-ops.
type MetricHooks struct {
	OnSent    func(category domain.Category, latency time.Duration)
	OnFailed  func(category domain.Category)
	OnRetried func(category domain.Category)
}

func (h *MetricHooks) fillDefaults() {
	if h.OnSent == nil {
		h.OnSent = func(domain.Category, time.Duration) {}
	}
	if h.OnFailed == nil {
		h.OnFailed = func(domain.Category) {}
	}
	if h.OnRetried == nil {
		h.OnRetried = func(domain.Category) {}
	}
}

// Options tune one batch run.
type Options struct {
	// BatchSize is the maximum number of due messages claimed per run.
	BatchSize int
	// Parallelism bounds concurrent sends within a run. 1 = sequential.
	Parallelism int
	// SendTimeout bounds a single transport exchange so one unresponsive
	// provider cannot stall the whole batch.
	SendTimeout time.Duration
	// RunBudget is the wall-clock budget for a run. Claimed entries that were
	// never attempted when the budget expires are released back to pending
	// for the next run; entries already in flight still resolve. 0 = no budget.
	RunBudget time.Duration
	// BackoffBase and BackoffCap shape the retry delay curve.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// BatchWorker drains due queue entries on demand. Each invocation of RunOnce
// is a complete unit of work: claim a batch, attempt each entry, and write a
// terminal or retry state for every claimed row before returning. The atomic
// claim in the repository is the sole synchronisation point between runs.
type BatchWorker struct {
	repo    repository.MailRepository
	pool    *account.Pool
	trans   transport.Transport
	limiter *ratelimiter.CategoryLimiters
	opts    Options
	logger  *zap.Logger
	hooks   MetricHooks

	now func() time.Time // overridable in tests
}

func NewBatchWorker(
	repo repository.MailRepository,
	pool *account.Pool,
	trans transport.Transport,
	limiter *ratelimiter.CategoryLimiters,
	opts Options,
	logger *zap.Logger,
	hooks MetricHooks,
) *BatchWorker {
	hooks.fillDefaults()
	return &BatchWorker{
		repo:    repo,
		pool:    pool,
		trans:   trans,
		limiter: limiter,
		opts:    opts,
		logger:  logger,
		hooks:   hooks,
		now:     time.Now().UTC,
	}
}

// RunOnce claims and processes one batch, returning outcome counts.
// Failures on individual entries are recorded on the entry and reflected in
// the counts; they never abort processing of the rest of the batch.
func (w *BatchWorker) RunOnce(ctx context.Context) domain.RunResult {
	now := w.now()

	claimed, err := w.repo.ClaimDue(ctx, w.opts.BatchSize, now)
	if err != nil {
		w.logger.Error("claim failed", zap.Error(err))
		return domain.RunResult{}
	}
	if len(claimed) == 0 {
		return domain.RunResult{}
	}

	// State writes are detached from caller cancellation: the batch trigger
	// runs under a request context, and a dropped connection mid-run must not
	// strand claimed rows in the sending state with no outcome written.
	writeCtx := context.WithoutCancel(ctx)

	// Budget applies to send attempts only; state writes use writeCtx so
	// every claimed row resolves even when the budget expires mid-batch.
	runCtx := ctx
	cancel := func() {}
	if w.opts.RunBudget > 0 {
		runCtx, cancel = context.WithTimeout(ctx, w.opts.RunBudget)
	}
	defer cancel()

	var (
		mu     sync.Mutex
		result domain.RunResult
	)
	tally := func(f func(*domain.RunResult)) {
		mu.Lock()
		f(&result)
		mu.Unlock()
	}

	parallelism := w.opts.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	sem := make(chan struct{}, parallelism)
	var wg sync.WaitGroup

	// Claimed entries are dispatched in created_at order; completion order
	// across parallel sends is not guaranteed.
	for _, m := range claimed {
		if runCtx.Err() != nil {
			// Budget exhausted before this entry was attempted.
			if err := w.repo.Release(writeCtx, m.ID); err != nil {
				w.logger.Error("release failed", zap.String("id", m.ID), zap.Error(err))
			}
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(m *domain.QueuedMessage) {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(writeCtx, runCtx, m, tally)
		}(m)
	}
	wg.Wait()

	w.logger.Info("batch run complete",
		zap.Int("processed", result.Processed),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("retried", result.Retried),
	)
	return result
}

// process attempts delivery of one claimed entry and resolves its state.
// writeCtx is used for all repository writes; sendCtx carries the run budget.
func (w *BatchWorker) process(writeCtx, sendCtx context.Context, m *domain.QueuedMessage, tally func(func(*domain.RunResult))) {
	log := w.logger.With(
		zap.String("message_id", m.ID),
		zap.String("category", string(m.Category)),
	)

	acct, err := w.pool.Select(m.Category)
	if err != nil {
		// Infrastructure exhaustion: retry later without counting an attempt
		// against the message.
		next := w.now().Add(Backoff(w.opts.BackoffBase, w.opts.BackoffCap, m.Attempts+1))
		if err := w.repo.Defer(writeCtx, m.ID, next); err != nil {
			log.Error("defer failed", zap.Error(err))
			return
		}
		log.Warn("no eligible sending account, deferred", zap.Time("next_attempt_at", next))
		tally(func(r *domain.RunResult) { r.Processed++; r.Retried++ })
		w.hooks.OnRetried(m.Category)
		return
	}

	attemptCtx := sendCtx
	cancel := func() {}
	if w.opts.SendTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(sendCtx, w.opts.SendTimeout)
	}
	defer cancel()

	if err := w.limiter.Wait(attemptCtx, m.Category); err != nil {
		// Budget or shutdown hit while waiting for a token; the entry was
		// never attempted, so hand back both the entry and the account's
		// reserved window slot.
		w.pool.ReleaseSlot(acct)
		if err := w.repo.Release(writeCtx, m.ID); err != nil {
			log.Error("release failed", zap.Error(err))
		}
		return
	}

	start := w.now()
	res, sendErr := w.trans.Send(attemptCtx, m, acct)
	attempts := m.Attempts + 1

	if sendErr != nil {
		w.pool.RecordOutcome(acct, false, sendErr.Error())
		w.resolveFailure(writeCtx, m, attempts, sendErr, log, tally)
		return
	}

	w.pool.RecordOutcome(acct, true, "")
	sentAt := w.now()
	if err := w.repo.MarkSent(writeCtx, m.ID, attempts, res.ProviderMsgID, sentAt); err != nil {
		log.Error("mark sent failed", zap.Error(err))
		return
	}
	tally(func(r *domain.RunResult) { r.Processed++; r.Sent++ })
	w.hooks.OnSent(m.Category, sentAt.Sub(start))
	log.Info("message sent",
		zap.String("provider_msg_id", res.ProviderMsgID),
		zap.String("account", acct.Address),
		zap.Int("attempts", attempts),
	)
}

// resolveFailure either requeues with backoff or marks the entry permanently
// failed once max_attempts is reached.
func (w *BatchWorker) resolveFailure(ctx context.Context, m *domain.QueuedMessage, attempts int, sendErr error, log *zap.Logger, tally func(func(*domain.RunResult))) {
	if attempts >= m.MaxAttempts {
		if err := w.repo.MarkFailed(ctx, m.ID, attempts, sendErr.Error()); err != nil {
			log.Error("mark failed failed", zap.Error(err))
			return
		}
		tally(func(r *domain.RunResult) { r.Processed++; r.Failed++ })
		w.hooks.OnFailed(m.Category)
		log.Warn("message permanently failed",
			zap.Int("attempts", attempts),
			zap.Error(sendErr),
		)
		return
	}

	next := w.now().Add(Backoff(w.opts.BackoffBase, w.opts.BackoffCap, attempts))
	if err := w.repo.Requeue(ctx, m.ID, attempts, next, sendErr.Error()); err != nil {
		log.Error("requeue failed", zap.Error(err))
		return
	}
	tally(func(r *domain.RunResult) { r.Processed++; r.Retried++ })
	w.hooks.OnRetried(m.Category)
	log.Warn("delivery failed, requeued",
		zap.Int("attempts", attempts),
		zap.Time("next_attempt_at", next),
		zap.Error(sendErr),
	)
}

// SetClock overrides the worker's time source. Test helper.
func (w *BatchWorker) SetClock(now func() time.Time) { w.now = now }
