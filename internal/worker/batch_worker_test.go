package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/parishops/mailqueue/internal/account"
	"github.com/parishops/mailqueue/internal/domain"
	"github.com/parishops/mailqueue/internal/ratelimiter"
	"github.com/parishops/mailqueue/internal/repository"
	"github.com/parishops/mailqueue/internal/transport"
	"github.com/parishops/mailqueue/internal/worker"
)

// scriptedTransport fails while failures > 0, then succeeds, recording every
// message it was asked to deliver.
type scriptedTransport struct {
	mu       sync.Mutex
	failures int
	calls    int
	sent     []string
}

func (s *scriptedTransport) Send(_ context.Context, m *domain.QueuedMessage, _ *account.SendingAccount) (*transport.DeliveryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("smtp: connection refused")
	}
	s.sent = append(s.sent, m.ID)
	return &transport.DeliveryResult{ProviderMsgID: fmt.Sprintf("prov-%d", s.calls)}, nil
}

// fakeClock lets tests march the worker past retry delays.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var testPoolOpts = account.PoolOptions{
	WindowLength:     time.Hour,
	WindowCeiling:    100,
	DegradedCooldown: 24 * time.Hour,
}

func newWorker(t *testing.T, repo repository.MailRepository, pool *account.Pool, trans transport.Transport) (*worker.BatchWorker, *fakeClock) {
	t.Helper()
	w := worker.NewBatchWorker(repo, pool, trans, ratelimiter.New(1000), worker.Options{
		BatchSize:   10,
		Parallelism: 2,
		SendTimeout: time.Second,
		BackoffBase: 15 * time.Minute,
		BackoffCap:  4 * time.Hour,
	}, zap.NewNop(), worker.MetricHooks{})

	clock := &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	w.SetClock(clock.Now)
	return w, clock
}

func seedMessage(t *testing.T, repo *repository.MockMailRepository, id string, category domain.Category, maxAttempts int, createdAt time.Time) {
	t.Helper()
	err := repo.Create(context.Background(), &domain.QueuedMessage{
		ID:            id,
		To:            "member@example.org",
		Subject:       "hello",
		HTMLBody:      "<p>hi</p>",
		Category:      category,
		Status:        domain.StatusPending,
		MaxAttempts:   maxAttempts,
		NextAttemptAt: createdAt,
		CreatedAt:     createdAt,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func bulkPool() *account.Pool {
	return account.NewPool([]account.Config{
		{Address: "no-reply@church.org", Category: domain.CategoryAll, Priority: 1},
	}, testPoolOpts, zap.NewNop())
}

func TestBatchWorker_SuccessfulDelivery(t *testing.T) {
	repo := repository.NewMockMailRepository()
	trans := &scriptedTransport{}
	w, clock := newWorker(t, repo, bulkPool(), trans)

	seedMessage(t, repo, "m1", domain.CategorySystem, 3, clock.Now().Add(-time.Minute))

	res := w.RunOnce(context.Background())
	if res.Processed != 1 || res.Sent != 1 || res.Failed != 0 || res.Retried != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	m, err := repo.GetByID(context.Background(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != domain.StatusSent {
		t.Fatalf("expected sent, got %s", m.Status)
	}
	if m.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", m.Attempts)
	}
	if m.SentAt == nil || m.ProviderMsgID == nil {
		t.Fatal("expected sent_at and provider_msg_id set")
	}
}

// TestBatchWorker_ExhaustsRetries drives a message through three failing
// attempts and expects the terminal failed state with the last error recorded.
func TestBatchWorker_ExhaustsRetries(t *testing.T) {
	repo := repository.NewMockMailRepository()
	trans := &scriptedTransport{failures: 10}
	pool := bulkPool()
	w, clock := newWorker(t, repo, pool, trans)

	seedMessage(t, repo, "m1", domain.CategoryInfo, 3, clock.Now().Add(-time.Minute))

	for run := 1; run <= 3; run++ {
		res := w.RunOnce(context.Background())
		if res.Processed != 1 {
			t.Fatalf("run %d: expected 1 processed, got %+v", run, res)
		}
		// The account degrades after each failure; restore it so the next
		// run exercises delivery rather than infrastructure exhaustion.
		pool.Reset("no-reply@church.org")
		clock.Advance(5 * time.Hour)
	}

	m, err := repo.GetByID(context.Background(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", m.Status)
	}
	if m.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", m.Attempts)
	}
	if m.LastError == nil || *m.LastError == "" {
		t.Fatal("expected last_error recorded")
	}

	// A further run must not touch the terminal row.
	res := w.RunOnce(context.Background())
	if res.Processed != 0 {
		t.Fatalf("expected terminal row ignored, got %+v", res)
	}
}

// TestBatchWorker_NoEligibleAccountDefers verifies infrastructure exhaustion
// never counts against a message's attempts: two deferred runs followed by a
// successful one leave attempts at exactly 1.
func TestBatchWorker_NoEligibleAccountDefers(t *testing.T) {
	repo := repository.NewMockMailRepository()
	trans := &scriptedTransport{}
	pool := bulkPool()
	w, clock := newWorker(t, repo, pool, trans)

	seedMessage(t, repo, "m1", domain.CategoryEvents, 3, clock.Now().Add(-time.Minute))

	// Degrade the only account so selection fails.
	acct, err := pool.Select(domain.CategoryEvents)
	if err != nil {
		t.Fatal(err)
	}
	pool.RecordOutcome(acct, false, "mailbox provider rejected connection")

	for run := 1; run <= 2; run++ {
		res := w.RunOnce(context.Background())
		if res.Retried != 1 || res.Sent != 0 || res.Failed != 0 {
			t.Fatalf("run %d: expected deferred retry, got %+v", run, res)
		}
		clock.Advance(5 * time.Hour)
	}

	m, _ := repo.GetByID(context.Background(), "m1")
	if m.Attempts != 0 {
		t.Fatalf("deferred runs must not count attempts, got %d", m.Attempts)
	}
	if m.Status != domain.StatusPending {
		t.Fatalf("expected pending, got %s", m.Status)
	}

	pool.Reset("no-reply@church.org")
	res := w.RunOnce(context.Background())
	if res.Sent != 1 {
		t.Fatalf("expected delivery after account restored, got %+v", res)
	}

	m, _ = repo.GetByID(context.Background(), "m1")
	if m.Status != domain.StatusSent || m.Attempts != 1 {
		t.Fatalf("expected sent with exactly 1 attempt, got status=%s attempts=%d", m.Status, m.Attempts)
	}
}

// TestBatchWorker_BatchSizePartitionsQueue enqueues 50 messages with a batch
// size of 10 and expects five runs, each claiming exactly 10 distinct entries.
func TestBatchWorker_BatchSizePartitionsQueue(t *testing.T) {
	repo := repository.NewMockMailRepository()
	trans := &scriptedTransport{}
	w, clock := newWorker(t, repo, bulkPool(), trans)

	created := clock.Now().Add(-time.Hour)
	for i := 0; i < 50; i++ {
		seedMessage(t, repo, fmt.Sprintf("m%02d", i), domain.CategoryBulk, 3,
			created.Add(time.Duration(i)*time.Second))
	}

	for run := 1; run <= 5; run++ {
		res := w.RunOnce(context.Background())
		if res.Processed != 10 || res.Sent != 10 {
			t.Fatalf("run %d: expected exactly 10 sent, got %+v", run, res)
		}
	}

	// Queue drained: a sixth run finds nothing.
	if res := w.RunOnce(context.Background()); res.Processed != 0 {
		t.Fatalf("expected empty queue, got %+v", res)
	}

	seen := make(map[string]bool)
	for _, id := range trans.sent {
		if seen[id] {
			t.Fatalf("message %s delivered twice", id)
		}
		seen[id] = true
	}
	if len(seen) != 50 {
		t.Fatalf("expected 50 distinct deliveries, got %d", len(seen))
	}
}

// ctxSensitiveRepo fails writes whose context is already dead, the way a real
// database driver does. The embedded mock ignores contexts entirely.
type ctxSensitiveRepo struct {
	*repository.MockMailRepository
}

func (r *ctxSensitiveRepo) MarkSent(ctx context.Context, id string, attempts int, providerMsgID string, sentAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.MockMailRepository.MarkSent(ctx, id, attempts, providerMsgID, sentAt)
}

func (r *ctxSensitiveRepo) Requeue(ctx context.Context, id string, attempts int, nextAttempt time.Time, errMsg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.MockMailRepository.Requeue(ctx, id, attempts, nextAttempt, errMsg)
}

func (r *ctxSensitiveRepo) Release(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.MockMailRepository.Release(ctx, id)
}

// disconnectingTransport cancels the caller's context mid-send, simulating an
// HTTP client that drops the batch-trigger request while delivery is under way.
type disconnectingTransport struct {
	cancel context.CancelFunc
}

func (d *disconnectingTransport) Send(_ context.Context, _ *domain.QueuedMessage, _ *account.SendingAccount) (*transport.DeliveryResult, error) {
	d.cancel()
	return &transport.DeliveryResult{ProviderMsgID: "prov-1"}, nil
}

// TestBatchWorker_OutcomeWritesSurviveCallerDisconnect verifies a claimed row
// still resolves when the triggering request's context dies mid-run; otherwise
// the row would be stranded in the sending state forever.
func TestBatchWorker_OutcomeWritesSurviveCallerDisconnect(t *testing.T) {
	repo := repository.NewMockMailRepository()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, clock := newWorker(t, &ctxSensitiveRepo{MockMailRepository: repo}, bulkPool(),
		&disconnectingTransport{cancel: cancel})

	seedMessage(t, repo, "m1", domain.CategorySystem, 3, clock.Now().Add(-time.Minute))

	res := w.RunOnce(ctx)
	if res.Sent != 1 {
		t.Fatalf("expected outcome recorded despite disconnect, got %+v", res)
	}

	m, err := repo.GetByID(context.Background(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != domain.StatusSent {
		t.Fatalf("expected sent, got %s (row stranded mid-claim)", m.Status)
	}
}

func TestBatchWorker_RequeueSetsIncreasingDelay(t *testing.T) {
	repo := repository.NewMockMailRepository()
	trans := &scriptedTransport{failures: 2}
	pool := bulkPool()
	w, clock := newWorker(t, repo, pool, trans)

	seedMessage(t, repo, "m1", domain.CategoryAdmin, 5, clock.Now().Add(-time.Minute))

	res := w.RunOnce(context.Background())
	if res.Retried != 1 {
		t.Fatalf("expected requeue, got %+v", res)
	}

	m, _ := repo.GetByID(context.Background(), "m1")
	first := m.NextAttemptAt.Sub(clock.Now())
	if first <= 0 {
		t.Fatalf("expected positive retry delay, got %v", first)
	}

	pool.Reset("no-reply@church.org")
	clock.Advance(5 * time.Hour)

	res = w.RunOnce(context.Background())
	if res.Retried != 1 {
		t.Fatalf("expected second requeue, got %+v", res)
	}

	m, _ = repo.GetByID(context.Background(), "m1")
	second := m.NextAttemptAt.Sub(clock.Now())
	if second <= first {
		t.Fatalf("expected backoff to grow: first=%v second=%v", first, second)
	}
}
