package repository_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/parishops/mailqueue/internal/domain"
	"github.com/parishops/mailqueue/internal/repository"
)

func seed(t *testing.T, repo *repository.MockMailRepository, n int, base time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := repo.Create(context.Background(), &domain.QueuedMessage{
			ID:            fmt.Sprintf("m%03d", i),
			To:            "member@example.org",
			Subject:       "s",
			HTMLBody:      "<p>b</p>",
			Category:      domain.CategoryBulk,
			Status:        domain.StatusPending,
			MaxAttempts:   3,
			NextAttemptAt: base,
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestClaimDue_OldestFirst(t *testing.T) {
	repo := repository.NewMockMailRepository()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	seed(t, repo, 5, base)

	claimed, err := repo.ClaimDue(context.Background(), 3, base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 3 {
		t.Fatalf("expected 3 claimed, got %d", len(claimed))
	}
	for i, m := range claimed {
		if want := fmt.Sprintf("m%03d", i); m.ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, m.ID)
		}
		if m.Status != domain.StatusSending {
			t.Fatalf("claimed row %s not marked sending", m.ID)
		}
	}
}

func TestClaimDue_SkipsFutureAndTerminal(t *testing.T) {
	repo := repository.NewMockMailRepository()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	seed(t, repo, 2, base)

	// m000 becomes terminal; m001 is pushed into the future.
	if _, err := repo.ClaimDue(context.Background(), 1, base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkSent(context.Background(), "m000", 1, "prov-1", base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.ClaimDue(context.Background(), 1, base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := repo.Requeue(context.Background(), "m001", 1, base.Add(time.Hour), "boom"); err != nil {
		t.Fatal(err)
	}

	claimed, err := repo.ClaimDue(context.Background(), 10, base.Add(2*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected nothing due, got %d", len(claimed))
	}
}

// TestClaimDue_ConcurrentNonOverlapping exercises the claim-atomicity
// contract: two simultaneous claims must partition the due set.
func TestClaimDue_ConcurrentNonOverlapping(t *testing.T) {
	repo := repository.NewMockMailRepository()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	seed(t, repo, 20, base)

	now := base.Add(time.Hour)
	results := make([][]*domain.QueuedMessage, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			claimed, err := repo.ClaimDue(context.Background(), 10, now)
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = claimed
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	total := 0
	for _, claimed := range results {
		for _, m := range claimed {
			if seen[m.ID] {
				t.Fatalf("entry %s claimed by both runs", m.ID)
			}
			seen[m.ID] = true
			total++
		}
	}
	if total != 20 {
		t.Fatalf("expected 20 claims across both runs, got %d", total)
	}
}

func TestTerminalStateIsImmutable(t *testing.T) {
	repo := repository.NewMockMailRepository()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	seed(t, repo, 1, base)

	now := base.Add(time.Minute)
	if _, err := repo.ClaimDue(context.Background(), 1, now); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkSent(context.Background(), "m000", 1, "prov-1", now); err != nil {
		t.Fatal(err)
	}

	// Writes guarded on the sending marker must not touch a terminal row.
	if err := repo.MarkFailed(context.Background(), "m000", 2, "late failure"); err != nil {
		t.Fatal(err)
	}
	if err := repo.Requeue(context.Background(), "m000", 2, now.Add(time.Hour), "late retry"); err != nil {
		t.Fatal(err)
	}

	m, err := repo.GetByID(context.Background(), "m000")
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != domain.StatusSent || m.Attempts != 1 || m.SentAt == nil {
		t.Fatalf("terminal state mutated: status=%s attempts=%d", m.Status, m.Attempts)
	}
}
