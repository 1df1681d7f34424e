package cron

import (
	"bytes"
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/subboxlabs/subbox-backend/internal/subscriptions"
	pkgerrors "github.com/subboxlabs/subbox-backend/pkg/errors"
	"github.com/subboxlabs/subbox-backend/pkg/logger"
)

// stubDueLister mirrors the repository query: id-ordered, keyset-paged,
// and a subscription stays listed until its billing date advances.
type stubDueLister struct {
	due    []uuid.UUID
	rolled map[uuid.UUID]bool
	calls  int
}

func newStubDueLister(ids ...uuid.UUID) *stubDueLister {
	return &stubDueLister{due: ids, rolled: map[uuid.UUID]bool{}}
}

func (s *stubDueLister) ListDueSubscriptionIDs(_ context.Context, _ time.Time, afterID uuid.UUID, limit int) ([]uuid.UUID, error) {
	s.calls++
	var out []uuid.UUID
	for _, id := range s.due {
		if s.rolled[id] {
			continue
		}
		if afterID != uuid.Nil && bytes.Compare(id[:], afterID[:]) <= 0 {
			continue
		}
		out = append(out, id)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type stubProcessor struct {
	lister   *stubDueLister
	failing  map[uuid.UUID]error
	skipped  map[uuid.UUID]bool
	attempts map[uuid.UUID]int
	rolled   []uuid.UUID
}

func (s *stubProcessor) ProcessBilling(_ context.Context, id uuid.UUID) (*subscriptions.RolloverResult, error) {
	if s.attempts == nil {
		s.attempts = map[uuid.UUID]int{}
	}
	s.attempts[id]++
	if err, ok := s.failing[id]; ok {
		return nil, err
	}
	s.lister.rolled[id] = true
	if s.skipped[id] {
		return &subscriptions.RolloverResult{SubscriptionID: id, Skipped: true, SkipReason: "not_active"}, nil
	}
	s.rolled = append(s.rolled, id)
	return &subscriptions.RolloverResult{SubscriptionID: id, Cycle: 2, Total: decimal.Zero}, nil
}

// orderedIDs returns n fresh uuids sorted the way the database orders
// them, so tests can place subscriptions before or after one another.
func orderedIDs(n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids
}

func newBillingJobForTest(t *testing.T, lister *stubDueLister, processor *stubProcessor, batchSize int) Job {
	t.Helper()
	processor.lister = lister
	job, err := NewBillingJob(BillingJobParams{
		Logger:    logger.New(logger.Options{Level: zerolog.Disabled}),
		Repo:      lister,
		Engine:    processor,
		BatchSize: batchSize,
		Now:       func() time.Time { return time.Date(2024, 4, 15, 6, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new billing job: %v", err)
	}
	return job
}

func TestBillingJobProcessesAllDueSubscriptions(t *testing.T) {
	ids := orderedIDs(3)
	lister := newStubDueLister(ids...)
	processor := &stubProcessor{}
	job := newBillingJobForTest(t, lister, processor, 2)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(processor.rolled) != 3 {
		t.Fatalf("expected 3 rollovers, got %d", len(processor.rolled))
	}
}

func TestBillingJobContinuesPastFailures(t *testing.T) {
	ids := orderedIDs(2)
	bad, good := ids[0], ids[1]
	lister := newStubDueLister(bad, good)
	processor := &stubProcessor{
		failing: map[uuid.UUID]error{
			bad: pkgerrors.New(pkgerrors.CodeChargeFailed, "card declined"),
		},
	}
	job := newBillingJobForTest(t, lister, processor, 2)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatalf("expected aggregated error for the failed subscription")
	}
	if len(processor.rolled) != 1 || processor.rolled[0] != good {
		t.Fatalf("healthy subscription must still roll, got %v", processor.rolled)
	}
}

func TestBillingJobFullFailingBatchDoesNotStarveRemainder(t *testing.T) {
	// Declined subscriptions stay due at the front of the id order. With
	// a batch of one, the first page is all failures; the sweep must
	// still page forward and reach the healthy subscription behind it.
	ids := orderedIDs(3)
	declinedA, declinedB, healthy := ids[0], ids[1], ids[2]
	lister := newStubDueLister(declinedA, declinedB, healthy)
	processor := &stubProcessor{
		failing: map[uuid.UUID]error{
			declinedA: pkgerrors.New(pkgerrors.CodeChargeFailed, "card declined"),
			declinedB: pkgerrors.New(pkgerrors.CodeChargeFailed, "card declined"),
		},
	}
	job := newBillingJobForTest(t, lister, processor, 1)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatalf("expected aggregated error for the declined subscriptions")
	}
	if len(processor.rolled) != 1 || processor.rolled[0] != healthy {
		t.Fatalf("subscription behind the failing batch must still roll, got %v", processor.rolled)
	}
}

func TestBillingJobAttemptsEachFailingIDOnce(t *testing.T) {
	ids := orderedIDs(2)
	stuck, good := ids[0], ids[1]
	lister := newStubDueLister(stuck, good)
	processor := &stubProcessor{
		failing: map[uuid.UUID]error{
			stuck: pkgerrors.New(pkgerrors.CodeChargeFailed, "card declined"),
		},
	}
	job := newBillingJobForTest(t, lister, processor, 1)

	_ = job.Run(context.Background())
	if processor.attempts[stuck] != 1 {
		t.Fatalf("failing subscription retried within one sweep: %d attempts", processor.attempts[stuck])
	}
	if len(processor.rolled) != 1 || processor.rolled[0] != good {
		t.Fatalf("healthy subscription must still roll, got %v", processor.rolled)
	}
}

func TestBillingJobCountsSkips(t *testing.T) {
	cancelled := uuid.New()
	lister := newStubDueLister(cancelled)
	processor := &stubProcessor{skipped: map[uuid.UUID]bool{cancelled: true}}
	job := newBillingJobForTest(t, lister, processor, 2)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("skips are not errors: %v", err)
	}
	if len(processor.rolled) != 0 {
		t.Fatalf("skipped subscription must not roll")
	}
}
