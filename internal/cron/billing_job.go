package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/subboxlabs/subbox-backend/internal/subscriptions"
	pkgerrors "github.com/subboxlabs/subbox-backend/pkg/errors"
	"github.com/subboxlabs/subbox-backend/pkg/logger"
)

const defaultBillingBatchSize = 250

type billingProcessor interface {
	ProcessBilling(ctx context.Context, subscriptionID uuid.UUID) (*subscriptions.RolloverResult, error)
}

type dueLister interface {
	ListDueSubscriptionIDs(ctx context.Context, dueOn time.Time, afterID uuid.UUID, limit int) ([]uuid.UUID, error)
}

// BillingJobParams configures the daily billing sweep.
type BillingJobParams struct {
	Logger    *logger.Logger
	Repo      dueLister
	Engine    billingProcessor
	BatchSize int
	Now       func() time.Time
}

// NewBillingJob builds the job that rolls over every due subscription.
func NewBillingJob(params BillingJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("billing engine required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBillingBatchSize
	}
	return &billingJob{
		logg:      params.Logger,
		repo:      params.Repo,
		engine:    params.Engine,
		batchSize: batchSize,
		now:       now,
	}, nil
}

type billingJob struct {
	logg      *logger.Logger
	repo      dueLister
	engine    billingProcessor
	batchSize int
	now       func() time.Time
}

func (j *billingJob) Name() string { return "subscription-billing" }

// Run sweeps the due subscriptions in batches until none remain. A
// failed rollover is recorded and skipped; one bad subscription never
// stalls the rest of the sweep. The cursor advances past every
// attempted id, so subscriptions that stay due after a failed charge
// cannot starve the ones behind them.
func (j *billingJob) Run(ctx context.Context) error {
	today := j.now().UTC()
	var errs error
	processed := 0
	skipped := 0
	failed := 0
	var cursor uuid.UUID

	for {
		ids, err := j.repo.ListDueSubscriptionIDs(ctx, today, cursor, j.batchSize)
		if err != nil {
			return fmt.Errorf("list due subscriptions: %w", err)
		}
		for _, id := range ids {
			cursor = id

			result, err := j.engine.ProcessBilling(ctx, id)
			if err != nil {
				failed++
				if pkgerrors.IsCode(err, pkgerrors.CodeChargeFailed) {
					j.logg.Warn(j.logg.WithSubscriptionID(ctx, id.String()), "charge declined; subscription left for next sweep")
				}
				errs = multierr.Append(errs, fmt.Errorf("subscription %s: %w", id, err))
				continue
			}
			if result.Skipped {
				skipped++
				continue
			}
			processed++
		}
		if len(ids) < j.batchSize {
			break
		}
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"processed": processed,
		"skipped":   skipped,
		"failed":    failed,
	})
	j.logg.Info(reportCtx, "billing sweep complete")
	return errs
}
