package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/subboxlabs/subbox-backend/pkg/db"
	"github.com/subboxlabs/subbox-backend/pkg/db/models"
	"github.com/subboxlabs/subbox-backend/pkg/enums"
	pkgerrors "github.com/subboxlabs/subbox-backend/pkg/errors"
	"github.com/subboxlabs/subbox-backend/pkg/logger"
	"github.com/subboxlabs/subbox-backend/pkg/metrics"
)

const defaultChargeTimeout = 10 * time.Second

// ChargeParams describes one gateway charge attempt.
type ChargeParams struct {
	SubscriptionID uuid.UUID
	MemberID       uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	Method         enums.PaymentMethod
	IdempotencyKey string
}

// ChargeResult is the gateway's acknowledgement of a charge.
type ChargeResult struct {
	ChargeID string
}

// ChargeClient is the payment gateway seen by the billing engine.
type ChargeClient interface {
	Charge(ctx context.Context, params ChargeParams) (*ChargeResult, error)
}

// RolloverResult reports what one processBilling invocation did.
type RolloverResult struct {
	SubscriptionID  uuid.UUID
	Cycle           int
	Total           decimal.Decimal
	Currency        string
	ChargeID        string
	DroppedProducts []uuid.UUID
	Skipped         bool
	SkipReason      string
}

// EngineParams collects the billing engine dependencies.
type EngineParams struct {
	Repo          Repository
	DBClient      txRunner
	Catalog       catalogResolver
	Charges       ChargeClient
	Lock          MutationLock
	Logger        *logger.Logger
	Metrics       *metrics.BillingMetrics
	Currency      string
	ChargeTimeout time.Duration
}

// Engine advances subscriptions through billing cycles. The gateway is
// charged with the prospective total first; the state rollover commits
// only after the charge succeeds, so a declined charge leaves the
// subscription exactly on its prior cycle.
type Engine struct {
	repo          Repository
	db            txRunner
	catalog       catalogResolver
	charges       ChargeClient
	lock          MutationLock
	logg          *logger.Logger
	metrics       *metrics.BillingMetrics
	currency      string
	chargeTimeout time.Duration
	now           func() time.Time
}

// NewEngine constructs the billing cycle engine.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.DBClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog resolver required")
	}
	if params.Charges == nil {
		return nil, fmt.Errorf("charge client required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("mutation lock required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	currency := params.Currency
	if currency == "" {
		currency = "USD"
	}
	timeout := params.ChargeTimeout
	if timeout <= 0 {
		timeout = defaultChargeTimeout
	}
	return &Engine{
		repo:          params.Repo,
		db:            params.DBClient,
		catalog:       params.Catalog,
		charges:       params.Charges,
		lock:          params.Lock,
		logg:          params.Logger,
		metrics:       params.Metrics,
		currency:      currency,
		chargeTimeout: timeout,
		now:           time.Now,
	}, nil
}

// ProcessBilling rolls the subscription one cycle forward: the staged
// set becomes the active set, the cycle counter advances, and the
// billing dates move one month. Lines whose product vanished since
// staging are dropped with a warning rather than aborting the rollover.
func (e *Engine) ProcessBilling(ctx context.Context, subscriptionID uuid.UUID) (*RolloverResult, error) {
	unlock, err := e.lock.Acquire(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := unlock(ctx); err != nil {
			e.logg.Warn(e.logg.WithSubscriptionID(ctx, subscriptionID.String()), "failed to release subscription lock")
		}
	}()

	ctx = e.logg.WithSubscriptionID(ctx, subscriptionID.String())

	sub, err := e.repo.FindSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	if !sub.IsActive() {
		e.logg.Info(ctx, "billing skipped, subscription not active")
		return &RolloverResult{
			SubscriptionID: sub.ID,
			Cycle:          sub.CurrentCycle,
			Total:          decimal.Zero,
			Currency:       e.currency,
			Skipped:        true,
			SkipReason:     "not_active",
		}, nil
	}

	today := dateOnly(e.now())
	if dateOnly(sub.NextBillingDate).After(today) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is not due for billing").
			WithDetails(map[string]string{
				"next_billing_date": dateOnly(sub.NextBillingDate).Format(time.DateOnly),
			})
	}

	staged, err := e.repo.ListStagedItems(ctx, sub.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load staged items")
	}

	survivors, dropped, err := e.resolveStaged(ctx, staged)
	if err != nil {
		return nil, err
	}
	for _, productID := range dropped {
		e.logg.Warn(e.logg.WithField(ctx, "product_id", productID.String()), "staged product vanished, line dropped from rollover")
	}
	e.metrics.AddLinesDropped(len(dropped))

	total := decimal.Zero
	newItems := make([]models.SubscriptionItem, 0, len(survivors))
	for _, item := range survivors {
		total = total.Add(item.LineTotal())
		newItems = append(newItems, models.SubscriptionItem{
			SubscriptionID: sub.ID,
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
		})
	}

	nextCycle := sub.CurrentCycle + 1
	if existing, err := e.repo.FindCharge(ctx, sub.ID, nextCycle); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check existing charge")
	} else if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cycle already charged")
	}

	method := sub.PaymentMethod
	if sub.NextPaymentMethod != nil {
		method = *sub.NextPaymentMethod
	}

	honoredDate := dateOnly(sub.NextBillingDate)
	charge := &models.Charge{
		SubscriptionID: sub.ID,
		Cycle:          nextCycle,
		BillingDate:    honoredDate,
		Amount:         total,
		Currency:       e.currency,
		Status:         enums.ChargeStatusSucceeded,
	}

	if total.IsPositive() {
		chargeCtx, cancel := context.WithTimeout(ctx, e.chargeTimeout)
		result, err := e.charges.Charge(chargeCtx, ChargeParams{
			SubscriptionID: sub.ID,
			MemberID:       sub.MemberID,
			Amount:         total,
			Currency:       e.currency,
			Method:         method,
			// Deterministic per cycle so a retried rollover after a crash
			// between gateway success and commit cannot double-charge.
			IdempotencyKey: rolloverIdempotencyKey(sub.ID, nextCycle),
		})
		cancel()
		if err != nil {
			e.metrics.IncChargeFailed()
			e.logg.Error(ctx, "gateway charge failed, rollover aborted", err)
			if pkgerrors.As(err) != nil {
				return nil, err
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeChargeFailed, err, "gateway charge failed")
		}
		charge.GatewayChargeID = result.ChargeID
	}

	sub.CurrentCycle = nextCycle
	sub.LastBillingDate = honoredDate
	sub.NextBillingDate = honoredDate.AddDate(0, 1, 0)
	sub.PaymentMethod = method
	sub.NextPaymentMethod = nil

	err = e.db.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := e.repo.WithTx(tx)
		if err := txRepo.ReplaceActiveItems(ctx, sub.ID, newItems); err != nil {
			return err
		}
		if err := txRepo.ClearStagedItems(ctx, sub.ID); err != nil {
			return err
		}
		if err := txRepo.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		return txRepo.CreateCharge(ctx, charge)
	})
	if err != nil {
		if db.IsUniqueViolation(err, "uq_charges_sub_cycle") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "cycle already charged")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "commit rollover")
	}

	e.metrics.IncCyclesAdvanced()
	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"cycle": nextCycle,
		"total": total.String(),
	}), "billing cycle rolled over")

	return &RolloverResult{
		SubscriptionID:  sub.ID,
		Cycle:           nextCycle,
		Total:           total,
		Currency:        e.currency,
		ChargeID:        charge.GatewayChargeID,
		DroppedProducts: dropped,
	}, nil
}

// resolveStaged splits the staged set into lines whose product still
// exists and the product ids that vanished since staging.
func (e *Engine) resolveStaged(ctx context.Context, staged []models.SubscriptionNextItem) ([]models.SubscriptionNextItem, []uuid.UUID, error) {
	if len(staged) == 0 {
		return nil, nil, nil
	}
	ids := make([]uuid.UUID, 0, len(staged))
	for _, item := range staged {
		ids = append(ids, item.ProductID)
	}
	resolved, err := e.catalog.Resolve(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	survivors := make([]models.SubscriptionNextItem, 0, len(staged))
	var dropped []uuid.UUID
	for _, item := range staged {
		if _, ok := resolved[item.ProductID]; !ok {
			dropped = append(dropped, item.ProductID)
			continue
		}
		survivors = append(survivors, item)
	}
	return survivors, dropped, nil
}

func rolloverIdempotencyKey(subscriptionID uuid.UUID, cycle int) string {
	return fmt.Sprintf("sub-%s-cycle-%d", subscriptionID, cycle)
}
