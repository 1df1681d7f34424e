package subscriptions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/subboxlabs/subbox-backend/pkg/db"
	"github.com/subboxlabs/subbox-backend/pkg/db/models"
	"github.com/subboxlabs/subbox-backend/pkg/enums"
	pkgerrors "github.com/subboxlabs/subbox-backend/pkg/errors"
	"github.com/subboxlabs/subbox-backend/pkg/logger"
	"github.com/subboxlabs/subbox-backend/pkg/pagination"
)

// billingWindowDays bounds how far a customer can shift the next billing
// date away from the natural monthly cadence, in either direction.
const billingWindowDays = 15

// Service exposes the member-facing subscription operations.
type Service interface {
	CreateOrUpdate(ctx context.Context, memberID uuid.UUID, input CreateSubscriptionInput) (*models.Subscription, error)
	GetByMember(ctx context.Context, memberID uuid.UUID) (*SubscriptionView, error)
	UpdateBillingDate(ctx context.Context, subscriptionID uuid.UUID, newDate time.Time) (*models.Subscription, error)
	UpdateNextPaymentMethod(ctx context.Context, subscriptionID uuid.UUID, method enums.PaymentMethod) error
	UpdateDeliveryAddress(ctx context.Context, subscriptionID uuid.UUID, input AddressInput) error
	UpdateDeliveryRequest(ctx context.Context, subscriptionID uuid.UUID, request string) error
	SetStagedItems(ctx context.Context, subscriptionID uuid.UUID, items []StagedItemInput) error
	UpsertStagedItem(ctx context.Context, subscriptionID uuid.UUID, item StagedItemInput) error
	RemoveStagedItem(ctx context.Context, subscriptionID, productID uuid.UUID) error
	Cancel(ctx context.Context, subscriptionID uuid.UUID) (*models.Subscription, error)
	ExpireActive(ctx context.Context, memberID uuid.UUID) (int64, error)
	ListCharges(ctx context.Context, subscriptionID uuid.UUID, input ListChargesInput) (*ChargeListResult, error)
}

// CreateSubscriptionInput is the payload for starting a subscription.
type CreateSubscriptionInput struct {
	PaymentMethod   enums.PaymentMethod
	Address         AddressInput
	DeliveryRequest string
	Items           []StagedItemInput
}

// AddressInput is the delivery profile for a subscription.
type AddressInput struct {
	PostalCode    string
	RoadAddress   string
	DetailAddress string
}

// StagedItemInput is one line the customer wants billed next cycle.
// UnitPrice, when nil, is frozen from the current catalog price.
type StagedItemInput struct {
	ProductID uuid.UUID
	Quantity  int
	UnitPrice *decimal.Decimal
}

// ListChargesInput configures a charge history page.
type ListChargesInput struct {
	Pagination pagination.Params
	Status     *enums.ChargeStatus
}

// ChargeListResult is one page of charges plus the follow-up cursor.
type ChargeListResult struct {
	Charges    []models.Charge
	NextCursor string
}

type catalogResolver interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	Resolve(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams collects the service dependencies.
type ServiceParams struct {
	Repo     Repository
	DBClient txRunner
	Catalog  catalogResolver
	Lock     MutationLock
	Logger   *logger.Logger
}

type service struct {
	repo    Repository
	db      txRunner
	catalog catalogResolver
	lock    MutationLock
	logg    *logger.Logger
	now     func() time.Time
}

// NewService constructs a subscription service instance.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.DBClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog resolver required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("mutation lock required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:    params.Repo,
		db:      params.DBClient,
		catalog: params.Catalog,
		lock:    params.Lock,
		logg:    params.Logger,
		now:     time.Now,
	}, nil
}

// CreateOrUpdate starts a fresh subscription for the member. Any
// subscription still active for the member is expired first so at most
// one active subscription exists per member.
func (s *service) CreateOrUpdate(ctx context.Context, memberID uuid.UUID, input CreateSubscriptionInput) (*models.Subscription, error) {
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment method")
	}
	if err := validateAddress(input.Address); err != nil {
		return nil, err
	}
	staged, err := s.buildStagedItems(ctx, input.Items)
	if err != nil {
		return nil, err
	}

	today := dateOnly(s.now())
	sub := &models.Subscription{
		MemberID:        memberID,
		Status:          enums.SubscriptionStatusActive,
		StartDate:       today,
		LastBillingDate: today,
		NextBillingDate: today.AddDate(0, 1, 0),
		CurrentCycle:    1,
		PaymentMethod:   input.PaymentMethod,
		PostalCode:      strings.TrimSpace(input.Address.PostalCode),
		RoadAddress:     strings.TrimSpace(input.Address.RoadAddress),
		DetailAddress:   strings.TrimSpace(input.Address.DetailAddress),
		DeliveryRequest: strings.TrimSpace(input.DeliveryRequest),
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		expired, err := txRepo.ExpireActiveByMember(ctx, memberID, today)
		if err != nil {
			return err
		}
		if expired > 0 {
			s.logg.Info(s.logg.WithMemberID(ctx, memberID.String()), "expired previous subscription")
		}
		if err := txRepo.CreateSubscription(ctx, sub); err != nil {
			return err
		}
		for i := range staged {
			staged[i].SubscriptionID = sub.ID
		}
		return txRepo.ReplaceStagedItems(ctx, sub.ID, staged)
	})
	if err != nil {
		if db.IsUniqueViolation(err, "uq_subscriptions_member_active") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "member already has an active subscription")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create subscription")
	}

	s.logg.Info(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "subscription created")
	return sub, nil
}

// GetByMember assembles the member's active subscription view.
func (s *service) GetByMember(ctx context.Context, memberID uuid.UUID) (*SubscriptionView, error) {
	sub, err := s.repo.FindActiveByMember(ctx, memberID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active subscription for member")
	}
	return s.assembleView(ctx, sub)
}

// UpdateBillingDate shifts the next billing date within the allowed
// window around lastBillingDate plus one month.
func (s *service) UpdateBillingDate(ctx context.Context, subscriptionID uuid.UUID, newDate time.Time) (*models.Subscription, error) {
	var updated *models.Subscription
	err := s.withLock(ctx, subscriptionID, func(ctx context.Context) error {
		sub, err := s.loadActive(ctx, subscriptionID)
		if err != nil {
			return err
		}

		requested := dateOnly(newDate)
		expectedNext := dateOnly(sub.LastBillingDate).AddDate(0, 1, 0)
		windowStart := expectedNext.AddDate(0, 0, -billingWindowDays)
		windowEnd := expectedNext.AddDate(0, 0, billingWindowDays)
		if requested.Before(windowStart) || requested.After(windowEnd) {
			return pkgerrors.New(pkgerrors.CodeOutOfWindow, "billing date outside the allowed window").
				WithDetails(map[string]string{
					"valid_from": windowStart.Format(time.DateOnly),
					"valid_to":   windowEnd.Format(time.DateOnly),
				})
		}

		sub.NextBillingDate = requested
		if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update billing date")
		}
		updated = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithSubscriptionID(ctx, subscriptionID.String()), "billing date updated")
	return updated, nil
}

// UpdateNextPaymentMethod stages a payment method that takes effect at
// the next rollover.
func (s *service) UpdateNextPaymentMethod(ctx context.Context, subscriptionID uuid.UUID, method enums.PaymentMethod) error {
	if !method.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown payment method")
	}
	return s.withLock(ctx, subscriptionID, func(ctx context.Context) error {
		sub, err := s.loadActive(ctx, subscriptionID)
		if err != nil {
			return err
		}
		sub.NextPaymentMethod = &method
		if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update payment method")
		}
		return nil
	})
}

// UpdateDeliveryAddress overwrites the delivery profile.
func (s *service) UpdateDeliveryAddress(ctx context.Context, subscriptionID uuid.UUID, input AddressInput) error {
	if err := validateAddress(input); err != nil {
		return err
	}
	return s.withLock(ctx, subscriptionID, func(ctx context.Context) error {
		sub, err := s.loadActive(ctx, subscriptionID)
		if err != nil {
			return err
		}
		sub.PostalCode = strings.TrimSpace(input.PostalCode)
		sub.RoadAddress = strings.TrimSpace(input.RoadAddress)
		sub.DetailAddress = strings.TrimSpace(input.DetailAddress)
		if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update delivery address")
		}
		return nil
	})
}

// UpdateDeliveryRequest overwrites the courier note.
func (s *service) UpdateDeliveryRequest(ctx context.Context, subscriptionID uuid.UUID, request string) error {
	return s.withLock(ctx, subscriptionID, func(ctx context.Context) error {
		sub, err := s.loadActive(ctx, subscriptionID)
		if err != nil {
			return err
		}
		sub.DeliveryRequest = strings.TrimSpace(request)
		if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update delivery request")
		}
		return nil
	})
}

// SetStagedItems replaces the whole staged set for the next cycle.
func (s *service) SetStagedItems(ctx context.Context, subscriptionID uuid.UUID, items []StagedItemInput) error {
	staged, err := s.buildStagedItems(ctx, items)
	if err != nil {
		return err
	}
	return s.withLock(ctx, subscriptionID, func(ctx context.Context) error {
		sub, err := s.loadActive(ctx, subscriptionID)
		if err != nil {
			return err
		}
		for i := range staged {
			staged[i].SubscriptionID = sub.ID
		}
		if err := s.repo.ReplaceStagedItems(ctx, sub.ID, staged); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "replace staged items")
		}
		return nil
	})
}

// UpsertStagedItem adds or updates one staged line.
func (s *service) UpsertStagedItem(ctx context.Context, subscriptionID uuid.UUID, item StagedItemInput) error {
	staged, err := s.buildStagedItems(ctx, []StagedItemInput{item})
	if err != nil {
		return err
	}
	return s.withLock(ctx, subscriptionID, func(ctx context.Context) error {
		sub, err := s.loadActive(ctx, subscriptionID)
		if err != nil {
			return err
		}
		staged[0].SubscriptionID = sub.ID
		if err := s.repo.UpsertStagedItem(ctx, &staged[0]); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "upsert staged item")
		}
		return nil
	})
}

// RemoveStagedItem drops one staged line.
func (s *service) RemoveStagedItem(ctx context.Context, subscriptionID, productID uuid.UUID) error {
	return s.withLock(ctx, subscriptionID, func(ctx context.Context) error {
		sub, err := s.loadActive(ctx, subscriptionID)
		if err != nil {
			return err
		}
		removed, err := s.repo.DeleteStagedItem(ctx, sub.ID, productID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "remove staged item")
		}
		if removed == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "staged item not found")
		}
		return nil
	})
}

// Cancel stops billing. Item sets are retained for audit.
func (s *service) Cancel(ctx context.Context, subscriptionID uuid.UUID) (*models.Subscription, error) {
	var cancelled *models.Subscription
	err := s.withLock(ctx, subscriptionID, func(ctx context.Context) error {
		sub, err := s.loadActive(ctx, subscriptionID)
		if err != nil {
			return err
		}
		endDate := s.now().UTC()
		sub.Status = enums.SubscriptionStatusCancelled
		sub.EndDate = &endDate
		if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel subscription")
		}
		cancelled = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithSubscriptionID(ctx, subscriptionID.String()), "subscription cancelled")
	return cancelled, nil
}

// ExpireActive transitions all of the member's active subscriptions to
// expired. Used when a replacement subscription supersedes an old one.
func (s *service) ExpireActive(ctx context.Context, memberID uuid.UUID) (int64, error) {
	expired, err := s.repo.ExpireActiveByMember(ctx, memberID, dateOnly(s.now()))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "expire subscriptions")
	}
	return expired, nil
}

// ListCharges pages through the charge history for a subscription.
func (s *service) ListCharges(ctx context.Context, subscriptionID uuid.UUID, input ListChargesInput) (*ChargeListResult, error) {
	sub, err := s.repo.FindSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}

	cursor, err := pagination.ParseCursor(input.Pagination.Cursor)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid cursor")
	}
	charges, next, err := s.repo.ListCharges(ctx, ListChargesQuery{
		SubscriptionID: subscriptionID,
		Limit:          input.Pagination.Limit,
		Cursor:         cursor,
		Status:         input.Status,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list charges")
	}

	result := &ChargeListResult{Charges: charges}
	if next != nil {
		result.NextCursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

// buildStagedItems validates the lines and freezes unit prices. Every
// product must resolve at staging time; staging a vanished product is a
// hard error, unlike the tolerant drop at rollover.
func (s *service) buildStagedItems(ctx context.Context, items []StagedItemInput) ([]models.SubscriptionNextItem, error) {
	staged := make([]models.SubscriptionNextItem, 0, len(items))
	seen := make(map[uuid.UUID]struct{}, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
		}
		if _, dup := seen[item.ProductID]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "duplicate product in staged items")
		}
		seen[item.ProductID] = struct{}{}

		product, err := s.catalog.GetProduct(ctx, item.ProductID)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
					WithDetails(map[string]string{"product_id": item.ProductID.String()})
			}
			return nil, err
		}

		price := product.Price
		if item.UnitPrice != nil {
			if item.UnitPrice.IsNegative() {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "unit price cannot be negative")
			}
			price = *item.UnitPrice
		}
		staged = append(staged, models.SubscriptionNextItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: price,
		})
	}
	return staged, nil
}

// loadActive loads the subscription and rejects mutations on anything
// that is not active.
func (s *service) loadActive(ctx context.Context, subscriptionID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.repo.FindSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	if !sub.IsActive() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is not active")
	}
	return sub, nil
}

func (s *service) withLock(ctx context.Context, subscriptionID uuid.UUID, fn func(ctx context.Context) error) error {
	unlock, err := s.lock.Acquire(ctx, subscriptionID)
	if err != nil {
		return err
	}
	defer func() {
		if err := unlock(ctx); err != nil {
			s.logg.Warn(s.logg.WithSubscriptionID(ctx, subscriptionID.String()), "failed to release subscription lock")
		}
	}()
	return fn(ctx)
}

func validateAddress(input AddressInput) error {
	if strings.TrimSpace(input.PostalCode) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "postal code is required")
	}
	if strings.TrimSpace(input.RoadAddress) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "road address is required")
	}
	return nil
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
