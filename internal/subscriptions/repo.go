package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/subboxlabs/subbox-backend/pkg/db/models"
	"github.com/subboxlabs/subbox-backend/pkg/enums"
	"github.com/subboxlabs/subbox-backend/pkg/pagination"
)

// Repository handles subscription persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateSubscription(ctx context.Context, subscription *models.Subscription) error
	UpdateSubscription(ctx context.Context, subscription *models.Subscription) error
	FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindActiveByMember(ctx context.Context, memberID uuid.UUID) (*models.Subscription, error)
	ExpireActiveByMember(ctx context.Context, memberID uuid.UUID, endDate time.Time) (int64, error)
	ListDueSubscriptionIDs(ctx context.Context, dueOn time.Time, afterID uuid.UUID, limit int) ([]uuid.UUID, error)
	ListActiveItems(ctx context.Context, subscriptionID uuid.UUID) ([]models.SubscriptionItem, error)
	ReplaceActiveItems(ctx context.Context, subscriptionID uuid.UUID, items []models.SubscriptionItem) error
	ListStagedItems(ctx context.Context, subscriptionID uuid.UUID) ([]models.SubscriptionNextItem, error)
	ReplaceStagedItems(ctx context.Context, subscriptionID uuid.UUID, items []models.SubscriptionNextItem) error
	UpsertStagedItem(ctx context.Context, item *models.SubscriptionNextItem) error
	DeleteStagedItem(ctx context.Context, subscriptionID, productID uuid.UUID) (int64, error)
	ClearStagedItems(ctx context.Context, subscriptionID uuid.UUID) error
	CreateCharge(ctx context.Context, charge *models.Charge) error
	FindCharge(ctx context.Context, subscriptionID uuid.UUID, cycle int) (*models.Charge, error)
	ListCharges(ctx context.Context, params ListChargesQuery) ([]models.Charge, *pagination.Cursor, error)
}

// ListChargesQuery configures charge history queries.
type ListChargesQuery struct {
	SubscriptionID uuid.UUID
	Limit          int
	Cursor         *pagination.Cursor
	Status         *enums.ChargeStatus
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) UpdateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Save(subscription).Error
}

func (r *repository) FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).First(&sub, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindActiveByMember(ctx context.Context, memberID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("member_id = ? AND status = ?", memberID, enums.SubscriptionStatusActive).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// ExpireActiveByMember flips the member's active subscription to expired.
// Returns the number of rows touched so callers can tell whether a
// predecessor existed.
func (r *repository) ExpireActiveByMember(ctx context.Context, memberID uuid.UUID, endDate time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("member_id = ? AND status = ?", memberID, enums.SubscriptionStatusActive).
		Updates(map[string]any{
			"status":   enums.SubscriptionStatusExpired,
			"end_date": endDate,
		})
	return result.RowsAffected, result.Error
}

// ListDueSubscriptionIDs returns active subscriptions whose next billing
// date is on or before dueOn, in id order. Passing the last id of the
// previous page as afterID keyset-pages the result, so a subscription
// that stays due (a declined charge, for example) is returned at most
// once per sweep.
func (r *repository) ListDueSubscriptionIDs(ctx context.Context, dueOn time.Time, afterID uuid.UUID, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 250
	}
	query := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("status = ? AND next_billing_date <= ?", enums.SubscriptionStatusActive, dueOn)
	if afterID != uuid.Nil {
		query = query.Where("id > ?", afterID)
	}
	var ids []uuid.UUID
	if err := query.
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) ListActiveItems(ctx context.Context, subscriptionID uuid.UUID) ([]models.SubscriptionItem, error) {
	var items []models.SubscriptionItem
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at ASC, id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) ReplaceActiveItems(ctx context.Context, subscriptionID uuid.UUID, items []models.SubscriptionItem) error {
	tx := r.db.WithContext(ctx)
	if err := tx.Where("subscription_id = ?", subscriptionID).Delete(&models.SubscriptionItem{}).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	return tx.Create(&items).Error
}

func (r *repository) ListStagedItems(ctx context.Context, subscriptionID uuid.UUID) ([]models.SubscriptionNextItem, error) {
	var items []models.SubscriptionNextItem
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at ASC, id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) ReplaceStagedItems(ctx context.Context, subscriptionID uuid.UUID, items []models.SubscriptionNextItem) error {
	tx := r.db.WithContext(ctx)
	if err := tx.Where("subscription_id = ?", subscriptionID).Delete(&models.SubscriptionNextItem{}).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	return tx.Create(&items).Error
}

// UpsertStagedItem inserts or overwrites the staged line for the
// item's (subscription_id, product_id) pair.
func (r *repository) UpsertStagedItem(ctx context.Context, item *models.SubscriptionNextItem) error {
	tx := r.db.WithContext(ctx)
	result := tx.Model(&models.SubscriptionNextItem{}).
		Where("subscription_id = ? AND product_id = ?", item.SubscriptionID, item.ProductID).
		Updates(map[string]any{
			"quantity":   item.Quantity,
			"unit_price": item.UnitPrice,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}
	return tx.Create(item).Error
}

func (r *repository) DeleteStagedItem(ctx context.Context, subscriptionID, productID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("subscription_id = ? AND product_id = ?", subscriptionID, productID).
		Delete(&models.SubscriptionNextItem{})
	return result.RowsAffected, result.Error
}

func (r *repository) ClearStagedItems(ctx context.Context, subscriptionID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Delete(&models.SubscriptionNextItem{}).Error
}

func (r *repository) CreateCharge(ctx context.Context, charge *models.Charge) error {
	return r.db.WithContext(ctx).Create(charge).Error
}

func (r *repository) FindCharge(ctx context.Context, subscriptionID uuid.UUID, cycle int) (*models.Charge, error) {
	var charge models.Charge
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND cycle = ?", subscriptionID, cycle).
		First(&charge).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &charge, nil
}

func (r *repository) ListCharges(ctx context.Context, params ListChargesQuery) ([]models.Charge, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Charge{}).
		Where("subscription_id = ?", params.SubscriptionID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var charges []models.Charge
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&charges).Error; err != nil {
		return nil, nil, err
	}

	if len(charges) > limit {
		next := charges[limit]
		charges = charges[:limit]
		return charges, &pagination.Cursor{
			CreatedAt: next.CreatedAt,
			ID:        next.ID,
		}, nil
	}

	return charges, nil, nil
}
