package subscriptions

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/subboxlabs/subbox-backend/pkg/db/models"
	"github.com/subboxlabs/subbox-backend/pkg/enums"
)

func setupSubscriptionsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	subscriptions := `
CREATE TABLE IF NOT EXISTS subscriptions (
  id TEXT PRIMARY KEY,
  member_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'active',
  start_date DATETIME NOT NULL,
  end_date DATETIME,
  last_billing_date DATETIME NOT NULL,
  next_billing_date DATETIME NOT NULL,
  current_cycle INTEGER NOT NULL DEFAULT 1,
  payment_method TEXT NOT NULL,
  next_payment_method TEXT,
  postal_code TEXT NOT NULL,
  road_address TEXT NOT NULL,
  detail_address TEXT,
  delivery_request TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`
	items := `
CREATE TABLE IF NOT EXISTS subscription_items (
  id TEXT PRIMARY KEY,
  subscription_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  unit_price NUMERIC NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`
	nextItems := `
CREATE TABLE IF NOT EXISTS subscription_next_items (
  id TEXT PRIMARY KEY,
  subscription_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  unit_price NUMERIC NOT NULL,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (subscription_id, product_id)
);`
	charges := `
CREATE TABLE IF NOT EXISTS charges (
  id TEXT PRIMARY KEY,
  subscription_id TEXT NOT NULL,
  cycle INTEGER NOT NULL,
  billing_date DATETIME NOT NULL,
  amount NUMERIC NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  status TEXT NOT NULL,
  gateway_charge_id TEXT,
  created_at DATETIME,
  UNIQUE (subscription_id, cycle)
);`
	require.NoError(t, db.Exec(subscriptions).Error)
	require.NoError(t, db.Exec(items).Error)
	require.NoError(t, db.Exec(nextItems).Error)
	require.NoError(t, db.Exec(charges).Error)
	return db
}

func createSubscription(t *testing.T, db *gorm.DB, status enums.SubscriptionStatus, next time.Time) *models.Subscription {
	t.Helper()

	sub := &models.Subscription{
		ID:              uuid.New(),
		MemberID:        uuid.New(),
		Status:          status,
		StartDate:       next.AddDate(0, -1, 0),
		LastBillingDate: next.AddDate(0, -1, 0),
		NextBillingDate: next,
		CurrentCycle:    1,
		PaymentMethod:   enums.PaymentMethodCard,
		PostalCode:      "04524",
		RoadAddress:     "110 Sejong-daero",
	}
	require.NoError(t, db.Create(sub).Error)
	return sub
}

func TestRepositoryFindSubscriptionByID(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	sub := createSubscription(t, db, enums.SubscriptionStatusActive, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC))

	found, err := repo.FindSubscriptionByID(ctx, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, sub.MemberID, found.MemberID)

	missing, err := repo.FindSubscriptionByID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepositoryFindActiveByMember(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	cancelled := createSubscription(t, db, enums.SubscriptionStatusCancelled, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC))

	found, err := repo.FindActiveByMember(ctx, cancelled.MemberID)
	require.NoError(t, err)
	assert.Nil(t, found)

	active := createSubscription(t, db, enums.SubscriptionStatusActive, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC))
	found, err = repo.FindActiveByMember(ctx, active.MemberID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, active.ID, found.ID)
}

func TestRepositoryExpireActiveByMember(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	sub := createSubscription(t, db, enums.SubscriptionStatusActive, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC))
	endDate := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	affected, err := repo.ExpireActiveByMember(ctx, sub.MemberID, endDate)
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)

	stored, err := repo.FindSubscriptionByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusExpired, stored.Status)
	require.NotNil(t, stored.EndDate)

	affected, err = repo.ExpireActiveByMember(ctx, sub.MemberID, endDate)
	require.NoError(t, err)
	assert.EqualValues(t, 0, affected)
}

func TestRepositoryListDueSubscriptionIDs(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	dueOn := time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)
	due := createSubscription(t, db, enums.SubscriptionStatusActive, dueOn)
	overdue := createSubscription(t, db, enums.SubscriptionStatusActive, dueOn.AddDate(0, 0, -10))
	createSubscription(t, db, enums.SubscriptionStatusActive, dueOn.AddDate(0, 0, 1))
	createSubscription(t, db, enums.SubscriptionStatusCancelled, dueOn)

	ids, err := repo.ListDueSubscriptionIDs(ctx, dueOn, uuid.Nil, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{due.ID, overdue.ID}, ids)
}

func TestRepositoryListDueSubscriptionIDsKeysetPages(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	dueOn := time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		createSubscription(t, db, enums.SubscriptionStatusActive, dueOn)
	}

	first, err := repo.ListDueSubscriptionIDs(ctx, dueOn, uuid.Nil, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)

	// Paging from the last id of the previous page never re-returns it,
	// even though all three subscriptions are still due.
	second, err := repo.ListDueSubscriptionIDs(ctx, dueOn, first[1], 2)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.NotContains(t, first, second[0])

	rest, err := repo.ListDueSubscriptionIDs(ctx, dueOn, second[0], 2)
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestRepositoryReplaceActiveItems(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	sub := createSubscription(t, db, enums.SubscriptionStatusActive, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC))
	first := models.SubscriptionItem{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		ProductID:      uuid.New(),
		Quantity:       1,
		UnitPrice:      decimal.RequireFromString("5.00"),
	}
	require.NoError(t, repo.ReplaceActiveItems(ctx, sub.ID, []models.SubscriptionItem{first}))

	replacement := models.SubscriptionItem{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		ProductID:      uuid.New(),
		Quantity:       3,
		UnitPrice:      decimal.RequireFromString("7.50"),
	}
	require.NoError(t, repo.ReplaceActiveItems(ctx, sub.ID, []models.SubscriptionItem{replacement}))

	items, err := repo.ListActiveItems(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, replacement.ProductID, items[0].ProductID)
	assert.Equal(t, 3, items[0].Quantity)

	require.NoError(t, repo.ReplaceActiveItems(ctx, sub.ID, nil))
	items, err = repo.ListActiveItems(ctx, sub.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRepositoryStagedItemLifecycle(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	sub := createSubscription(t, db, enums.SubscriptionStatusActive, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC))
	productID := uuid.New()

	line := &models.SubscriptionNextItem{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		ProductID:      productID,
		Quantity:       2,
		UnitPrice:      decimal.RequireFromString("10.00"),
	}
	require.NoError(t, repo.UpsertStagedItem(ctx, line))

	// Second upsert for the same product updates in place.
	update := &models.SubscriptionNextItem{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		ProductID:      productID,
		Quantity:       5,
		UnitPrice:      decimal.RequireFromString("9.00"),
	}
	require.NoError(t, repo.UpsertStagedItem(ctx, update))

	staged, err := repo.ListStagedItems(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, staged, 1)
	assert.Equal(t, 5, staged[0].Quantity)
	assert.True(t, staged[0].UnitPrice.Equal(decimal.RequireFromString("9.00")))

	removed, err := repo.DeleteStagedItem(ctx, sub.ID, productID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	removed, err = repo.DeleteStagedItem(ctx, sub.ID, productID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, removed)
}

func TestRepositoryClearStagedItems(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	sub := createSubscription(t, db, enums.SubscriptionStatusActive, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC))
	for i := 0; i < 2; i++ {
		require.NoError(t, repo.UpsertStagedItem(ctx, &models.SubscriptionNextItem{
			ID:             uuid.New(),
			SubscriptionID: sub.ID,
			ProductID:      uuid.New(),
			Quantity:       1,
			UnitPrice:      decimal.RequireFromString("3.00"),
		}))
	}

	require.NoError(t, repo.ClearStagedItems(ctx, sub.ID))
	staged, err := repo.ListStagedItems(ctx, sub.ID)
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestRepositoryChargeFence(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	sub := createSubscription(t, db, enums.SubscriptionStatusActive, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC))

	charge := &models.Charge{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		Cycle:          2,
		BillingDate:    time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC),
		Amount:         decimal.RequireFromString("20.00"),
		Currency:       "USD",
		Status:         enums.ChargeStatusSucceeded,
	}
	require.NoError(t, repo.CreateCharge(ctx, charge))

	found, err := repo.FindCharge(ctx, sub.ID, 2)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, charge.ID, found.ID)

	missing, err := repo.FindCharge(ctx, sub.ID, 3)
	require.NoError(t, err)
	assert.Nil(t, missing)

	// The unique (subscription_id, cycle) pair rejects a duplicate.
	dup := *charge
	dup.ID = uuid.New()
	assert.Error(t, repo.CreateCharge(ctx, &dup))
}

func TestRepositoryListChargesPagination(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	sub := createSubscription(t, db, enums.SubscriptionStatusActive, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC))
	base := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.CreateCharge(ctx, &models.Charge{
			ID:             uuid.New(),
			SubscriptionID: sub.ID,
			Cycle:          i + 1,
			BillingDate:    base.AddDate(0, i, 0),
			Amount:         decimal.RequireFromString("10.00"),
			Currency:       "USD",
			Status:         enums.ChargeStatusSucceeded,
			CreatedAt:      base.AddDate(0, i, 0),
		}))
	}

	page, cursor, err := repo.ListCharges(ctx, ListChargesQuery{SubscriptionID: sub.ID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.NotNil(t, cursor)

	rest, cursor, err := repo.ListCharges(ctx, ListChargesQuery{SubscriptionID: sub.ID, Limit: 2, Cursor: cursor})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Nil(t, cursor)
}

func TestRepositoryWithTxSharesConnection(t *testing.T) {
	db := setupSubscriptionsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	sub := createSubscription(t, db, enums.SubscriptionStatusActive, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC))

	err := db.Transaction(func(tx *gorm.DB) error {
		txRepo := repo.WithTx(tx)
		sub.CurrentCycle = 2
		return txRepo.UpdateSubscription(ctx, sub)
	})
	require.NoError(t, err)

	stored, err := repo.FindSubscriptionByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.CurrentCycle)
}
