package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubscriptionItem is a line billed this cycle. UnitPrice is frozen at
// rollover time and never re-read from the catalog.
type SubscriptionItem struct {
	ID             uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	SubscriptionID uuid.UUID       `gorm:"column:subscription_id;type:uuid;not null;index"`
	ProductID      uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	Quantity       int             `gorm:"column:quantity;not null"`
	UnitPrice      decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// LineTotal is quantity times the frozen unit price.
func (i SubscriptionItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
