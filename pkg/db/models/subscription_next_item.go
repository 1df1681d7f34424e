package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubscriptionNextItem is a line the customer staged for the next cycle.
// UnitPrice is captured when the line is staged; rollover copies it
// verbatim even if the catalog price has moved since.
type SubscriptionNextItem struct {
	ID             uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	SubscriptionID uuid.UUID       `gorm:"column:subscription_id;type:uuid;not null;index;uniqueIndex:uq_next_items_sub_product"`
	ProductID      uuid.UUID       `gorm:"column:product_id;type:uuid;not null;uniqueIndex:uq_next_items_sub_product"`
	Quantity       int             `gorm:"column:quantity;not null"`
	UnitPrice      decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// LineTotal is quantity times the staged unit price.
func (i SubscriptionNextItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
