package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/subboxlabs/subbox-backend/pkg/enums"
)

// Charge records the gateway charge made for one billing cycle. The
// unique (subscription_id, cycle) pair doubles as the idempotency fence
// when a rollover is retried after a crash.
type Charge struct {
	ID              uuid.UUID          `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	SubscriptionID  uuid.UUID          `gorm:"column:subscription_id;type:uuid;not null;index;uniqueIndex:uq_charges_sub_cycle"`
	Cycle           int                `gorm:"column:cycle;not null;uniqueIndex:uq_charges_sub_cycle"`
	BillingDate     time.Time          `gorm:"column:billing_date;not null"`
	Amount          decimal.Decimal    `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency        string             `gorm:"column:currency;not null;default:'USD'"`
	Status          enums.ChargeStatus `gorm:"column:status;type:charge_status;not null"`
	GatewayChargeID string             `gorm:"column:gateway_charge_id"`
	CreatedAt       time.Time          `gorm:"column:created_at;autoCreateTime"`
}
