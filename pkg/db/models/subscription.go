package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/subboxlabs/subbox-backend/pkg/enums"
)

// Subscription is a member's recurring order. The items billed this cycle
// and the items staged for the next cycle live in SubscriptionItem and
// SubscriptionNextItem rows keyed by SubscriptionID.
type Subscription struct {
	ID                uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	MemberID          uuid.UUID                `gorm:"column:member_id;type:uuid;not null;index"`
	Status            enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'active'"`
	StartDate         time.Time                `gorm:"column:start_date;not null"`
	EndDate           *time.Time               `gorm:"column:end_date"`
	LastBillingDate   time.Time                `gorm:"column:last_billing_date;not null"`
	NextBillingDate   time.Time                `gorm:"column:next_billing_date;not null"`
	CurrentCycle      int                      `gorm:"column:current_cycle;not null;default:1"`
	PaymentMethod     enums.PaymentMethod      `gorm:"column:payment_method;type:payment_method;not null"`
	NextPaymentMethod *enums.PaymentMethod     `gorm:"column:next_payment_method;type:payment_method"`
	PostalCode        string                   `gorm:"column:postal_code;not null"`
	RoadAddress       string                   `gorm:"column:road_address;not null"`
	DetailAddress     string                   `gorm:"column:detail_address"`
	DeliveryRequest   string                   `gorm:"column:delivery_request"`
	CreatedAt         time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// IsActive reports whether the subscription still bills.
func (s *Subscription) IsActive() bool {
	return s != nil && s.Status == enums.SubscriptionStatusActive
}
