package subscriptions

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/subboxlabs/subbox-backend/pkg/db/models"
)

type subscriptionResponse struct {
	ID                uuid.UUID `json:"id"`
	MemberID          uuid.UUID `json:"member_id"`
	Status            string    `json:"status"`
	StartDate         string    `json:"start_date"`
	EndDate           *string   `json:"end_date,omitempty"`
	LastBillingDate   string    `json:"last_billing_date"`
	NextBillingDate   string    `json:"next_billing_date"`
	CurrentCycle      int       `json:"current_cycle"`
	PaymentMethod     string    `json:"payment_method"`
	NextPaymentMethod *string   `json:"next_payment_method,omitempty"`
	PostalCode        string    `json:"postal_code"`
	RoadAddress       string    `json:"road_address"`
	DetailAddress     string    `json:"detail_address,omitempty"`
	DeliveryRequest   string    `json:"delivery_request,omitempty"`
}

func newSubscriptionResponse(sub *models.Subscription) subscriptionResponse {
	resp := subscriptionResponse{
		ID:              sub.ID,
		MemberID:        sub.MemberID,
		Status:          sub.Status.String(),
		StartDate:       sub.StartDate.Format(time.DateOnly),
		LastBillingDate: sub.LastBillingDate.Format(time.DateOnly),
		NextBillingDate: sub.NextBillingDate.Format(time.DateOnly),
		CurrentCycle:    sub.CurrentCycle,
		PaymentMethod:   sub.PaymentMethod.String(),
		PostalCode:      sub.PostalCode,
		RoadAddress:     sub.RoadAddress,
		DetailAddress:   sub.DetailAddress,
		DeliveryRequest: sub.DeliveryRequest,
	}
	if sub.EndDate != nil {
		end := sub.EndDate.Format(time.DateOnly)
		resp.EndDate = &end
	}
	if sub.NextPaymentMethod != nil {
		method := sub.NextPaymentMethod.String()
		resp.NextPaymentMethod = &method
	}
	return resp
}

type chargeResponse struct {
	ID              uuid.UUID       `json:"id"`
	SubscriptionID  uuid.UUID       `json:"subscription_id"`
	Cycle           int             `json:"cycle"`
	BillingDate     string          `json:"billing_date"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	GatewayChargeID string          `json:"gateway_charge_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type chargeListResponse struct {
	Charges    []chargeResponse `json:"charges"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

func newChargeListResponse(charges []models.Charge, nextCursor string) chargeListResponse {
	resp := chargeListResponse{
		Charges:    make([]chargeResponse, 0, len(charges)),
		NextCursor: nextCursor,
	}
	for _, charge := range charges {
		resp.Charges = append(resp.Charges, chargeResponse{
			ID:              charge.ID,
			SubscriptionID:  charge.SubscriptionID,
			Cycle:           charge.Cycle,
			BillingDate:     charge.BillingDate.Format(time.DateOnly),
			Amount:          charge.Amount,
			Currency:        charge.Currency,
			Status:          charge.Status.String(),
			GatewayChargeID: charge.GatewayChargeID,
			CreatedAt:       charge.CreatedAt,
		})
	}
	return resp
}
