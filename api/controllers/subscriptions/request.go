package subscriptions

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	subsvc "github.com/subboxlabs/subbox-backend/internal/subscriptions"
	"github.com/subboxlabs/subbox-backend/pkg/enums"
	pkgerrors "github.com/subboxlabs/subbox-backend/pkg/errors"
)

type stagedItemRequest struct {
	ProductID uuid.UUID        `json:"product_id" validate:"required"`
	Quantity  int              `json:"quantity" validate:"required,gt=0"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

type createSubscriptionRequest struct {
	PaymentMethod   string              `json:"payment_method" validate:"required"`
	PostalCode      string              `json:"postal_code" validate:"required"`
	RoadAddress     string              `json:"road_address" validate:"required"`
	DetailAddress   string              `json:"detail_address,omitempty"`
	DeliveryRequest string              `json:"delivery_request,omitempty"`
	Items           []stagedItemRequest `json:"items" validate:"omitempty,dive"`
}

type billingDateRequest struct {
	NewDate string `json:"new_date" validate:"required,datetime=2006-01-02"`
}

type paymentMethodRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required"`
}

type addressRequest struct {
	PostalCode    string `json:"postal_code" validate:"required"`
	RoadAddress   string `json:"road_address" validate:"required"`
	DetailAddress string `json:"detail_address,omitempty"`
}

type deliveryRequestRequest struct {
	DeliveryRequest string `json:"delivery_request"`
}

type setStagedItemsRequest struct {
	Items []stagedItemRequest `json:"items" validate:"dive"`
}

func (r stagedItemRequest) toInput() subsvc.StagedItemInput {
	return subsvc.StagedItemInput{
		ProductID: r.ProductID,
		Quantity:  r.Quantity,
		UnitPrice: r.UnitPrice,
	}
}

func toStagedInputs(items []stagedItemRequest) []subsvc.StagedItemInput {
	inputs := make([]subsvc.StagedItemInput, 0, len(items))
	for _, item := range items {
		inputs = append(inputs, item.toInput())
	}
	return inputs
}

func parsePaymentMethod(raw string) (enums.PaymentMethod, error) {
	method, err := enums.ParsePaymentMethod(raw)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method").WithDetails(map[string]any{"field": "payment_method"})
	}
	return method, nil
}

func parseBillingDate(raw string) (time.Time, error) {
	date, err := time.ParseInLocation(time.DateOnly, raw, time.UTC)
	if err != nil {
		return time.Time{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid billing date").WithDetails(map[string]any{"field": "new_date"})
	}
	return date, nil
}
