package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/subboxlabs/subbox-backend/pkg/db/models"
	"github.com/subboxlabs/subbox-backend/pkg/enums"
	pkgerrors "github.com/subboxlabs/subbox-backend/pkg/errors"
)

// SubscriptionView is the read-side assembly of a subscription with its
// item sets resolved against the catalog for display.
type SubscriptionView struct {
	ID                uuid.UUID                `json:"id"`
	MemberID          uuid.UUID                `json:"member_id"`
	Status            enums.SubscriptionStatus `json:"status"`
	StartDate         time.Time                `json:"start_date"`
	EndDate           *time.Time               `json:"end_date,omitempty"`
	LastBillingDate   time.Time                `json:"last_billing_date"`
	NextBillingDate   time.Time                `json:"next_billing_date"`
	CurrentCycle      int                      `json:"current_cycle"`
	PaymentMethod     enums.PaymentMethod      `json:"payment_method"`
	NextPaymentMethod *enums.PaymentMethod     `json:"next_payment_method,omitempty"`
	PostalCode        string                   `json:"postal_code"`
	RoadAddress       string                   `json:"road_address"`
	DetailAddress     string                   `json:"detail_address,omitempty"`
	DeliveryRequest   string                   `json:"delivery_request,omitempty"`
	ActiveItems       []ItemView               `json:"active_items"`
	StagedItems       []ItemView               `json:"staged_items"`
	ActiveTotal       decimal.Decimal          `json:"active_total"`
}

// ItemView is one subscription line decorated with catalog display data.
// Available is false when the product vanished from the catalog; the
// stored quantity and frozen price are still shown.
type ItemView struct {
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	ImageURL    string          `json:"image_url,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
	Available   bool            `json:"available"`
}

func (s *service) assembleView(ctx context.Context, sub *models.Subscription) (*SubscriptionView, error) {
	active, err := s.repo.ListActiveItems(ctx, sub.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load active items")
	}
	staged, err := s.repo.ListStagedItems(ctx, sub.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load staged items")
	}

	ids := make([]uuid.UUID, 0, len(active)+len(staged))
	for _, item := range active {
		ids = append(ids, item.ProductID)
	}
	for _, item := range staged {
		ids = append(ids, item.ProductID)
	}
	resolved, err := s.catalog.Resolve(ctx, ids)
	if err != nil {
		return nil, err
	}

	view := &SubscriptionView{
		ID:                sub.ID,
		MemberID:          sub.MemberID,
		Status:            sub.Status,
		StartDate:         sub.StartDate,
		EndDate:           sub.EndDate,
		LastBillingDate:   sub.LastBillingDate,
		NextBillingDate:   sub.NextBillingDate,
		CurrentCycle:      sub.CurrentCycle,
		PaymentMethod:     sub.PaymentMethod,
		NextPaymentMethod: sub.NextPaymentMethod,
		PostalCode:        sub.PostalCode,
		RoadAddress:       sub.RoadAddress,
		DetailAddress:     sub.DetailAddress,
		DeliveryRequest:   sub.DeliveryRequest,
		ActiveItems:       make([]ItemView, 0, len(active)),
		StagedItems:       make([]ItemView, 0, len(staged)),
		ActiveTotal:       decimal.Zero,
	}

	for _, item := range active {
		line := buildItemView(item.ProductID, item.Quantity, item.UnitPrice, resolved)
		view.ActiveTotal = view.ActiveTotal.Add(line.LineTotal)
		view.ActiveItems = append(view.ActiveItems, line)
	}
	for _, item := range staged {
		view.StagedItems = append(view.StagedItems, buildItemView(item.ProductID, item.Quantity, item.UnitPrice, resolved))
	}
	return view, nil
}

func buildItemView(productID uuid.UUID, quantity int, unitPrice decimal.Decimal, resolved map[uuid.UUID]models.Product) ItemView {
	line := ItemView{
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		LineTotal: unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
	}
	if product, ok := resolved[productID]; ok {
		line.ProductName = product.Name
		line.ImageURL = product.ImageURL
		line.Available = true
	}
	return line
}
