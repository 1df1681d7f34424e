package subscriptions

import (
	"context"
	"fmt"

	sq "github.com/square/square-go-sdk"

	pkgerrors "github.com/subboxlabs/subbox-backend/pkg/errors"
	"github.com/subboxlabs/subbox-backend/pkg/square"
)

type paymentCreator interface {
	CreatePayment(ctx context.Context, params square.PaymentCreateParams) (*sq.Payment, error)
}

// SquareGateway adapts the Square client to the engine's charge
// contract. The member's card on file is addressed by the ccof token
// derived from the member id registered at checkout.
type SquareGateway struct {
	client paymentCreator
}

// NewSquareGateway wraps a Square client as a ChargeClient.
func NewSquareGateway(client paymentCreator) (*SquareGateway, error) {
	if client == nil {
		return nil, fmt.Errorf("square client required")
	}
	return &SquareGateway{client: client}, nil
}

// Charge creates a Square payment for the cycle total.
func (g *SquareGateway) Charge(ctx context.Context, params ChargeParams) (*ChargeResult, error) {
	amountCents := params.Amount.Shift(2).IntPart()
	payment, err := g.client.CreatePayment(ctx, square.PaymentCreateParams{
		AmountCents:    amountCents,
		Currency:       params.Currency,
		CustomerID:     params.MemberID.String(),
		SourceID:       fmt.Sprintf("ccof:%s", params.MemberID),
		IdempotencyKey: params.IdempotencyKey,
		Note:           fmt.Sprintf("subscription %s via %s", params.SubscriptionID, params.Method),
		ReferenceID:    params.SubscriptionID.String(),
	})
	if err != nil {
		return nil, err
	}
	if payment == nil || payment.GetID() == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square returned no payment id")
	}
	return &ChargeResult{ChargeID: *payment.GetID()}, nil
}
