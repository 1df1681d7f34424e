package subscriptions

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"

	"github.com/subboxlabs/subbox-backend/pkg/enums"
	pkgerrors "github.com/subboxlabs/subbox-backend/pkg/errors"
	"github.com/subboxlabs/subbox-backend/pkg/square"
)

type fakePaymentCreator struct {
	params square.PaymentCreateParams
	err    error
	id     *string
}

func (f *fakePaymentCreator) CreatePayment(_ context.Context, params square.PaymentCreateParams) (*sq.Payment, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &sq.Payment{ID: f.id}, nil
}

func TestSquareGatewayCharge(t *testing.T) {
	paymentID := "pay_123"
	creator := &fakePaymentCreator{id: &paymentID}
	gateway, err := NewSquareGateway(creator)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}

	subID := uuid.New()
	result, err := gateway.Charge(context.Background(), ChargeParams{
		SubscriptionID: subID,
		MemberID:       uuid.New(),
		Amount:         decimal.RequireFromString("19.99"),
		Currency:       "USD",
		Method:         enums.PaymentMethodCard,
		IdempotencyKey: "sub-key-4",
	})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if result.ChargeID != paymentID {
		t.Fatalf("expected gateway payment id, got %q", result.ChargeID)
	}
	if creator.params.AmountCents != 1999 {
		t.Fatalf("expected 1999 cents, got %d", creator.params.AmountCents)
	}
	if creator.params.IdempotencyKey != "sub-key-4" {
		t.Fatalf("idempotency key must pass through, got %q", creator.params.IdempotencyKey)
	}
	if creator.params.ReferenceID != subID.String() {
		t.Fatalf("reference must carry the subscription id")
	}
}

func TestSquareGatewayNoPaymentID(t *testing.T) {
	gateway, err := NewSquareGateway(&fakePaymentCreator{})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}

	_, err = gateway.Charge(context.Background(), ChargeParams{
		SubscriptionID: uuid.New(),
		MemberID:       uuid.New(),
		Amount:         decimal.RequireFromString("5.00"),
		Currency:       "USD",
		Method:         enums.PaymentMethodCard,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}
