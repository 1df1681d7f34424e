package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	pgDup := &pgconn.PgError{Code: "23505", ConstraintName: "uq_charges_sub_cycle"}

	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{name: "nil error", err: nil, constraint: "", want: false},
		{name: "pg unique violation", err: pgDup, constraint: "", want: true},
		{name: "pg violation matching constraint", err: pgDup, constraint: "uq_charges_sub_cycle", want: true},
		{name: "pg violation other constraint", err: pgDup, constraint: "uq_subscriptions_member_active", want: false},
		{name: "pg non-unique code", err: &pgconn.PgError{Code: "23503"}, constraint: "", want: false},
		{name: "wrapped pg violation", err: fmt.Errorf("create charge: %w", pgDup), constraint: "uq_charges_sub_cycle", want: true},
		{name: "postgres message fallback", err: errors.New(`duplicate key value violates unique constraint "uq_charges_sub_cycle"`), constraint: "", want: true},
		{name: "sqlite message fallback", err: errors.New("UNIQUE constraint failed: charges.subscription_id, charges.cycle"), constraint: "", want: true},
		{name: "unrelated error", err: errors.New("connection reset"), constraint: "uq_charges_sub_cycle", want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsUniqueViolation(tc.err, tc.constraint))
		})
	}
}
