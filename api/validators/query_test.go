package validators

import (
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/subboxlabs/subbox-backend/pkg/errors"
	"github.com/subboxlabs/subbox-backend/pkg/pagination"
)

func TestParsePaginationDefaults(t *testing.T) {
	req := httptest.NewRequest("GET", "/charges", nil)

	params, err := ParsePagination(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.Limit != 0 || params.Cursor != "" {
		t.Fatalf("expected zero-value params, got %+v", params)
	}
}

func TestParsePaginationAcceptsValidCursor(t *testing.T) {
	cursor := pagination.EncodeCursor(pagination.Cursor{
		CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		ID:        uuid.New(),
	})
	req := httptest.NewRequest("GET", "/charges?limit=10&cursor="+url.QueryEscape(cursor), nil)

	params, err := ParsePagination(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.Limit != 10 || params.Cursor != cursor {
		t.Fatalf("params not forwarded: %+v", params)
	}
}

func TestParsePaginationRejectsGarbageCursor(t *testing.T) {
	req := httptest.NewRequest("GET", "/charges?cursor=%25%25garbage", nil)

	_, err := ParsePagination(req)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParsePaginationRejectsOversizedLimit(t *testing.T) {
	req := httptest.NewRequest("GET", "/charges?limit=5000", nil)

	_, err := ParsePagination(req)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
