package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/subboxlabs/subbox-backend/pkg/db/models"
	pkgerrors "github.com/subboxlabs/subbox-backend/pkg/errors"
	"github.com/subboxlabs/subbox-backend/pkg/logger"
	"github.com/subboxlabs/subbox-backend/pkg/pagination"
)

type stubProductRepo struct {
	products map[uuid.UUID]models.Product
	created  *models.Product
	deleted  []uuid.UUID
	listed   []models.Product
}

func newStubProductRepo() *stubProductRepo {
	return &stubProductRepo{products: map[uuid.UUID]models.Product{}}
}

func (s *stubProductRepo) CreateProduct(_ context.Context, product *models.Product) (*models.Product, error) {
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	s.created = product
	s.products[product.ID] = *product
	return product, nil
}

func (s *stubProductRepo) UpdateProduct(_ context.Context, product *models.Product) (*models.Product, error) {
	s.products[product.ID] = *product
	return product, nil
}

func (s *stubProductRepo) DeleteProduct(_ context.Context, id uuid.UUID) error {
	s.deleted = append(s.deleted, id)
	delete(s.products, id)
	return nil
}

func (s *stubProductRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Product, error) {
	if p, ok := s.products[id]; ok {
		copied := p
		return &copied, nil
	}
	return nil, nil
}

func (s *stubProductRepo) FindByIDs(_ context.Context, ids []uuid.UUID) ([]models.Product, error) {
	var out []models.Product
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubProductRepo) ListProducts(_ context.Context, _ pagination.Params) ([]models.Product, error) {
	return s.listed, nil
}

func newTestService(t *testing.T, repo *stubProductRepo) Service {
	t.Helper()
	svc, err := NewService(repo, logger.New(logger.Options{Level: zerolog.ErrorLevel}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestCreateProductValidation(t *testing.T) {
	svc := newTestService(t, newStubProductRepo())

	_, err := svc.CreateProduct(context.Background(), CreateProductInput{Name: "  ", Price: decimal.NewFromInt(10)})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for blank name, got %v", err)
	}

	_, err = svc.CreateProduct(context.Background(), CreateProductInput{Name: "Box", Price: decimal.NewFromInt(-1)})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for negative price, got %v", err)
	}
}

func TestCreateProductTrimsName(t *testing.T) {
	repo := newStubProductRepo()
	svc := newTestService(t, repo)

	created, err := svc.CreateProduct(context.Background(), CreateProductInput{
		Name:  "  Monthly Snack Box ",
		Price: decimal.RequireFromString("19.99"),
		Stock: 5,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if created.Name != "Monthly Snack Box" {
		t.Fatalf("expected trimmed name, got %q", created.Name)
	}
	if repo.created == nil {
		t.Fatalf("expected repo create call")
	}
}

func TestGetProductNotFound(t *testing.T) {
	svc := newTestService(t, newStubProductRepo())

	_, err := svc.GetProduct(context.Background(), uuid.New())
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateProductAppliesPartialChanges(t *testing.T) {
	repo := newStubProductRepo()
	svc := newTestService(t, repo)

	id := uuid.New()
	repo.products[id] = models.Product{ID: id, Name: "Box", Price: decimal.NewFromInt(10), Stock: 3}

	newPrice := decimal.RequireFromString("12.50")
	updated, err := svc.UpdateProduct(context.Background(), id, UpdateProductInput{Price: &newPrice})
	if err != nil {
		t.Fatalf("update product: %v", err)
	}
	if !updated.Price.Equal(newPrice) {
		t.Fatalf("expected price %s, got %s", newPrice, updated.Price)
	}
	if updated.Name != "Box" {
		t.Fatalf("expected untouched name, got %q", updated.Name)
	}
}

func TestDeleteProductNotFound(t *testing.T) {
	svc := newTestService(t, newStubProductRepo())

	err := svc.DeleteProduct(context.Background(), uuid.New())
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResolveSkipsMissingProducts(t *testing.T) {
	repo := newStubProductRepo()
	svc := newTestService(t, repo)

	live := uuid.New()
	gone := uuid.New()
	repo.products[live] = models.Product{ID: live, Name: "Box", Price: decimal.NewFromInt(10)}

	resolved, err := svc.Resolve(context.Background(), []uuid.UUID{live, gone, live})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(resolved) != 1 {
		t.Fatalf("expected one resolved product, got %d", len(resolved))
	}
	if _, ok := resolved[gone]; ok {
		t.Fatalf("missing product should not resolve")
	}
}

func TestListProductsCursor(t *testing.T) {
	repo := newStubProductRepo()
	svc := newTestService(t, repo)

	for i := 0; i < 3; i++ {
		repo.listed = append(repo.listed, models.Product{ID: uuid.New(), Name: "Box"})
	}

	result, err := svc.ListProducts(context.Background(), pagination.Params{Limit: 2})
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(result.Products) != 2 {
		t.Fatalf("expected 2 products on page, got %d", len(result.Products))
	}
	if result.NextCursor == "" {
		t.Fatalf("expected next cursor when more rows exist")
	}
}
