package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/subboxlabs/subbox-backend/pkg/db/models"
	pkgerrors "github.com/subboxlabs/subbox-backend/pkg/errors"
	"github.com/subboxlabs/subbox-backend/pkg/logger"
	"github.com/subboxlabs/subbox-backend/pkg/pagination"
)

// Service exposes catalog management and lookup operations.
type Service interface {
	CreateProduct(ctx context.Context, input CreateProductInput) (*models.Product, error)
	UpdateProduct(ctx context.Context, productID uuid.UUID, input UpdateProductInput) (*models.Product, error)
	DeleteProduct(ctx context.Context, productID uuid.UUID) error
	GetProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error)
	ListProducts(ctx context.Context, params pagination.Params) (*ProductListResult, error)
	Resolve(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
}

// CreateProductInput holds the validated payload to create a product.
type CreateProductInput struct {
	Name     string
	Price    decimal.Decimal
	Stock    int
	ImageURL string
}

// UpdateProductInput holds optional mutation values for a product.
type UpdateProductInput struct {
	Name     *string
	Price    *decimal.Decimal
	Stock    *int
	ImageURL *string
}

// ProductListResult is one page of products plus the follow-up cursor.
type ProductListResult struct {
	Products   []models.Product
	NextCursor string
}

type productRepo interface {
	CreateProduct(ctx context.Context, product *models.Product) (*models.Product, error)
	UpdateProduct(ctx context.Context, product *models.Product) (*models.Product, error)
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
	ListProducts(ctx context.Context, params pagination.Params) ([]models.Product, error)
}

type service struct {
	repo productRepo
	logg *logger.Logger
}

// NewService constructs a catalog service instance.
func NewService(repo productRepo, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, logg: logg}, nil
}

func (s *service) CreateProduct(ctx context.Context, input CreateProductInput) (*models.Product, error) {
	if err := validateProductInput(input.Name, input.Price, input.Stock); err != nil {
		return nil, err
	}

	product := &models.Product{
		Name:     strings.TrimSpace(input.Name),
		Price:    input.Price,
		Stock:    input.Stock,
		ImageURL: strings.TrimSpace(input.ImageURL),
	}
	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create product")
	}

	s.logg.Info(s.logg.WithField(ctx, "product_id", created.ID.String()), "product created")
	return created, nil
}

func (s *service) UpdateProduct(ctx context.Context, productID uuid.UUID, input UpdateProductInput) (*models.Product, error) {
	product, err := s.repo.FindByID(ctx, productID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load product")
	}
	if product == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}

	if input.Name != nil {
		product.Name = strings.TrimSpace(*input.Name)
	}
	if input.Price != nil {
		product.Price = *input.Price
	}
	if input.Stock != nil {
		product.Stock = *input.Stock
	}
	if input.ImageURL != nil {
		product.ImageURL = strings.TrimSpace(*input.ImageURL)
	}
	if err := validateProductInput(product.Name, product.Price, product.Stock); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateProduct(ctx, product)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update product")
	}
	return updated, nil
}

func (s *service) DeleteProduct(ctx context.Context, productID uuid.UUID) error {
	product, err := s.repo.FindByID(ctx, productID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load product")
	}
	if product == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	if err := s.repo.DeleteProduct(ctx, productID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete product")
	}
	s.logg.Info(s.logg.WithField(ctx, "product_id", productID.String()), "product deleted")
	return nil
}

func (s *service) GetProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	product, err := s.repo.FindByID(ctx, productID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load product")
	}
	if product == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return product, nil
}

func (s *service) ListProducts(ctx context.Context, params pagination.Params) (*ProductListResult, error) {
	rows, err := s.repo.ListProducts(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list products")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	result := &ProductListResult{Products: rows}
	if len(rows) > limit {
		result.Products = rows[:limit]
		last := result.Products[len(result.Products)-1]
		result.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return result, nil
}

// Resolve maps the requested ids to live products. Ids that point to
// deleted or unknown products are simply absent so callers can render
// tolerant views instead of failing.
func (s *service) Resolve(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]models.Product{}, nil
	}
	products, err := s.repo.FindByIDs(ctx, dedupe(ids))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve products")
	}
	resolved := make(map[uuid.UUID]models.Product, len(products))
	for _, p := range products {
		resolved[p.ID] = p
	}
	return resolved, nil
}

func validateProductInput(name string, price decimal.Decimal, stock int) error {
	if strings.TrimSpace(name) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "product name is required")
	}
	if price.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "product price cannot be negative")
	}
	if stock < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "product stock cannot be negative")
	}
	return nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
