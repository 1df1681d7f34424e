package catalog

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/subboxlabs/subbox-backend/api/responses"
	"github.com/subboxlabs/subbox-backend/api/validators"
	catalogsvc "github.com/subboxlabs/subbox-backend/internal/catalog"
	"github.com/subboxlabs/subbox-backend/pkg/db/models"
	pkgerrors "github.com/subboxlabs/subbox-backend/pkg/errors"
	"github.com/subboxlabs/subbox-backend/pkg/logger"
)

type createProductRequest struct {
	Name     string          `json:"name" validate:"required"`
	Price    decimal.Decimal `json:"price" validate:"required"`
	Stock    int             `json:"stock" validate:"min=0"`
	ImageURL string          `json:"image_url,omitempty"`
}

type updateProductRequest struct {
	Name     *string          `json:"name,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Stock    *int             `json:"stock,omitempty"`
	ImageURL *string          `json:"image_url,omitempty"`
}

type productResponse struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	ImageURL  string          `json:"image_url,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type productListResponse struct {
	Products   []productResponse `json:"products"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

func newProductResponse(product *models.Product) productResponse {
	return productResponse{
		ID:        product.ID,
		Name:      product.Name,
		Price:     product.Price,
		Stock:     product.Stock,
		ImageURL:  product.ImageURL,
		CreatedAt: product.CreatedAt,
		UpdatedAt: product.UpdatedAt,
	}
}

func productIDFrom(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id")
	}
	return id, nil
}

// CreateProduct adds a product to the catalog.
func CreateProduct(svc catalogsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}

		var payload createProductRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		product, err := svc.CreateProduct(r.Context(), catalogsvc.CreateProductInput{
			Name:     payload.Name,
			Price:    payload.Price,
			Stock:    payload.Stock,
			ImageURL: payload.ImageURL,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newProductResponse(product))
	}
}

// UpdateProduct applies a partial update to a product.
func UpdateProduct(svc catalogsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}

		productID, err := productIDFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateProductRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		product, err := svc.UpdateProduct(r.Context(), productID, catalogsvc.UpdateProductInput{
			Name:     payload.Name,
			Price:    payload.Price,
			Stock:    payload.Stock,
			ImageURL: payload.ImageURL,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newProductResponse(product))
	}
}

// DeleteProduct soft-deletes a product. Subscriptions holding it keep
// their stored lines; the rollover drops them with a warning.
func DeleteProduct(svc catalogsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}

		productID, err := productIDFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.DeleteProduct(r.Context(), productID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}

// GetProduct returns a single live product.
func GetProduct(svc catalogsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}

		productID, err := productIDFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		product, err := svc.GetProduct(r.Context(), productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newProductResponse(product))
	}
}

// ListProducts pages through the catalog newest-first.
func ListProducts(svc catalogsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}

		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ListProducts(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := productListResponse{
			Products:   make([]productResponse, 0, len(result.Products)),
			NextCursor: result.NextCursor,
		}
		for i := range result.Products {
			resp.Products = append(resp.Products, newProductResponse(&result.Products[i]))
		}

		responses.WriteSuccess(w, resp)
	}
}
