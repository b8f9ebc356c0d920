package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/seafood-storefront/internal/catalog"
	"github.com/fjod/seafood-storefront/internal/domain"
	"github.com/fjod/seafood-storefront/internal/pricing"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type ProductHandler struct {
	catalog catalog.Reader
	timeout time.Duration
}

func NewProductHandler(catalog catalog.Reader, timeout time.Duration) *ProductHandler {
	return &ProductHandler{
		catalog: catalog,
		timeout: timeout,
	}
}

type ProductResponse struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	ImageRef      string           `json:"image_ref"`
	BasePrice     decimal.Decimal  `json:"base_price"`
	DiscountPrice *decimal.Decimal `json:"discount_price"`
	FinalPrice    decimal.Decimal  `json:"final_price"`
	Stock         int              `json:"stock"`
	InStock       bool             `json:"in_stock"`
}

type ProductsResponse struct {
	Products []ProductResponse `json:"products"`
}

func convertProduct(p domain.Product) ProductResponse {
	return ProductResponse{
		ID:            p.ID,
		Name:          p.Name,
		ImageRef:      p.ImageRef,
		BasePrice:     p.BasePrice,
		DiscountPrice: p.DiscountPrice,
		FinalPrice:    pricing.FinalUnit(p.BasePrice, p.DiscountPrice),
		Stock:         p.Stock,
		InStock:       p.Stock > 0,
	}
}

// GET /api/v1/products
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.catalog.ListProducts(ctx)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	products := make([]ProductResponse, len(res))
	for i, p := range res {
		products[i] = convertProduct(p)
	}

	respondJSON(w, http.StatusOK, &ProductsResponse{Products: products})
}

// GET /api/v1/products/{product_id}
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, err := h.catalog.GetProduct(ctx, chi.URLParam(r, "product_id"))
	if err != nil {
		handleDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, convertProduct(p))
}
