package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/seafood-storefront/internal/cart"
	"github.com/fjod/seafood-storefront/internal/catalog"
	"github.com/fjod/seafood-storefront/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type CartHandler struct {
	catalog    catalog.Reader
	reconciler *cart.Reconciler
	timeout    time.Duration
}

func NewCartHandler(catalog catalog.Reader, reconciler *cart.Reconciler, timeout time.Duration) *CartHandler {
	return &CartHandler{
		catalog:    catalog,
		reconciler: reconciler,
		timeout:    timeout,
	}
}

type AddItemRequestDTO struct {
	ProductID string `json:"product_id"`
	Quantity  *int   `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type CartLineDTO struct {
	ProductID         string           `json:"product_id"`
	Name              string           `json:"name"`
	ImageRef          string           `json:"image_ref"`
	UnitBasePrice     decimal.Decimal  `json:"unit_base_price"`
	UnitDiscountPrice *decimal.Decimal `json:"unit_discount_price"`
	UnitFinalPrice    decimal.Decimal  `json:"unit_final_price"`
	Discounted        bool             `json:"discounted"`
	Quantity          int              `json:"quantity"`
	StockCeiling      int              `json:"stock_ceiling"`
	LineTotal         decimal.Decimal  `json:"line_total"`
}

type CartResponseDTO struct {
	Lines     []CartLineDTO   `json:"lines"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	ItemCount int             `json:"item_count"`
	SyncError string          `json:"sync_error,omitempty"`
}

func convertSnapshot(snap domain.Snapshot) CartResponseDTO {
	lines := make([]CartLineDTO, 0, len(snap.Lines))
	for _, l := range snap.Lines {
		price := l.Price()
		lines = append(lines, CartLineDTO{
			ProductID:         l.ProductID,
			Name:              l.Name,
			ImageRef:          l.ImageRef,
			UnitBasePrice:     l.UnitBasePrice,
			UnitDiscountPrice: l.UnitDiscountPrice,
			UnitFinalPrice:    price.FinalUnit,
			Discounted:        price.Discounted,
			Quantity:          l.Quantity,
			StockCeiling:      l.StockCeiling,
			LineTotal:         price.LineTotal,
		})
	}
	return CartResponseDTO{
		Lines:     lines,
		Subtotal:  snap.Subtotal,
		ItemCount: snap.ItemCount(),
	}
}

// GET /api/v1/cart
// Pulls the server cart into an empty local cart first. A failed pull is
// reported next to the local cart.
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s := sessionFromContext(r.Context())

	var syncErr string
	if _, err := h.reconciler.Reconcile(ctx, s.ID, s.Store); err != nil {
		syncErr = err.Error()
	}

	resp := convertSnapshot(s.Store.Snapshot())
	resp.SyncError = syncErr
	respondJSON(w, http.StatusOK, resp)
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}

	product, err := h.catalog.GetProduct(ctx, req.ProductID)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	snap := sessionFromContext(r.Context()).Store.AddLine(product, qty)
	respondJSON(w, http.StatusOK, convertSnapshot(snap))
}

// PUT /api/v1/cart/items/{product_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	snap := sessionFromContext(r.Context()).Store.SetQuantity(productID, req.Quantity)
	respondJSON(w, http.StatusOK, convertSnapshot(snap))
}

// DELETE /api/v1/cart/items/{product_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")

	snap := sessionFromContext(r.Context()).Store.RemoveLine(productID)
	respondJSON(w, http.StatusOK, convertSnapshot(snap))
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	snap := sessionFromContext(r.Context()).Store.Clear()
	respondJSON(w, http.StatusOK, convertSnapshot(snap))
}
