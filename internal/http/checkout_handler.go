package http

import (
	"encoding/json"
	"net/http"

	"github.com/fjod/seafood-storefront/internal/checkout"
	"github.com/fjod/seafood-storefront/internal/domain"
)

type CheckoutHandler struct {
	assembler *checkout.Assembler
}

func NewCheckoutHandler(assembler *checkout.Assembler) *CheckoutHandler {
	return &CheckoutHandler{assembler: assembler}
}

type CheckoutStatusDTO struct {
	Status  string               `json:"status"`
	Receipt *domain.OrderReceipt `json:"receipt,omitempty"`
}

// GET /api/v1/checkout/quote
func (h *CheckoutHandler) Quote(w http.ResponseWriter, r *http.Request) {
	snap := sessionFromContext(r.Context()).Store.Snapshot()
	respondJSON(w, http.StatusOK, h.assembler.Quote(snap))
}

// GET /api/v1/checkout
func (h *CheckoutHandler) Status(w http.ResponseWriter, r *http.Request) {
	flow := sessionFromContext(r.Context()).Flow()
	respondJSON(w, http.StatusOK, CheckoutStatusDTO{
		Status:  flow.Status().String(),
		Receipt: flow.Receipt(),
	})
}

// POST /api/v1/checkout
func (h *CheckoutHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var form domain.ShippingForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	receipt, err := sessionFromContext(r.Context()).Checkout().Submit(r.Context(), form)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, receipt)
}

// POST /api/v1/checkout/retry
func (h *CheckoutHandler) Retry(w http.ResponseWriter, r *http.Request) {
	receipt, err := sessionFromContext(r.Context()).Flow().Retry(r.Context())
	if err != nil {
		handleDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, receipt)
}
