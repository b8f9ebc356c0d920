package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/seafood-storefront/internal/catalog"
	"github.com/fjod/seafood-storefront/internal/domain"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleDomainError converts storefront errors to HTTP status codes.
func handleDomainError(w http.ResponseWriter, err error) {
	var (
		verr *domain.ValidationError
		terr *domain.TransportError
	)

	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   err.Error(),
			Code:    "invalid_field",
			Details: verr.Field,
		})
	case errors.Is(err, domain.ErrEmptyCart):
		respondError(w, http.StatusUnprocessableEntity, "empty_cart", err.Error())
	case errors.Is(err, domain.ErrSubmissionInProgress):
		respondError(w, http.StatusConflict, "submission_in_progress", err.Error())
	case errors.Is(err, domain.ErrCheckoutCompleted):
		respondError(w, http.StatusConflict, "checkout_completed", err.Error())
	case errors.Is(err, domain.ErrNothingToRetry):
		respondError(w, http.StatusConflict, "nothing_to_retry", err.Error())
	case errors.Is(err, domain.ErrCartChanged):
		respondError(w, http.StatusConflict, "cart_changed", err.Error())
	case errors.Is(err, catalog.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "product_not_found", err.Error())
	case errors.As(err, &terr):
		respondError(w, http.StatusBadGateway, "transport_error", terr.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
