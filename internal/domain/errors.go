package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart            = errors.New("cart is empty, nothing to checkout")
	ErrSubmissionInProgress = errors.New("checkout submission already in progress")
	ErrCheckoutCompleted    = errors.New("checkout already completed")
	ErrNothingToRetry       = errors.New("no failed checkout to retry")
	ErrCartChanged          = errors.New("cart changed since the failed checkout, submit again")
	ErrIllegalTransition    = errors.New("illegal transition of checkout status")
)

// ValidationError names the first shipping form field that failed validation.
type ValidationError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %q: failed %s", e.Field, e.Rule)
}

// TransportError wraps a failed call to the backend (fetch cart or submit order).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
