package checkout

import (
	"errors"
	"reflect"
	"strings"

	"github.com/fjod/seafood-storefront/internal/domain"
	"github.com/go-playground/validator/v10"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their form (json) names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateForm returns the first failing field in declaration order.
func (a *Assembler) validateForm(form domain.ShippingForm) error {
	err := a.validate.Struct(form)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &domain.ValidationError{Field: verrs[0].Field(), Rule: verrs[0].Tag()}
	}
	return &domain.ValidationError{Field: "form", Rule: err.Error()}
}
