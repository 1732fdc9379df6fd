package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"dirhub/internal/types"
)

// Validator wraps go-playground/validator with the domain tags:
//
//	paid_tier - a known tier above basic
//	tier      - any known tier
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator that reports JSON field names.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	// Tier tags match the wire values exactly; the billing layer compares
	// tiers without normalising them.
	_ = v.RegisterValidation("tier", func(fl validator.FieldLevel) bool {
		return types.Tier(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("paid_tier", func(fl validator.FieldLevel) bool {
		return types.Tier(fl.Field().String()).IsPaid()
	})

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct returns nil or an AppError whose details list one entry per
// failing field. The code is validation_invalid_tier when only tier tags
// failed and validation_missing_required_field otherwise.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		v.logger.Error("validator misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	fields := make(map[string]any, len(verrs))
	code := types.ErrCodeValidationTier
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
		if fe.Tag() != "tier" && fe.Tag() != "paid_tier" {
			code = types.ErrCodeValidationMissingField
		}
	}

	return types.NewAppErrorWithDetails(code, "request validation failed", nil, map[string]any{"fields": fields})
}
