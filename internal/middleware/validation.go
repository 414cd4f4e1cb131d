package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apperrors "licensetrust/internal/errors"
)

// Validator decodes JSON bodies and checks them against their validate tags.
// Field names in errors are the JSON names.
type Validator struct {
	validate    *validator.Validate
	maxBodySize int64
}

// NewValidator creates a validator limiting bodies to maxBodySize bytes.
func NewValidator(maxBodySize int64) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	if maxBodySize <= 0 {
		maxBodySize = 1 << 20
	}
	return &Validator{validate: v, maxBodySize: maxBodySize}
}

// Bind decodes the request body into dst and validates it.
func (v *Validator) Bind(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, v.maxBodySize)
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.New(apperrors.KindValidation, "request body is too large", err)
		}
		return apperrors.New(apperrors.KindValidation, "request body is not valid JSON", err)
	}
	return v.Struct(dst)
}

// Struct validates s. Failures become a Validation error with one field
// entry per offending field.
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.New(apperrors.KindValidation, "invalid request", err)
	}

	verr := apperrors.Validation("request validation failed")
	for _, fe := range fieldErrs {
		verr.WithField(fe.Field(), formatFieldError(fe))
	}
	return verr
}

func formatFieldError(fe validator.FieldError) string {
	field, param := fe.Field(), fe.Param()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters", field, param)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "numeric":
		return fmt.Sprintf("%s must contain digits only", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
