// Package validation checks request payloads and configured URLs.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Togather-Foundation/passvault/internal/apperror"
)

// MaxMasterKeyBytes is the bcrypt input limit.
const MaxMasterKeyBytes = 72

// New returns a validator that reports fields by their JSON names and knows
// two extra rules:
//
//	masterkey  non-empty and at most MaxMasterKeyBytes bytes
//	weburl     empty, or an absolute http(s) URL with a host
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("masterkey", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s != "" && len(s) <= MaxMasterKeyBytes
	})
	_ = v.RegisterValidation("weburl", func(fl validator.FieldLevel) bool {
		return ValidateURL(fl.Field().String(), fl.FieldName(), false) == nil
	})
	return v
}

// Error turns validator output into one VALIDATION_ERROR listing every
// failing field.
func Error(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperror.Validation(err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return apperror.Validation(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "url", "weburl":
		return field + " must be a valid URL"
	case "masterkey":
		return fmt.Sprintf("%s must be 1 to %d bytes", field, MaxMasterKeyBytes)
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
	}
}
