package models

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var integrationKeyRegex = regexp.MustCompile(`^[A-Z][A-Z0-9_-]*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("integration_key", func(fl validator.FieldLevel) bool {
		return integrationKeyRegex.MatchString(fl.Field().String())
	})
	return v
}
