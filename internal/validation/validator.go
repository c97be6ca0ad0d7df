// Package validation wraps go-playground/validator and turns its errors into
// validation failures with readable messages.
package validation

import (
	"errors"
	"reflect"
	"strings"

	val "github.com/go-playground/validator/v10"

	"salonbook/backend/internal/failure"
)

var messages = map[string]string{
	"required": "{field} is required",
	"email":    "{field} must be a valid email address",
	"uuid":     "{field} must be a valid id",
	"min":      "{field} must be at least {param} characters",
	"max":      "{field} must be at most {param} characters",
	"gte":      "{field} must be greater than or equal to {param}",
	"lte":      "{field} must be less than or equal to {param}",
	"oneof":    "{field} must be one of {param}",
	"datetime": "{field} must match {param}",
}

var validate = newValidate()

func newValidate() *val.Validate {
	v := val.New(val.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Struct validates s and returns a failure.KindValidation error naming the
// first broken rule, with every offending field in Fields.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var errs val.ValidationErrors
	if !errors.As(err, &errs) {
		return failure.Validation(err.Error())
	}

	fields := make(map[string]string, len(errs))
	first := ""
	for _, fe := range errs {
		msg := message(fe)
		if _, ok := fields[fe.Field()]; !ok {
			fields[fe.Field()] = msg
		}
		if first == "" {
			first = msg
		}
	}
	return failure.ValidationFields(first, fields)
}

func message(fe val.FieldError) string {
	tmpl, ok := messages[fe.Tag()]
	if !ok {
		return fe.Field() + " is invalid"
	}
	out := strings.ReplaceAll(tmpl, "{field}", fe.Field())
	return strings.ReplaceAll(out, "{param}", fe.Param())
}
