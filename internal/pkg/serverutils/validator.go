package serverutils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, tag := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s failed on '%s'", field, tag))
	}
	return "validation error: " + strings.Join(parts, ", ")
}

func ValidateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err
	}
	out := &ValidationError{Fields: make(map[string]string, len(errs))}
	for _, fe := range errs {
		out.Fields[fe.Field()] = fe.Tag()
	}
	return out
}
