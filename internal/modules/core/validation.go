package core

import (
	"errors"
	"net/http"
	"strings"
)

type Validator interface {
	Validate() error
}

type ValidationError struct {
	ValidationErrors []error
}

func NewValidationError(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}

	if len(nonNil) == 0 {
		return nil
	}

	return ValidationError{ValidationErrors: nonNil}
}

func (e ValidationError) Error() string {
	var b strings.Builder
	for i, err := range e.ValidationErrors {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(" '")
		b.WriteString(err.Error())
		b.WriteString("'")
	}
	return strings.TrimSpace(b.String())
}

func (e ValidationError) Is(target error) bool {
	for _, err := range e.ValidationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Validate runs request validation the way every handler expects it: a failed
// Validate() comes back as a 400 CommandError carrying message.
func Validate(request any, message string) error {
	v, ok := request.(Validator)
	if !ok {
		return nil
	}

	if err := v.Validate(); err != nil {
		return NewCommandError(http.StatusBadRequest, message, err, WithReason("request validation failed"))
	}

	return nil
}
