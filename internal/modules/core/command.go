package core

import (
	"encoding/json"
	"fmt"
)

type Unit struct{}

// CommandError is the error every command handler returns to the HTTP layer.
// Message is what the viewer sees; Err stays in the logs.
type CommandError struct {
	StatusCode int
	Message    string
	Err        error
	Reason     *string
}

type CommandErrorOption func(*CommandError)

func WithReason(reason string) CommandErrorOption {
	return func(e *CommandError) {
		e.Reason = &reason
	}
}

func NewCommandError(statusCode int, message string, err error, opts ...CommandErrorOption) CommandError {
	e := CommandError{
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}

	for _, opt := range opts {
		opt(&e)
	}

	return e
}

func (e CommandError) Error() string {
	var values struct {
		StatusCode int
		Message    string
		Reason     string
		Err        error
	}

	values.StatusCode = e.StatusCode
	values.Message = e.Message
	values.Err = e.Err

	if e.Reason != nil {
		values.Reason = *e.Reason
	}

	return fmt.Sprintf("%+v", values)
}

func (e CommandError) Unwrap() error {
	return e.Err
}

func (e CommandError) MarshalJSON() ([]byte, error) {
	body := struct {
		Message string `json:"message"`
		Reason  string `json:"reason,omitempty"`
	}{Message: e.Message}

	if e.Reason != nil {
		body.Reason = *e.Reason
	}

	return json.Marshal(body)
}
