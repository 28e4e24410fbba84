package broadcast

import (
	"errors"
	"fmt"
)

// ValidationError rejects a request before any recipient is contacted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalidf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InfrastructureError aborts a run: the operator sink, the directory or the
// local artifact failed.
type InfrastructureError struct {
	Stage State
	Op    string
	Err   error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("broadcast %s: %s: %v", e.Stage, e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsInfrastructure(err error) bool {
	var ie *InfrastructureError
	return errors.As(err, &ie)
}
