package webhook

import (
	"errors"
	"fmt"
)

// ErrUnknownDevice means the payload addressed a MAC with no coordinator.
var ErrUnknownDevice = errors.New("webhook: unknown device")

// ValidationError describes why a payload was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("webhook: invalid payload: %s", e.Reason)
}

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
