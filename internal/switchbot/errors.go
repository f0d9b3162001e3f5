package switchbot

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidAuth means the token/secret pair was rejected. Not retryable.
	ErrInvalidAuth = errors.New("switchbot: invalid authentication")
	// ErrCannotConnect covers transport failures and server-side outages.
	ErrCannotConnect = errors.New("switchbot: cannot connect")
)

// APIError is a well-formed response whose envelope reports a failure.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return "switchbot api error"
	}
	return fmt.Sprintf("switchbot %s: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

func classifyHTTPStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrInvalidAuth
	case status == http.StatusTooManyRequests, status >= 500:
		return ErrCannotConnect
	default:
		return nil
	}
}

func isRetryable(err error) bool {
	return errors.Is(err, ErrCannotConnect)
}
