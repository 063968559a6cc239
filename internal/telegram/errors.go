package telegram

import (
	"errors"
	"fmt"
)

// APIError is a request the Bot API answered with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  int // seconds, when Telegram asks us to back off
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// IsUnauthorized reports whether err is a rejected bot token.
func IsUnauthorized(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == 401
}

// IsConflict reports whether another process is polling with the same
// token.
func IsConflict(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == 409
}
