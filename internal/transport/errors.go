package transport

import (
	"errors"
	"fmt"
	"time"
)

// APIError is a structured failure reported by the messaging API.
//
// RetryAfter is set when the server asked the caller to slow down (HTTP 429);
// zero means the server did not specify a delay.
type APIError struct {
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("api error %d: %s (retry after %s)", e.Code, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("api error %d: %s", e.Code, e.Description)
}

// IsRateLimited reports whether the error is an HTTP 429.
func (e *APIError) IsRateLimited() bool { return e != nil && e.Code == 429 }

// AsAPIError unwraps err into an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) && ae != nil {
		return ae, true
	}
	return nil, false
}
