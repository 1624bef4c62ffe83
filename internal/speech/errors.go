package speech

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyAudio is returned when the endpoint answers 200 with no body.
// The upstream service does this occasionally; the response is useless and
// the request is not worth repeating.
var ErrEmptyAudio = errors.New("synthesis returned an empty audio body")

// APIError is a non-success response from the synthesis endpoint.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("speech api: %s (status=%d, request=%s)", e.Message, e.StatusCode, e.RequestID)
	}
	return fmt.Sprintf("speech api: %s (status=%d)", e.Message, e.StatusCode)
}

// IsRateLimit reports whether the request was throttled.
func (e *APIError) IsRateLimit() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsAuth reports whether the credentials were rejected.
func (e *APIError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsServerError reports whether the failure was on the server side.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500
}

// Retryable reports whether another attempt can succeed. Only throttling and
// the transient 5xx statuses qualify; everything else is a caller problem.
func (e *APIError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// AsAPIError extracts *APIError from an error chain.
func AsAPIError(err error) (*APIError, bool) {
	var e *APIError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// parseAPIError builds an APIError from an error response body. The endpoint
// wraps failures as {"error": {"message": ...}}; anything else is kept verbatim.
func parseAPIError(body []byte, status int, requestID string) *APIError {
	var wrapped struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	message := http.StatusText(status)
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Error.Message != "" {
		message = wrapped.Error.Message
	} else if len(body) > 0 {
		message = string(body)
	}
	return &APIError{StatusCode: status, Message: message, RequestID: requestID}
}
