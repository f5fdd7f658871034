package invoker

import (
	"context"
	"errors"
	"fmt"
	"net"

	openai "github.com/sashabaranov/go-openai"
)

// NetworkError is a transient transport failure (timeout, refused
// connection). Safe to retry with backoff.
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string { return "network error: " + e.Cause.Error() }
func (e *NetworkError) Unwrap() error { return e.Cause }

// ServerError is a 5xx from the remote service. Safe to retry with backoff.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// RateLimitedError means the provider signalled throttling (HTTP 429). The
// invoker never retries it; the batch must stop rather than burn quota.
type RateLimitedError struct {
	Provider string
	Message  string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: rate limit exceeded: %s", e.Provider, e.Message)
}

// AuthError is a credential failure (401/403). Fatal: retrying cannot help,
// the operator has to fix the key.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (%d): %s", e.StatusCode, e.Message)
}

// UnknownError is a failure that fits no other class. Retried once, then
// propagated.
type UnknownError struct {
	Cause error
}

func (e *UnknownError) Error() string { return "unclassified error: " + e.Cause.Error() }
func (e *UnknownError) Unwrap() error { return e.Cause }

// Classify maps an arbitrary call failure onto the taxonomy above. Errors
// already belonging to the taxonomy pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var network *NetworkError
	var server *ServerError
	var rateLimited *RateLimitedError
	var auth *AuthError
	var unknown *UnknownError
	switch {
	case errors.As(err, &network), errors.As(err, &server),
		errors.As(err, &rateLimited), errors.As(err, &auth), errors.As(err, &unknown):
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return &RateLimitedError{Provider: "openai", Message: apiErr.Message}
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return &AuthError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
		case apiErr.HTTPStatusCode >= 500:
			return &ServerError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
		case apiErr.HTTPStatusCode >= 400:
			// Other client errors are malformed requests; not retryable.
			return &AuthError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &NetworkError{Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &NetworkError{Cause: err}
	}

	return &UnknownError{Cause: err}
}

// IsRetryable reports whether the classified error may be retried at all.
func IsRetryable(err error) bool {
	var network *NetworkError
	var server *ServerError
	var unknown *UnknownError
	return errors.As(err, &network) || errors.As(err, &server) || errors.As(err, &unknown)
}

// IsBatchStop reports whether the error must abort the whole batch run
// instead of skipping a single word.
func IsBatchStop(err error) bool {
	var rateLimited *RateLimitedError
	var auth *AuthError
	return errors.As(err, &rateLimited) || errors.As(err, &auth) || errors.Is(err, ErrCircuitOpen)
}
