//nolint:revive // Package name intentionally shadows stdlib errors for convenience.
package errors

import "fmt"

// Sentinel network errors for errors.Is checks.
var (
	ErrTransport  = &Error{Category: CategoryNetwork, Code: CodeTransport, Message: "network request failed"}
	ErrHTTPStatus = &Error{Category: CategoryNetwork, Code: CodeHTTPStatus, Message: "unexpected HTTP status"}
	ErrRedirects  = &Error{Category: CategoryNetwork, Code: CodeRedirects, Message: "too many redirects"}
)

// NetworkError represents a network-related error.
type NetworkError struct {
	Base Error `json:"error"`

	// URL is the URL that failed.
	URL string `json:"url,omitempty"`

	// StatusCode is the HTTP status code (if applicable).
	StatusCode int `json:"statusCode,omitempty"`
}

// NewTransportError creates a NetworkError for transport failures.
func NewTransportError(url string, cause error) *NetworkError {
	return &NetworkError{
		Base: Error{
			Category: CategoryNetwork,
			Code:     CodeTransport,
			Message:  "network request failed",
			Cause:    cause,
		},
		URL: url,
	}
}

// NewHTTPStatusError creates a NetworkError for non-2xx responses.
func NewHTTPStatusError(url string, statusCode int) *NetworkError {
	return &NetworkError{
		Base: Error{
			Category: CategoryNetwork,
			Code:     CodeHTTPStatus,
			Message:  fmt.Sprintf("HTTP %d", statusCode),
		},
		URL:        url,
		StatusCode: statusCode,
	}
}

// NewRedirectsError creates a NetworkError for exceeded redirect limits.
func NewRedirectsError(url string, max int) *NetworkError {
	return &NetworkError{
		Base: Error{
			Category: CategoryNetwork,
			Code:     CodeRedirects,
			Message:  fmt.Sprintf("stopped after %d redirects", max),
		},
		URL: url,
	}
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return e.Base.Error()
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Base.Cause
}

// Is reports whether the target error matches this error by code.
func (e *NetworkError) Is(target error) bool {
	switch t := target.(type) {
	case *NetworkError:
		return e.Base.Code == t.Base.Code
	case *Error:
		return t.Code != "" && e.Base.Code == t.Code
	default:
		return false
	}
}
