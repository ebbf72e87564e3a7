// Package errors provides structured error types for hangar.
// These errors carry rich context information that can be formatted
// for human-readable CLI output or machine-readable JSON.
//
//nolint:revive // Package name intentionally shadows stdlib errors for convenience.
package errors

// Category represents the classification of an error.
type Category string

const (
	CategoryConfig    Category = "config"
	CategoryOperation Category = "operation"
	CategoryInstall   Category = "install"
	CategoryLaunch    Category = "launch"
	CategoryNetwork   Category = "network"
	CategorySnapshot  Category = "snapshot"
	CategoryState     Category = "state"
)

// Code is a machine-readable error code.
type Code string

const (
	// Operation errors (E1xx)
	CodeCancelled               Code = "E101"
	CodeAnotherOperationRunning Code = "E102"
	CodeUnknownInstallation     Code = "E103"
	CodeUnknownSource           Code = "E104"

	// Registry / config errors (E2xx)
	CodeDuplicatePath    Code = "E201"
	CodeDuplicateName    Code = "E202"
	CodePathDoesNotExist Code = "E203"
	CodeInvalidConfig    Code = "E204"

	// Install errors (E3xx)
	CodeInstallDirEmpty    Code = "E301"
	CodeSafetyCheckFailed  Code = "E302"
	CodeExtractionFailed   Code = "E303"
	CodeTarExtractionFailed Code = "E304"

	// Launch errors (E4xx)
	CodeAlreadyRunning  Code = "E401"
	CodePortConflict    Code = "E402"
	CodeNoLaunchSupport Code = "E403"
	CodeNoEnvFound      Code = "E404"
	CodeNoFreePort      Code = "E405"
	CodeStartupTimeout  Code = "E406"

	// Network errors (E5xx)
	CodeTransport  Code = "E501"
	CodeHTTPStatus Code = "E502"
	CodeRedirects  Code = "E503"

	// Snapshot errors (E6xx)
	CodeInvalidSnapshot Code = "E601"
	CodeBackupFailed    Code = "E602"
	CodeRestoreReverted Code = "E603"

	// State errors (E7xx)
	CodeStateError  Code = "E701"
	CodeStateLocked Code = "E702"
)

// Error is the base error type for hangar.
// It provides structured information that can be formatted for CLI output.
type Error struct {
	// Category classifies the error type.
	Category Category `json:"category"`

	// Code is a machine-readable error code.
	Code Code `json:"code,omitempty"`

	// Message is a short description of the error.
	Message string `json:"message"`

	// Details contains additional context information.
	Details map[string]any `json:"details,omitempty"`

	// Hint provides actionable advice for the user.
	Hint string `json:"hint,omitempty"`

	// Cause is the underlying error.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target error matches this error.
// It matches if the target is an *Error with the same Code (if both have codes).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Code != "" && t.Code != "" {
		return e.Code == t.Code
	}
	return e.Category == t.Category && e.Message == t.Message
}

// WithHint sets the hint and returns the error for chaining.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// WithDetail adds a detail and returns the error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new Error with the given category and message.
func New(category Category, message string) *Error {
	return &Error{
		Category: category,
		Message:  message,
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(category Category, message string, cause error) *Error {
	return &Error{
		Category: category,
		Message:  message,
		Cause:    cause,
	}
}
