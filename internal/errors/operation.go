//nolint:revive // Package name intentionally shadows stdlib errors for convenience.
package errors

import "fmt"

// Sentinel errors for errors.Is checks. Matching is by Code, so a
// sentinel matches any error produced by the corresponding constructor.
var (
	ErrCancelled               = &Error{Category: CategoryOperation, Code: CodeCancelled, Message: "operation cancelled"}
	ErrAnotherOperationRunning = &Error{Category: CategoryOperation, Code: CodeAnotherOperationRunning, Message: "another operation is running"}
	ErrUnknownInstallation     = &Error{Category: CategoryOperation, Code: CodeUnknownInstallation, Message: "unknown installation"}
	ErrUnknownSource           = &Error{Category: CategoryOperation, Code: CodeUnknownSource, Message: "unknown source"}
	ErrDuplicatePath           = &Error{Category: CategoryConfig, Code: CodeDuplicatePath, Message: "install path already in use"}
	ErrDuplicateName           = &Error{Category: CategoryConfig, Code: CodeDuplicateName, Message: "name already in use"}
	ErrPathDoesNotExist        = &Error{Category: CategoryConfig, Code: CodePathDoesNotExist, Message: "path does not exist"}
	ErrInvalidConfig           = &Error{Category: CategoryConfig, Code: CodeInvalidConfig, Message: "invalid configuration"}
	ErrInstallDirEmpty         = &Error{Category: CategoryInstall, Code: CodeInstallDirEmpty, Message: "install directory is empty"}
	ErrSafetyCheckFailed       = &Error{Category: CategoryInstall, Code: CodeSafetyCheckFailed, Message: "safety check failed"}
	ErrExtractionFailed        = &Error{Category: CategoryInstall, Code: CodeExtractionFailed, Message: "extraction failed"}
	ErrTarExtractionFailed     = &Error{Category: CategoryInstall, Code: CodeTarExtractionFailed, Message: "tar extraction failed"}
	ErrAlreadyRunning          = &Error{Category: CategoryLaunch, Code: CodeAlreadyRunning, Message: "installation is already running"}
	ErrPortConflict            = &Error{Category: CategoryLaunch, Code: CodePortConflict, Message: "port is already in use"}
	ErrNoLaunchSupport         = &Error{Category: CategoryLaunch, Code: CodeNoLaunchSupport, Message: "source does not support this operation"}
	ErrNoEnvFound              = &Error{Category: CategoryLaunch, Code: CodeNoEnvFound, Message: "no package environment found"}
	ErrNoFreePort              = &Error{Category: CategoryLaunch, Code: CodeNoFreePort, Message: "no free port available"}
	ErrStartupTimeout          = &Error{Category: CategoryLaunch, Code: CodeStartupTimeout, Message: "timed out waiting for startup"}
	ErrInvalidSnapshot         = &Error{Category: CategorySnapshot, Code: CodeInvalidSnapshot, Message: "invalid snapshot reference"}
	ErrBackupFailed            = &Error{Category: CategorySnapshot, Code: CodeBackupFailed, Message: "package backup failed"}
	ErrRestoreReverted         = &Error{Category: CategorySnapshot, Code: CodeRestoreReverted, Message: "restore failed and was reverted"}
)

// Cancelled creates a cancellation error for the given operation.
func Cancelled(operation string) *Error {
	return &Error{
		Category: CategoryOperation,
		Code:     CodeCancelled,
		Message:  fmt.Sprintf("%s cancelled", operation),
	}
}

// AnotherOperationRunning creates an error for a busy installation.
func AnotherOperationRunning(installationID string) *Error {
	return &Error{
		Category: CategoryOperation,
		Code:     CodeAnotherOperationRunning,
		Message:  "another operation is already running for this installation",
		Details:  map[string]any{"installationId": installationID},
	}
}

// UnknownInstallation creates an error for an unknown installation id.
func UnknownInstallation(id string) *Error {
	return &Error{
		Category: CategoryOperation,
		Code:     CodeUnknownInstallation,
		Message:  fmt.Sprintf("unknown installation %q", id),
	}
}

// UnknownSource creates an error for an unknown source plugin id.
func UnknownSource(sourceID string) *Error {
	return &Error{
		Category: CategoryOperation,
		Code:     CodeUnknownSource,
		Message:  fmt.Sprintf("unknown source %q", sourceID),
	}
}

// SafetyCheckFailed creates an error for a refused deletion.
func SafetyCheckFailed(path string) *Error {
	return &Error{
		Category: CategoryInstall,
		Code:     CodeSafetyCheckFailed,
		Message:  "Safety check failed: directory is not owned by this installation",
		Details:  map[string]any{"path": path},
		Hint:     "Use 'untrack' to remove the entry without deleting files.",
	}
}

// NoEnvFound creates an error for a missing package environment.
func NoEnvFound(installPath string) *Error {
	return &Error{
		Category: CategoryLaunch,
		Code:     CodeNoEnvFound,
		Message:  "no package environment found",
		Details:  map[string]any{"installPath": installPath},
		Hint:     "Expected a .venv or venv directory inside the installation.",
	}
}

// NoLaunchSupport creates an error for an operation the source variant
// does not implement.
func NoLaunchSupport(sourceID, operation string) *Error {
	return &Error{
		Category: CategoryLaunch,
		Code:     CodeNoLaunchSupport,
		Message:  fmt.Sprintf("source %q does not support %s", sourceID, operation),
	}
}

// InvalidConfig creates an error for an unrecognized configuration value.
func InvalidConfig(field, value string) *Error {
	return &Error{
		Category: CategoryConfig,
		Code:     CodeInvalidConfig,
		Message:  fmt.Sprintf("invalid value %q for %s", value, field),
	}
}
