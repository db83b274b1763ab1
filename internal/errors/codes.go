package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies migration failures
type ErrorCode int

const (
	ErrCodeOK ErrorCode = 0

	// Caller errors
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeNotFound        ErrorCode = 1001
	ErrCodeConflict        ErrorCode = 1002

	// Directory and protocol errors
	ErrCodeInternal           ErrorCode = 2000
	ErrCodeTransientDirectory ErrorCode = 2001
	ErrCodePartialTransfer    ErrorCode = 2002
	ErrCodeFatalCreation      ErrorCode = 2003
	ErrCodeConfiguration      ErrorCode = 2004
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                 "OK",
	ErrCodeInvalidArgument:    "INVALID_ARGUMENT",
	ErrCodeNotFound:           "NOT_FOUND",
	ErrCodeConflict:           "CONFLICT",
	ErrCodeInternal:           "INTERNAL",
	ErrCodeTransientDirectory: "TRANSIENT_DIRECTORY",
	ErrCodePartialTransfer:    "PARTIAL_TRANSFER",
	ErrCodeFatalCreation:      "FATAL_CREATION",
	ErrCodeConfiguration:      "CONFIGURATION",
}

// String returns the wire name of the code
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// MigrationError is a structured error carrying a code and the affected user
type MigrationError struct {
	Code    ErrorCode
	Message string
	UserID  string
	Cause   error
}

// Error implements the error interface
func (e *MigrationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *MigrationError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the code to an HTTP status
func (e *MigrationError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeOK:
		return http.StatusOK
	case ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeTransientDirectory:
		return http.StatusServiceUnavailable
	case ErrCodeConfiguration:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may retry the operation as is
func (e *MigrationError) Retryable() bool {
	return e.Code == ErrCodeTransientDirectory
}

// NewMigrationError creates a new MigrationError
func NewMigrationError(code ErrorCode, userID, message string, cause error) *MigrationError {
	return &MigrationError{
		Code:    code,
		Message: message,
		UserID:  userID,
		Cause:   cause,
	}
}

func InvalidArgument(message string) *MigrationError {
	return NewMigrationError(ErrCodeInvalidArgument, "", message, nil)
}

func NotFound(userID string) *MigrationError {
	return NewMigrationError(ErrCodeNotFound, userID, "not found", nil)
}

func Conflict(userID, message string) *MigrationError {
	return NewMigrationError(ErrCodeConflict, userID, message, nil)
}

func TransientDirectory(userID string, cause error) *MigrationError {
	return NewMigrationError(ErrCodeTransientDirectory, userID, "directory unavailable", cause)
}

func PartialTransfer(userID, message string, cause error) *MigrationError {
	return NewMigrationError(ErrCodePartialTransfer, userID, message, cause)
}

func FatalCreation(userID, message string, cause error) *MigrationError {
	return NewMigrationError(ErrCodeFatalCreation, userID, message, cause)
}

func Configuration(message string) *MigrationError {
	return NewMigrationError(ErrCodeConfiguration, "", message, nil)
}

func Internal(message string, cause error) *MigrationError {
	return NewMigrationError(ErrCodeInternal, "", message, cause)
}

// AsMigrationError finds a MigrationError in err's chain
func AsMigrationError(err error) (*MigrationError, bool) {
	var me *MigrationError
	if stderrors.As(err, &me) {
		return me, true
	}
	return nil, false
}

// CodeOf extracts the error code from an error
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	if me, ok := AsMigrationError(err); ok {
		return me.Code
	}
	return ErrCodeInternal
}

// IsNotFound reports whether err carries ErrCodeNotFound
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}
