package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a skim error code.
type ErrorCode string

const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"     // 400
	ErrNotFound           ErrorCode = "NOT_FOUND"           // 404
	ErrCredentialMissing  ErrorCode = "CREDENTIAL_MISSING"  // 412
	ErrStore              ErrorCode = "STORE_ERROR"         // 500
	ErrInternal           ErrorCode = "INTERNAL"            // 500
	ErrExternalAPI        ErrorCode = "EXTERNAL_API_ERROR"  // 502
	ErrChannelUnreachable ErrorCode = "CHANNEL_UNREACHABLE" // 503
	ErrTimeout            ErrorCode = "TIMEOUT"             // 504
)

// DefaultExternalAPIMessage is used when the upstream response carries no message.
const DefaultExternalAPIMessage = "Failed to get summary from the summarization API"

// SkimError represents a structured error with code, status, and details.
type SkimError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *SkimError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *SkimError) Unwrap() error {
	return e.Err
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *SkimError {
	return &SkimError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when a summary cannot be found.
func NewNotFound(id string) *SkimError {
	return &SkimError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("summary not found: %s", id),
		Details: map[string]any{"id": id},
	}
}

// NewCredentialMissing creates a 412 error for when no API key is configured.
func NewCredentialMissing() *SkimError {
	return &SkimError{
		Code:    ErrCredentialMissing,
		Status:  412,
		Message: "API key not found. Please set it in the control surface.",
	}
}

// NewExternalAPI creates a 502 error for a failed summarization call.
// An empty upstream message falls back to DefaultExternalAPIMessage.
func NewExternalAPI(upstreamStatus int, msg string) *SkimError {
	if msg == "" {
		msg = DefaultExternalAPIMessage
	}
	e := &SkimError{
		Code:    ErrExternalAPI,
		Status:  502,
		Message: msg,
	}
	if upstreamStatus > 0 {
		e.Details = map[string]any{"upstream_status": upstreamStatus}
	}
	return e
}

// NewTimeout creates a 504 error when an operation exceeds its deadline.
func NewTimeout(operation string, err error) *SkimError {
	return &SkimError{
		Code:    ErrTimeout,
		Status:  504,
		Message: fmt.Sprintf("%s timed out", operation),
		Details: map[string]any{"operation": operation},
		Err:     err,
	}
}

// NewChannelUnreachable creates a 503 error when the coordinator cannot be reached.
func NewChannelUnreachable(err error) *SkimError {
	msg := "coordinator unreachable"
	if err != nil {
		msg = fmt.Sprintf("coordinator unreachable: %v", err)
	}
	return &SkimError{
		Code:    ErrChannelUnreachable,
		Status:  503,
		Message: msg,
		Err:     err,
	}
}

// NewStore creates a 500 error for a failed persistence read or write.
func NewStore(op string, err error) *SkimError {
	msg := op + " failed"
	if err != nil {
		msg = fmt.Sprintf("%s failed: %v", op, err)
	}
	return &SkimError{
		Code:    ErrStore,
		Status:  500,
		Message: msg,
		Details: map[string]any{"operation": op},
		Err:     err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message stays generic; the cause is kept in Details for logging.
func NewInternal(err error) *SkimError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &SkimError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
		Err:     err,
	}
}

// FromCode rebuilds a SkimError from a code and message received over the wire.
// Unknown codes map to INTERNAL.
func FromCode(code ErrorCode, msg string) *SkimError {
	status, ok := statusByCode[code]
	if !ok {
		code, status = ErrInternal, 500
	}
	return &SkimError{Code: code, Status: status, Message: msg}
}

var statusByCode = map[ErrorCode]int{
	ErrInvalidRequest:     400,
	ErrNotFound:           404,
	ErrCredentialMissing:  412,
	ErrStore:              500,
	ErrInternal:           500,
	ErrExternalAPI:        502,
	ErrChannelUnreachable: 503,
	ErrTimeout:            504,
}

// Is checks if an error is (or wraps) a SkimError with the given code.
func Is(err error, code ErrorCode) bool {
	var sErr *SkimError
	if stderrors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}

// As returns err as a SkimError, wrapping unknown errors as INTERNAL.
func As(err error) *SkimError {
	if err == nil {
		return nil
	}
	var sErr *SkimError
	if stderrors.As(err, &sErr) {
		return sErr
	}
	return NewInternal(err)
}
