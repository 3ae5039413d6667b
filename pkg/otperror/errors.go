package otperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code represents a unique OTP error code
type Code string

const (
	CodeInvalidGateway      Code = "OTP_INVALID_GATEWAY"
	CodeBlocked             Code = "OTP_BLOCKED"
	CodeInvalidUser         Code = "OTP_INVALID_USER"
	CodePersistFailure      Code = "OTP_CODE_PERSIST_FAILURE"
	CodeExpiredCode         Code = "OTP_EXPIRED_CODE"
	CodeInvalidCode         Code = "OTP_INVALID_CODE"
	CodeNotFound            Code = "OTP_CODE_NOT_FOUND"
	CodeInvalidIdentifier   Code = "OTP_INVALID_IDENTIFIER"
	CodeDuplicateIdentifier Code = "OTP_DUPLICATE_IDENTIFIER"
	CodeMissingCode         Code = "OTP_MISSING_CODE"
	CodeMissingIdentifier   Code = "OTP_MISSING_IDENTIFIER"
	CodeThrottled           Code = "OTP_THROTTLE"
	CodeInternal            Code = "OTP_INTERNAL_ERROR"
)

// publicDetailKeys is the subset of detail keys exposed to API callers.
// Everything else is for the audit sink only.
var publicDetailKeys = map[string]bool{
	"identifier":   true,
	"expiry":       true,
	"verify_count": true,
	"method":       true,
	"input_code":   true,
	"block_expiry": true,
}

// Error is a structured, user-recoverable OTP error with code, message,
// and audit context details
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithDetails adds multiple details to the error
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *Error) HTTPStatusCode() int {
	switch e.Code {
	case CodeInvalidIdentifier, CodeMissingCode, CodeMissingIdentifier:
		return http.StatusBadRequest
	case CodeExpiredCode, CodeInvalidCode, CodeNotFound:
		return http.StatusUnauthorized
	case CodeInvalidUser:
		return http.StatusNotFound
	case CodeDuplicateIdentifier:
		return http.StatusConflict
	case CodeBlocked, CodeThrottled:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new Error with the given code and message
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with formatted message
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with code and message
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
// Returns CodeInternal if the error is not a structured Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// GetDetails extracts the full details from an error for audit logging.
// Returns nil if the error is not a structured Error.
func GetDetails(err error) map[string]interface{} {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// PublicDetails extracts only the details safe to return to the caller:
// identifier, expiry, verify_count, method, input_code, block_expiry.
func PublicDetails(err error) map[string]interface{} {
	details := GetDetails(err)
	if details == nil {
		return map[string]interface{}{}
	}

	public := make(map[string]interface{})
	for k, v := range details {
		if publicDetailKeys[k] {
			public[k] = v
		}
	}
	return public
}

// Common error constructors

// Blocked creates a lockout error carrying the unix time the block expires
func Blocked(method string, blockExpiry int64) *Error {
	return New(CodeBlocked, "too many failed attempts or too many code requests").
		WithDetail("method", method).
		WithDetail("block_expiry", blockExpiry)
}

// Throttled creates a cooldown error for requests submitted too quickly
func Throttled(method string) *Error {
	return New(CodeThrottled, "please wait a moment before requesting a new code").
		WithDetail("method", method)
}

// InvalidUser creates a user resolution error
func InvalidUser(method string) *Error {
	return New(CodeInvalidUser, "user not found").
		WithDetail("method", method)
}
