package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode categorises failures at the lifecycle boundary.
type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodePersistence      ErrorCode = "PERSISTENCE"
	ErrCodeNotification     ErrorCode = "NOTIFICATION"
	ErrCodeLauncher         ErrorCode = "LAUNCHER"
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeInvalidState     ErrorCode = "INVALID_STATE"
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// AppError is a structured error carrying a code and log context.
type AppError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Cause: err}
}

// GetCode returns the code of the first AppError in err's chain.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

func HasCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// IsWarning reports whether err is non-fatal: the operation's effect stands.
func IsWarning(err error) bool {
	return HasCode(err, ErrCodeNotification) || HasCode(err, ErrCodeLauncher)
}

func NewValidationError(field, message string) *AppError {
	return New(ErrCodeValidationFailed, fmt.Sprintf("invalid %s: %s", field, message)).
		WithContext("field", field)
}

func NewPersistenceError(operation string, err error) *AppError {
	return Wrap(err, ErrCodePersistence, fmt.Sprintf("persistence %s failed", operation)).
		WithContext("operation", operation)
}

func NewNotificationError(itemID string, err error) *AppError {
	return Wrap(err, ErrCodeNotification, "due-time trigger registration failed").
		WithContext("item_id", itemID)
}

func NewLauncherError(itemID string, err error) *AppError {
	return Wrap(err, ErrCodeLauncher, "launcher failed").
		WithContext("item_id", itemID)
}

func NewNotFoundError(resource, id string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", id)
}

func NewInvalidStateError(id string, status string) *AppError {
	return New(ErrCodeInvalidState, fmt.Sprintf("operation not allowed in status %s", status)).
		WithContext("item_id", id).
		WithContext("status", status)
}

func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).WithContext("config_key", key)
}

// Join combines several warnings into one; nil entries are skipped.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}
