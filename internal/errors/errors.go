package errors

import (
	stderrors "errors"
	"fmt"

	"neurodiff/domain/core"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Cause:   appErr,
		}
	}
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode adds an error code to an existing error
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    code,
			Message: appErr.Message,
			Cause:   appErr.Cause,
		}
	}
	return &AppError{
		Code:    code,
		Message: err.Error(),
		Cause:   err,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetCode returns the code of the outermost AppError in the chain, or
// classifies domain errors when there is none.
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return Classify(err)
}

// Predefined error codes
const (
	CodeConfigInvalid   = "CONFIG_INVALID"
	CodeDatabaseError   = "DATABASE_ERROR"
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeInternalError   = "INTERNAL_ERROR"
	CodeExternalService = "EXTERNAL_SERVICE_ERROR"
	CodeInvalidInput    = "INVALID_INPUT"
	CodeModelFit        = "MODEL_FIT_ERROR"
	CodeCancelled       = "CANCELLED"
	CodeUnknown         = "UNKNOWN"
)

// Classify maps domain sentinel errors onto error codes.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case core.IsValidationError(err):
		return CodeValidationError
	case core.IsModelFitError(err):
		return CodeModelFit
	case core.IsNotFoundError(err):
		return CodeNotFound
	case stderrors.Is(err, core.ErrServiceUnavailable), stderrors.Is(err, core.ErrMalformedResponse):
		return CodeExternalService
	case stderrors.Is(err, core.ErrInsufficientData):
		return CodeInvalidInput
	}
	return CodeUnknown
}

// StageError attaches the failing pipeline stage to a fatal error.
type StageError struct {
	Stage core.Stage
	Code  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed (%s): %v", e.Stage, e.Code, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ForStage wraps err with its stage. An error already carrying a stage is
// returned unchanged so the innermost stage wins.
func ForStage(stage core.Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if stderrors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Code: GetCode(err), Err: err}
}

// StageOf returns the stage recorded on err, if any.
func StageOf(err error) (core.Stage, bool) {
	var se *StageError
	if stderrors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// Common error constructors
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func DatabaseError(message string) *AppError {
	return New(CodeDatabaseError, message)
}

func ValidationError(message string) *AppError {
	return New(CodeValidationError, message)
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func ExternalServiceError(service string, cause error) *AppError {
	return &AppError{
		Code:    CodeExternalService,
		Message: fmt.Sprintf("%s service error", service),
		Cause:   cause,
	}
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

func ModelFit(message string, cause error) *AppError {
	return &AppError{Code: CodeModelFit, Message: message, Cause: cause}
}
