package common

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
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

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
)

// Pipeline errors. Per-file errors are recorded against the file's row;
// request-level errors are returned to the caller.
var (
	ErrUnsupportedFormat   = errors.New("unsupported format")
	ErrCorruptArchive      = errors.New("corrupt archive")
	ErrCorruptDocument     = errors.New("corrupt document")
	ErrEmptyBatch          = errors.New("empty batch")
	ErrNoTextDetected      = errors.New("no text detected")
	ErrTransientExtraction = errors.New("transient extraction error")
	ErrNotReady            = errors.New("result not ready")
	ErrEmptyResultSet      = errors.New("empty result set")
	ErrAggregation         = errors.New("aggregation failure")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Transient marks err as a retryable capability failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransientExtraction) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransientExtraction, err)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientExtraction)
}

// IsPerFile reports whether err belongs to a single source file and must
// not escalate to the task.
func IsPerFile(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrCorruptArchive) ||
		errors.Is(err, ErrCorruptDocument) ||
		errors.Is(err, ErrEmptyBatch) ||
		errors.Is(err, ErrNoTextDetected) ||
		errors.Is(err, ErrTransientExtraction)
}

// gRPC error helpers
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func NotFoundError(message string) error {
	return status.Error(codes.NotFound, message)
}

func InternalError(message string) error {
	return status.Error(codes.Internal, message)
}

func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}

// ToGRPCError maps the pipeline taxonomy onto gRPC status codes.
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return NotFoundError(err.Error())
	case errors.Is(err, ErrNotReady):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrUnsupportedFormat),
		errors.Is(err, ErrEmptyBatch),
		errors.Is(err, ErrInvalidInput):
		return InvalidArgumentError(err.Error())
	case errors.Is(err, ErrUnauthorized):
		return status.Error(codes.Unauthenticated, err.Error())
	default:
		return InternalError(err.Error())
	}
}
