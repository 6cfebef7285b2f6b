package errors

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
)

// Stable error codes reported to callers of the engine.
const (
	CodeNotFound = "NOT_FOUND"
	CodeBadParam = "BAD_PARAM"
	CodeInternal = "INTERNAL"
	CodeTimeout  = "TIMEOUT"
)

type AppError struct {
	Err     error
	Message string
	Code    string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, message string) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: message,
		Code:    codeFor(sentinel),
	}
}

func Newf(sentinel error, format string, args ...any) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
		Code:    codeFor(sentinel),
	}
}

// Code returns the stable code for err, falling back to INTERNAL for
// anything that is not a known domain error.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr.Code
	}
	return codeFor(err)
}

// ExitCode maps err to a process exit status for command-line tools.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch Code(err) {
	case CodeBadParam:
		return 2
	case CodeNotFound:
		return 3
	case CodeTimeout:
		return 4
	default:
		return 1
	}
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidInput):
		return CodeBadParam
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	default:
		return CodeInternal
	}
}
