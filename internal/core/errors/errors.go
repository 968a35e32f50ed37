package errors

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeStructuralMismatch ErrorCode = "STRUCTURAL_MISMATCH"
	CodeRefCountMismatch   ErrorCode = "REFCOUNT_MISMATCH"
	CodeIdentityMismatch   ErrorCode = "IDENTITY_MISMATCH"
	CodeLeak               ErrorCode = "LEAK"
	CodeCrossDesync        ErrorCode = "CROSS_DESYNC"
	CodeValidationError    ErrorCode = "VALIDATION_ERROR"
	CodeInternal           ErrorCode = "INTERNAL_ERROR"
)

// Context keys shared across verification failure sites so dumps stay greppable.
const (
	CtxCache = "cache"
	CtxFile  = "file"
	CtxName  = "name"
	CtxMode  = "mode"
	CtxPath  = "path"
	CtxLabel = "label"
)

type DomainError struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]interface{}

	// dump is evaluated only when the error message is rendered, so the
	// verification success path never pays for serializing cache state.
	dump func() string
}

func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithDump attaches a deferred diagnostic thunk rendered on Error().
func (e *DomainError) WithDump(dump func() string) *DomainError {
	e.dump = dump
	return e
}

func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) > 0 {
		msg += fmt.Sprintf(" %v", e.Context)
	}
	if e.dump != nil {
		msg += "\n" + e.dump()
	}
	return msg
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func New(code ErrorCode, msg string) *DomainError {
	return &DomainError{Code: code, Message: msg}
}

func Newf(code ErrorCode, format string, args ...interface{}) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(err error, code ErrorCode, msg string) error {
	return &DomainError{Code: code, Message: msg, Err: err}
}

func AddContext(err error, key string, value interface{}) error {
	var de *DomainError
	if errors.As(err, &de) {
		de.WithContext(key, value)
		return de
	}
	return &DomainError{
		Code:    CodeInternal,
		Message: "wrapped error",
		Err:     err,
		Context: map[string]interface{}{key: value},
	}
}

func IsCode(err error, code ErrorCode) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

func CodeOf(err error) ErrorCode {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
