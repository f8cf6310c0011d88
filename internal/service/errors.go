package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MimeLyc/livesub/pkg/log"
)

type ErrorType int

const (
	ErrConfig ErrorType = iota
	ErrAudio
	ErrEngine
	ErrStorage
	ErrExport
	ErrDelivery
	ErrSession
	ErrUnknown
)

func (t ErrorType) String() string {
	switch t {
	case ErrConfig:
		return "Config"
	case ErrAudio:
		return "Audio"
	case ErrEngine:
		return "Engine"
	case ErrStorage:
		return "Storage"
	case ErrExport:
		return "Export"
	case ErrDelivery:
		return "Delivery"
	case ErrSession:
		return "Session"
	default:
		return "Unknown"
	}
}

// Error is the service level failure type. Lower layers keep their own
// error kinds; Error only adds the operation and a hint for the operator.
type Error struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func WrapError(err error, errorType ErrorType, message string) *Error {
	e := NewError(errorType, message)
	e.Cause = err
	return e
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type, e.Message))

	if len(e.Context) > 0 {
		var ctxParts []string
		for k, v := range e.Context {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}
	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

func IsErrorType(err error, errorType ErrorType) bool {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Type == errorType
	}
	return false
}

// Advice returns a hint for the operator.
func Advice(err error) string {
	var svcErr *Error
	if !errors.As(err, &svcErr) {
		return "Please review the detailed error information"
	}
	switch svcErr.Type {
	case ErrConfig:
		return "Please check the environment variables or the .env file"
	case ErrAudio:
		return "Please check that AUDIO_INPUT exists and delivers 16-bit mono PCM, or switch to AUDIO_SOURCE=line"
	case ErrEngine:
		return "Please check the recognition and translation backends: API keys, URLs and that both languages are bound"
	case ErrStorage:
		return "Please check that DB_PATH is writable"
	case ErrExport:
		return "Please check that the directory of EXPORT_PATH exists and is writable"
	case ErrDelivery:
		return "Please check the SMTP settings and the recipient list"
	case ErrSession:
		return "The session is not in a state that allows this operation"
	default:
		return "Please review the detailed error information"
	}
}

// Report logs err together with its advice.
func Report(err error) {
	if err == nil {
		return
	}
	log.Error("Error Detail: %v\n advice: %s", err, Advice(err))
}

// SafeExecute runs fn and converts a panic into an ErrUnknown error.
func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(ErrUnknown, fmt.Sprintf("runtime error: %v", r))
		}
	}()
	return fn()
}
