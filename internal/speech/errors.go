package speech

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorType int

const (
	// ErrNoSpeech means the segment held no intelligible speech.
	ErrNoSpeech ErrorType = iota
	// ErrServiceUnavailable means the engine could not be reached or refused the request.
	ErrServiceUnavailable
)

func (t ErrorType) String() string {
	switch t {
	case ErrNoSpeech:
		return "NoSpeechDetected"
	case ErrServiceUnavailable:
		return "ServiceUnavailable"
	default:
		return "Unknown"
	}
}

// Error is a recoverable recognition failure. Anything a Transcriber returns
// that is not an *Error is treated as fatal by the pipeline.
type Error struct {
	Type    ErrorType
	Detail  string
	Context map[string]any
	Cause   error
}

// NoSpeechDetected reports an empty or unintelligible segment.
func NoSpeechDetected() *Error {
	return &Error{Type: ErrNoSpeech, Context: make(map[string]any)}
}

// Unavailable reports an upstream failure with a human readable detail.
func Unavailable(detail string, cause error) *Error {
	return &Error{Type: ErrServiceUnavailable, Detail: detail, Context: make(map[string]any), Cause: cause}
}

func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Type)}
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
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
	var speechErr *Error
	if errors.As(err, &speechErr) {
		return speechErr.Type == errorType
	}
	return false
}

func IsNoSpeech(err error) bool {
	return IsErrorType(err, ErrNoSpeech)
}

func IsServiceUnavailable(err error) bool {
	return IsErrorType(err, ErrServiceUnavailable)
}

// Detail returns the human readable detail of a ServiceUnavailable error.
func Detail(err error) string {
	var speechErr *Error
	if errors.As(err, &speechErr) {
		if speechErr.Detail != "" {
			return speechErr.Detail
		}
		if speechErr.Cause != nil {
			return speechErr.Cause.Error()
		}
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
