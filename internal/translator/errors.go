package translator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyTranslation marks a backend that answered with nothing usable.
var ErrEmptyTranslation = errors.New("empty translation")

// Error is the single failure kind of a Translator. It is never fatal.
type Error struct {
	Message string
	Context map[string]any
	Cause   error
}

func NewError(message string, cause error) *Error {
	return &Error{
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("[Translation] %s", e.Message)}
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

func IsTranslationError(err error) bool {
	var trErr *Error
	return errors.As(err, &trErr)
}
