// Package translator turns recognized lines into the target language one
// token at a time, keeping glossary terms verbatim.
package translator

import (
	"context"

	"golang.org/x/text/language"
)

// Translator translates a short text between two languages. Implementations
// report every failure as *Error; callers fall back to the source text.
type Translator interface {
	Translate(ctx context.Context, text string, source, target language.Tag) (string, error)
}

// Func adapts a plain function to Translator.
type Func func(ctx context.Context, text string, source, target language.Tag) (string, error)

func (f Func) Translate(ctx context.Context, text string, source, target language.Tag) (string, error) {
	return f(ctx, text, source, target)
}
