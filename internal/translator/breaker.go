package translator

import (
	"context"
	"errors"

	"golang.org/x/text/language"

	"github.com/MimeLyc/livesub/internal/resilience"
)

// Guarded wraps a Translator with a breaker. While the backend is suspended
// every token falls back to its recognized form without a network call.
type Guarded struct {
	inner   Translator
	breaker *resilience.Breaker
}

var _ Translator = (*Guarded)(nil)

func NewGuarded(inner Translator, cfg resilience.Config) *Guarded {
	if cfg.Name == "" {
		cfg.Name = "translator"
	}
	if cfg.Trips == nil {
		cfg.Trips = backendDown
	}
	return &Guarded{inner: inner, breaker: resilience.NewBreaker(cfg)}
}

// backendDown is false for errors that say nothing about the backend: the
// session being stopped, or a reply that was merely empty.
func backendDown(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, ErrEmptyTranslation)
}

func (g *Guarded) Translate(ctx context.Context, text string, source, target language.Tag) (string, error) {
	done, err := g.breaker.Allow()
	if err != nil {
		return "", NewError("translation backend suspended", err)
	}
	out, err := g.inner.Translate(ctx, text, source, target)
	if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		err = NewError("translation cancelled", errors.Join(ctx.Err(), err))
	}
	done(err)
	if err != nil {
		if !IsTranslationError(err) {
			err = NewError("translation failed", err)
		}
		return "", err
	}
	return out, nil
}

// State reports the breaker state for status output.
func (g *Guarded) State() resilience.State {
	return g.breaker.State()
}

// Suspended counts tokens that skipped the backend while it was down.
func (g *Guarded) Suspended() uint64 {
	return g.breaker.Rejected()
}
