package translator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/MimeLyc/livesub/internal/resilience"
)

type fakeChat struct {
	reply  string
	err    error
	prompt string
	system string
}

func (f *fakeChat) SimpleChat(_ context.Context, prompt string, systemPrompt string) (string, error) {
	f.prompt = prompt
	f.system = systemPrompt
	return f.reply, f.err
}

func TestLLMTranslator_Translate(t *testing.T) {
	chat := &fakeChat{reply: "\"संकेत\"\nexplanation"}
	tr := NewLLMTranslator(chat)

	got, err := tr.Translate(context.Background(), "signal", language.English, language.Hindi)

	require.NoError(t, err)
	assert.Equal(t, "संकेत", got)
	assert.Equal(t, "signal", chat.prompt)
	assert.Contains(t, chat.system, "from English to Hindi")
}

func TestLLMTranslator_Errors(t *testing.T) {
	t.Run("chat failure", func(t *testing.T) {
		tr := NewLLMTranslator(&fakeChat{err: errors.New("502")})
		_, err := tr.Translate(context.Background(), "signal", language.English, language.Hindi)
		assert.True(t, IsTranslationError(err))
	})

	t.Run("blank reply", func(t *testing.T) {
		tr := NewLLMTranslator(&fakeChat{reply: "  \n "})
		_, err := tr.Translate(context.Background(), "signal", language.English, language.Hindi)
		assert.True(t, IsTranslationError(err))
		assert.Contains(t, err.Error(), "empty translation")
	})
}

func TestPassthrough(t *testing.T) {
	got, err := Passthrough{}.Translate(context.Background(), "word", language.English, language.French)
	require.NoError(t, err)
	assert.Equal(t, "word", got)
}

func TestGuarded_OpensAfterFailures(t *testing.T) {
	calls := 0
	inner := Func(func(context.Context, string, language.Tag, language.Tag) (string, error) {
		calls++
		return "", errors.New("down")
	})
	g := NewGuarded(inner, resilience.Config{MaxFailures: 2, Cooldown: time.Hour})

	for i := 0; i < 2; i++ {
		_, err := g.Translate(context.Background(), "x", language.English, language.Hindi)
		assert.True(t, IsTranslationError(err))
	}
	assert.Equal(t, resilience.StateOpen, g.State())

	_, err := g.Translate(context.Background(), "x", language.English, language.Hindi)
	assert.ErrorIs(t, err, resilience.ErrSuspended)
	assert.True(t, IsTranslationError(err))
	assert.Equal(t, 2, calls)
	assert.Equal(t, uint64(1), g.Suspended())
}

func TestGuarded_IgnoresStopsAndEmptyReplies(t *testing.T) {
	inner := Func(func(ctx context.Context, text string, _, _ language.Tag) (string, error) {
		if text == "blank" {
			return "", NewError("empty translation", ErrEmptyTranslation)
		}
		<-ctx.Done()
		return "", errors.New("request aborted")
	})
	g := NewGuarded(inner, resilience.Config{MaxFailures: 1, Cooldown: time.Hour})

	_, err := g.Translate(context.Background(), "blank", language.English, language.Hindi)
	assert.ErrorIs(t, err, ErrEmptyTranslation)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Translate(ctx, "word", language.English, language.Hindi)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, IsTranslationError(err))

	assert.Equal(t, resilience.StateClosed, g.State())
}

func TestGuarded_PassesThroughSuccess(t *testing.T) {
	g := NewGuarded(Passthrough{}, resilience.Config{})
	got, err := g.Translate(context.Background(), "ok", language.English, language.Hindi)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, resilience.StateClosed, g.State())
}

func TestError_Format(t *testing.T) {
	err := NewError("chat completion failed", errors.New("boom")).WithContext("text", "signal")
	assert.Equal(t, "[Translation] chat completion failed | context: text=signal | cause: boom", err.Error())
	assert.ErrorContains(t, errors.Unwrap(err), "boom")
}
