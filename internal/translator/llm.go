package translator

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Chatter is the subset of llm.Client used for translation.
type Chatter interface {
	SimpleChat(ctx context.Context, prompt string, systemPrompt string) (string, error)
}

// LLMTranslator asks an OpenAI-compatible chat model for the translation of
// one token or phrase.
type LLMTranslator struct {
	chat Chatter
}

var _ Translator = (*LLMTranslator)(nil)

func NewLLMTranslator(chat Chatter) *LLMTranslator {
	return &LLMTranslator{chat: chat}
}

func (t *LLMTranslator) Translate(ctx context.Context, text string, source, target language.Tag) (string, error) {
	reply, err := t.chat.SimpleChat(ctx, text, systemPrompt(source, target))
	if err != nil {
		if ctx.Err() != nil {
			return "", NewError("translation cancelled", ctx.Err())
		}
		return "", NewError("chat completion failed", err).WithContext("text", text)
	}
	out := cleanReply(reply)
	if out == "" {
		return "", NewError("empty translation", ErrEmptyTranslation).WithContext("text", text)
	}
	return out, nil
}

func systemPrompt(source, target language.Tag) string {
	return fmt.Sprintf(`You translate single words from %s to %s for live subtitles.
Reply with the translation only: no quotes, no explanation, no transliteration.
If the word is a name, a number or has no translation, reply with it unchanged.`,
		languageName(source), languageName(target))
}

func languageName(tag language.Tag) string {
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return tag.String()
}

// cleanReply keeps the first non-empty line and strips wrapping quotes.
func cleanReply(reply string) string {
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		line = strings.Trim(line, "\"'`“”")
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}
