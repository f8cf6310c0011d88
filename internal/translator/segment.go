package translator

import (
	"context"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/language"

	"github.com/MimeLyc/livesub/internal/glossary"
	"github.com/MimeLyc/livesub/internal/observe"
	"github.com/MimeLyc/livesub/pkg/log"
)

// SegmentTranslator translates a recognized line word by word. Glossary
// entries, including multi-word ones, pass through verbatim; every other
// token is sent to the Translator on its own.
type SegmentTranslator struct {
	glossary   *glossary.Glossary
	translator Translator
	metrics    *observe.Metrics
}

type SegmentOption func(*SegmentTranslator)

func WithMetrics(m *observe.Metrics) SegmentOption {
	return func(s *SegmentTranslator) { s.metrics = m }
}

func NewSegmentTranslator(g *glossary.Glossary, tr Translator, opts ...SegmentOption) *SegmentTranslator {
	s := &SegmentTranslator{glossary: g, translator: tr}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TranslateLine always returns a line. A token whose translation fails or
// comes back empty is emitted as recognized. Tokens are re-joined with single
// spaces in their original order.
func (s *SegmentTranslator) TranslateLine(ctx context.Context, line string, source, target language.Tag) string {
	start := time.Now()
	defer func() { s.metrics.RecordTranslation(ctx, time.Since(start)) }()

	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return ""
	}

	out := make([]string, 0, len(tokens))
	seen := make(map[string]string)
	for i := 0; i < len(tokens); {
		if n := s.glossary.MatchAt(tokens, i); n > 0 {
			out = append(out, tokens[i:i+n]...)
			for k := 0; k < n; k++ {
				s.metrics.RecordToken(ctx, observe.TokenPreserved)
			}
			i += n
			continue
		}

		token := tokens[i]
		i++
		if !hasLetterOrDigit(token) {
			// Bare punctuation or symbols, nothing to translate.
			out = append(out, token)
			s.metrics.RecordToken(ctx, observe.TokenPreserved)
			continue
		}
		if cached, ok := seen[token]; ok {
			out = append(out, cached)
			continue
		}
		translated := s.translateToken(ctx, token, source, target)
		seen[token] = translated
		out = append(out, translated)
	}
	return strings.Join(out, " ")
}

func (s *SegmentTranslator) translateToken(ctx context.Context, token string, source, target language.Tag) string {
	if s.translator == nil {
		s.metrics.RecordToken(ctx, observe.TokenFallback)
		return token
	}
	translated, err := s.translator.Translate(ctx, token, source, target)
	if err != nil {
		log.Warn("Failed to translate %q, keeping original: %v", token, err)
		s.metrics.RecordToken(ctx, observe.TokenFallback)
		return token
	}
	words := strings.Fields(translated)
	if len(words) == 0 {
		s.metrics.RecordToken(ctx, observe.TokenFallback)
		return token
	}
	s.metrics.RecordToken(ctx, observe.TokenTranslated)
	// One token in, one token out.
	return strings.Join(words, "-")
}

func hasLetterOrDigit(token string) bool {
	return strings.IndexFunc(token, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) >= 0
}
