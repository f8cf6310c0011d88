package glossary

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultCorrectionThreshold = 0.88
	minCorrectionLength        = 4
)

// Corrector snaps recognized words that sound like a glossary entry onto the
// entry's spelling, so "laplase" becomes "Laplace" before translation.
// A word is replaced only when its Double Metaphone codes overlap the
// entry's and the Jaro-Winkler similarity clears the threshold.
type Corrector struct {
	threshold float64
	targets   []correctionTarget
}

type correctionTarget struct {
	canonical []string // original spelling, one element per token
	folded    []string
	codes     map[string]struct{}
}

type CorrectorOption func(*Corrector)

// WithThreshold sets the minimum Jaro-Winkler similarity for a replacement.
func WithThreshold(t float64) CorrectorOption {
	return func(c *Corrector) {
		if t > 0 && t <= 1 {
			c.threshold = t
		}
	}
}

func NewCorrector(g *Glossary, opts ...CorrectorOption) *Corrector {
	c := &Corrector{threshold: defaultCorrectionThreshold}
	for _, opt := range opts {
		opt(c)
	}
	for _, entry := range g.Entries() {
		canonical := strings.Fields(entry)
		folded := normalizeTokens(entry)
		if len(folded) == 0 || len(folded) != len(canonical) {
			continue
		}
		c.targets = append(c.targets, correctionTarget{
			canonical: canonical,
			folded:    folded,
			codes:     metaphoneCodes(folded),
		})
	}
	return c
}

// Correct returns text with near-miss glossary words replaced. Token count
// and surrounding punctuation are kept.
func (c *Corrector) Correct(text string) string {
	tokens := strings.Fields(text)
	if c == nil || len(c.targets) == 0 || len(tokens) == 0 {
		return text
	}

	changed := false
	for i := 0; i < len(tokens); {
		target, ok := c.bestAt(tokens, i)
		if !ok {
			i++
			continue
		}
		for k, word := range target.canonical {
			prefix, _, suffix := SplitAffixes(tokens[i+k])
			tokens[i+k] = prefix + word + suffix
		}
		changed = true
		i += len(target.canonical)
	}
	if !changed {
		return text
	}
	return strings.Join(tokens, " ")
}

func (c *Corrector) bestAt(tokens []string, i int) (correctionTarget, bool) {
	var (
		best      correctionTarget
		bestScore float64
		found     bool
	)
	for _, target := range c.targets {
		n := len(target.folded)
		if i+n > len(tokens) {
			continue
		}
		window := make([]string, 0, n)
		for _, tok := range tokens[i : i+n] {
			window = append(window, Normalize(tok))
		}
		input := strings.Join(window, " ")
		entity := strings.Join(target.folded, " ")
		if input == entity {
			// Already spelled right; leave the original casing alone.
			return correctionTarget{}, false
		}
		if len([]rune(strings.ReplaceAll(input, " ", ""))) < minCorrectionLength {
			continue
		}
		if !codesOverlap(metaphoneCodes(window), target.codes) {
			continue
		}
		score := matchr.JaroWinkler(input, entity, false)
		if score >= c.threshold && score > bestScore {
			best, bestScore, found = target, score, true
		}
	}
	return best, found
}

func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
