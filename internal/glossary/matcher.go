package glossary

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// IsPreserved reports whether token on its own equals a glossary entry.
// Only whole-token matches count; "Signals" does not match "Signal".
func (g *Glossary) IsPreserved(token string) bool {
	if g == nil {
		return false
	}
	norm := Normalize(token)
	if norm == "" {
		return false
	}
	_, ok := g.words[norm]
	return ok
}

// MatchAt returns how many tokens starting at tokens[i] form a glossary
// entry, preferring the longest entry. It returns 0 when nothing matches.
func (g *Glossary) MatchAt(tokens []string, i int) int {
	if g == nil || i < 0 || i >= len(tokens) {
		return 0
	}
	first := Normalize(tokens[i])
	if first == "" {
		return 0
	}
	for _, phrase := range g.phrases[first] {
		if i+len(phrase) > len(tokens) {
			continue
		}
		matched := true
		for k := 1; k < len(phrase); k++ {
			if Normalize(tokens[i+k]) != phrase[k] {
				matched = false
				break
			}
		}
		if matched {
			return len(phrase)
		}
	}
	if _, ok := g.words[first]; ok {
		return 1
	}
	return 0
}

// Normalize folds case and strips leading and trailing punctuation so
// "Signal," and "signal" compare equal. Symbols stay part of the word, so
// "C++" and "C#" remain distinct from "C".
func Normalize(token string) string {
	_, core, _ := SplitAffixes(token)
	if core == "" {
		return ""
	}
	return cases.Fold().String(core)
}

// SplitAffixes separates surrounding punctuation from the word in token.
func SplitAffixes(token string) (prefix, core, suffix string) {
	start := strings.IndexFunc(token, isWordRune)
	if start < 0 {
		return token, "", ""
	}
	end := strings.LastIndexFunc(token, isWordRune)
	_, size := utf8.DecodeRuneInString(token[end:])
	return token[:start], token[start : end+size], token[end+size:]
}

// wordPunct is punctuation that belongs to a term rather than to the
// sentence around it.
const wordPunct = "#%&@"

func isWordRune(r rune) bool {
	if unicode.IsSpace(r) {
		return false
	}
	return !unicode.IsPunct(r) || strings.ContainsRune(wordPunct, r)
}

func normalizeTokens(entry string) []string {
	fields := strings.Fields(entry)
	ret := make([]string, 0, len(fields))
	for _, f := range fields {
		if n := Normalize(f); n != "" {
			ret = append(ret, n)
		}
	}
	return ret
}

func joinTokens(tokens []string) string {
	return strings.Join(tokens, " ")
}
