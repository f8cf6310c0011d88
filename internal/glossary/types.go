package glossary

import "sort"

// Glossary is the set of terms that must survive translation verbatim.
// Entries may span several words ("Fourier transform"); matching is
// case-insensitive and ignores punctuation around each token.
//
// A Glossary is immutable after construction and safe for concurrent use.
type Glossary struct {
	entries []string
	words   map[string]struct{}
	// phrases holds multi-word entries keyed by their first normalized token,
	// longest first.
	phrases map[string][][]string
}

// New builds a glossary from raw entries. Blank and duplicate entries are dropped.
func New(entries ...string) *Glossary {
	g := &Glossary{
		words:   make(map[string]struct{}),
		phrases: make(map[string][][]string),
	}
	seen := make(map[string]struct{})
	for _, entry := range entries {
		tokens := normalizeTokens(entry)
		if len(tokens) == 0 {
			continue
		}
		key := joinTokens(tokens)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		g.entries = append(g.entries, entry)

		if len(tokens) == 1 {
			g.words[tokens[0]] = struct{}{}
		} else {
			g.phrases[tokens[0]] = append(g.phrases[tokens[0]], tokens)
		}
	}
	for first := range g.phrases {
		list := g.phrases[first]
		sort.SliceStable(list, func(i, j int) bool { return len(list[i]) > len(list[j]) })
	}
	return g
}

// Entries returns the entries in insertion order.
func (g *Glossary) Entries() []string {
	if g == nil {
		return nil
	}
	ret := make([]string, len(g.entries))
	copy(ret, g.entries)
	return ret
}

func (g *Glossary) Len() int {
	if g == nil {
		return 0
	}
	return len(g.entries)
}

// Merge returns a new glossary holding the entries of g followed by extra.
func (g *Glossary) Merge(extra ...string) *Glossary {
	return New(append(g.Entries(), extra...)...)
}
