package session

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestDefaultBindings_Lookup(t *testing.T) {
	b := DefaultBindings()

	tests := []struct {
		in   string
		want string
	}{
		{"English", "en"},
		{"hindi", "hi"},
		{"te", "te"},
		{"es-MX", "es"},
		{" Gujarati ", "gu"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := b.Lookup(tt.in)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.Code)
		})
	}

	_, ok := b.Lookup("klingon")
	assert.False(t, ok)
	_, ok = b.Lookup("")
	assert.False(t, ok)
}

func TestBinding_RecognizerFields(t *testing.T) {
	en, ok := DefaultBindings().Lookup("English")
	require.True(t, ok)
	assert.Equal(t, "en-IN", en.Locale)
	assert.Equal(t, "en", en.RecognizerLanguage())
	assert.Equal(t, language.English, en.Tag())
}

func TestResolve(t *testing.T) {
	b := DefaultBindings()

	p, err := b.Resolve("english", "hindi")
	require.NoError(t, err)
	assert.Equal(t, LanguagePair{Source: language.English, Target: language.Hindi}, p)

	_, err = b.Resolve("english", "klingon")
	assert.ErrorIs(t, err, ErrUnknownLanguage)

	_, err = b.Resolve("en", "English")
	assert.ErrorIs(t, err, ErrSameLanguage)

	assert.NoError(t, b.Validate(p))
	assert.ErrorIs(t, b.Validate(LanguagePair{Source: language.German, Target: language.Hindi}), ErrUnknownLanguage)
}

func TestLoadBindings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "languages.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`languages:
  - name: English
    code: en
    locale: en-GB
  - name: German
    code: de
`), 0o644))

	b, err := LoadBindings(path)
	require.NoError(t, err)
	require.Len(t, b.All(), 2)

	de, ok := b.Lookup("German")
	require.True(t, ok)
	assert.Equal(t, "de", de.Locale, "locale defaults to the code")
}

func TestLoadBindings_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	tests := []struct {
		name string
		path string
	}{
		{"unknown field", write("a.yaml", "languages:\n  - name: X\n    code: en\n    colour: red\n")},
		{"bad code", write("b.yaml", "languages:\n  - name: X\n    code: \"not a tag!\"\n")},
		{"duplicate", write("c.yaml", "languages:\n  - {name: A, code: en}\n  - {name: B, code: en}\n")},
		{"empty", write("d.yaml", "languages: []\n")},
		{"missing", filepath.Join(dir, "nope.yaml")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBindings(tt.path)
			assert.Error(t, err)
		})
	}
}

func TestState_AppendKeepsOrder(t *testing.T) {
	pair := LanguagePair{Source: language.English, Target: language.Hindi}
	s := NewState("", pair)
	require.NotEmpty(t, s.ID())

	for _, text := range []string{"one", "two", "three"} {
		s.Append(Line{Recognized: text, Translated: text, Pair: pair, Timestamp: time.Now()})
	}

	lines := s.Lines()
	require.Len(t, lines, 3)
	assert.Equal(t, "one", lines[0].Recognized)
	assert.Equal(t, "three", lines[2].Recognized)

	lines[0].Recognized = "mutated"
	assert.Equal(t, "one", s.Lines()[0].Recognized, "Lines returns a copy")
}

func TestState_Restore(t *testing.T) {
	s := NewState("abc", LanguagePair{})
	s.Append(Line{Recognized: "new"})

	earlier := time.Now().Add(-time.Hour)
	s.Restore([]Line{{Recognized: "old", Timestamp: earlier}})

	snap := s.Snapshot()
	assert.Equal(t, "abc", snap.ID)
	require.Len(t, snap.Lines, 2)
	assert.Equal(t, "old", snap.Lines[0].Recognized)
	assert.Equal(t, "new", snap.Lines[1].Recognized)
	assert.Equal(t, earlier, snap.StartedAt)
}

func TestState_ConcurrentReaders(t *testing.T) {
	s := NewState("x", LanguagePair{Source: language.English, Target: language.Hindi})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Snapshot()
			}
		}()
	}
	for i := 0; i < 100; i++ {
		s.Append(Line{Recognized: "x"})
	}
	s.SetPair(LanguagePair{Source: language.English, Target: language.French})
	s.SetRunning(true)
	wg.Wait()

	assert.Equal(t, 100, s.Len())
	assert.True(t, s.Running())
	assert.Equal(t, language.French, s.Pair().Target)
}
