package session

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// LanguagePair is the source and target language of a session.
type LanguagePair struct {
	Source language.Tag `json:"source"`
	Target language.Tag `json:"target"`
}

func (p LanguagePair) String() string {
	return p.Source.String() + "→" + p.Target.String()
}

// Binding ties a display name to the recognizer locale and engine model hints
// used for that language.
type Binding struct {
	Name string `yaml:"name" json:"name"`
	// Code is a BCP 47 tag, e.g. "hi".
	Code string `yaml:"code" json:"code"`
	// Locale is passed to the recognizer, e.g. "en-IN".
	Locale string `yaml:"locale,omitempty" json:"locale,omitempty"`
	// SourceModel and TargetModel name the engine models used when this
	// language is the source or the target.
	SourceModel string `yaml:"source_model,omitempty" json:"source_model,omitempty"`
	TargetModel string `yaml:"target_model,omitempty" json:"target_model,omitempty"`

	tag language.Tag
}

func (b Binding) Tag() language.Tag {
	return b.tag
}

// RecognizerLanguage is the ISO 639-1 code sent to the transcription engine.
func (b Binding) RecognizerLanguage() string {
	base, _ := b.tag.Base()
	return base.String()
}

// Bindings is the set of languages a session may use.
type Bindings struct {
	list []Binding
}

var (
	ErrUnknownLanguage = errors.New("unknown language")
	ErrSameLanguage    = errors.New("source and target language are the same")
)

// DefaultBindings lists the languages supported out of the box.
func DefaultBindings() *Bindings {
	b, err := NewBindings([]Binding{
		{Name: "English", Code: "en", Locale: "en-IN", SourceModel: "Helsinki-NLP/opus-mt-en-fr", TargetModel: "Helsinki-NLP/opus-mt-en-te"},
		{Name: "Gujarati", Code: "gu", Locale: "gu-IN", SourceModel: "Helsinki-NLP/opus-mt-gu-en", TargetModel: "Helsinki-NLP/opus-mt-en-gu"},
		{Name: "Hindi", Code: "hi", Locale: "hi-IN", SourceModel: "Helsinki-NLP/opus-mt-hi-en", TargetModel: "Helsinki-NLP/opus-mt-en-hi"},
		{Name: "Telugu", Code: "te", Locale: "te-IN", SourceModel: "Helsinki-NLP/opus-mt-te-en", TargetModel: "Helsinki-NLP/opus-mt-en-te"},
		{Name: "French", Code: "fr", Locale: "fr-FR", SourceModel: "Helsinki-NLP/opus-mt-fr-en", TargetModel: "Helsinki-NLP/opus-mt-en-fr"},
		{Name: "Spanish", Code: "es", Locale: "es-ES", SourceModel: "Helsinki-NLP/opus-mt-es-en", TargetModel: "Helsinki-NLP/opus-mt-en-es"},
	})
	if err != nil {
		panic("session: invalid default bindings: " + err.Error())
	}
	return b
}

// NewBindings validates every binding code.
func NewBindings(list []Binding) (*Bindings, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("no language bindings")
	}
	seen := make(map[language.Tag]string, len(list))
	ret := &Bindings{list: make([]Binding, 0, len(list))}
	for _, b := range list {
		if strings.TrimSpace(b.Name) == "" {
			return nil, fmt.Errorf("binding %q: name is required", b.Code)
		}
		tag, err := language.Parse(b.Code)
		if err != nil {
			return nil, fmt.Errorf("binding %s: invalid code %q: %w", b.Name, b.Code, err)
		}
		if other, dup := seen[tag]; dup {
			return nil, fmt.Errorf("binding %s: code %s already used by %s", b.Name, tag, other)
		}
		seen[tag] = b.Name
		b.tag = tag
		if b.Locale == "" {
			b.Locale = tag.String()
		}
		ret.list = append(ret.list, b)
	}
	return ret, nil
}

type bindingsFile struct {
	Languages []Binding `yaml:"languages"`
}

// LoadBindings reads a YAML file of the form
//
//	languages:
//	  - name: Hindi
//	    code: hi
//	    locale: hi-IN
func LoadBindings(path string) (*Bindings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read languages file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f bindingsFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse languages file %s: %w", path, err)
	}
	return NewBindings(f.Languages)
}

// All returns the bindings in declaration order.
func (b *Bindings) All() []Binding {
	ret := make([]Binding, len(b.list))
	copy(ret, b.list)
	return ret
}

// Lookup finds a binding by display name (case-insensitive) or language code.
func (b *Bindings) Lookup(nameOrCode string) (Binding, bool) {
	key := strings.TrimSpace(nameOrCode)
	if key == "" {
		return Binding{}, false
	}
	for _, binding := range b.list {
		if strings.EqualFold(binding.Name, key) {
			return binding, true
		}
	}
	tag, err := language.Parse(key)
	if err != nil {
		return Binding{}, false
	}
	for _, binding := range b.list {
		if binding.tag == tag {
			return binding, true
		}
	}
	// "en-US" resolves to the "en" binding when there is no exact match.
	base, _ := tag.Base()
	for _, binding := range b.list {
		if bb, _ := binding.tag.Base(); bb == base {
			return binding, true
		}
	}
	return Binding{}, false
}

// ForTag returns the binding whose tag equals t.
func (b *Bindings) ForTag(t language.Tag) (Binding, bool) {
	for _, binding := range b.list {
		if binding.tag == t {
			return binding, true
		}
	}
	return Binding{}, false
}

// Resolve builds a LanguagePair from two names or codes. Both must be bound
// and they must differ.
func (b *Bindings) Resolve(source, target string) (LanguagePair, error) {
	src, ok := b.Lookup(source)
	if !ok {
		return LanguagePair{}, fmt.Errorf("%w: source %q", ErrUnknownLanguage, source)
	}
	tgt, ok := b.Lookup(target)
	if !ok {
		return LanguagePair{}, fmt.Errorf("%w: target %q", ErrUnknownLanguage, target)
	}
	if src.tag == tgt.tag {
		return LanguagePair{}, fmt.Errorf("%w: %s", ErrSameLanguage, src.Name)
	}
	return LanguagePair{Source: src.tag, Target: tgt.tag}, nil
}

// Validate checks that both languages of p are bound.
func (b *Bindings) Validate(p LanguagePair) error {
	if _, ok := b.ForTag(p.Source); !ok {
		return fmt.Errorf("%w: source %s", ErrUnknownLanguage, p.Source)
	}
	if _, ok := b.ForTag(p.Target); !ok {
		return fmt.Errorf("%w: target %s", ErrUnknownLanguage, p.Target)
	}
	if p.Source == p.Target {
		return fmt.Errorf("%w: %s", ErrSameLanguage, p.Source)
	}
	return nil
}
