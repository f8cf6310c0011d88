package service

import (
	"os"
	"strings"

	"github.com/MimeLyc/livesub/internal/config"
	"github.com/MimeLyc/livesub/internal/glossary"
	"github.com/MimeLyc/livesub/internal/llm"
	"github.com/MimeLyc/livesub/internal/observe"
	"github.com/MimeLyc/livesub/internal/pipeline"
	"github.com/MimeLyc/livesub/internal/resilience"
	"github.com/MimeLyc/livesub/internal/session"
	"github.com/MimeLyc/livesub/internal/speech"
	"github.com/MimeLyc/livesub/internal/translator"
	"github.com/MimeLyc/livesub/pkg/log"
)

// maxPromptTerms caps how many glossary terms are sent as a recognition hint.
const maxPromptTerms = 40

// EngineFactory binds recognition and translation engines to a language pair
// from configuration. The chat client and the circuit breaker outlive a
// language change.
type EngineFactory struct {
	cfg      config.Config
	bindings *session.Bindings
	glossary *glossary.Glossary
	metrics  *observe.Metrics

	translator translator.Translator
}

var _ pipeline.Binder = (*EngineFactory)(nil)

func NewEngineFactory(cfg config.Config, bindings *session.Bindings, g *glossary.Glossary, m *observe.Metrics) (*EngineFactory, error) {
	f := &EngineFactory{cfg: cfg, bindings: bindings, glossary: g, metrics: m}

	var inner translator.Translator
	switch cfg.Translate.Backend {
	case config.TranslateBackendPassthrough:
		inner = translator.Passthrough{}
	default:
		client, err := llm.NewClient(&llm.Config{
			APIKey:      cfg.LLM.APIKey,
			APIURL:      cfg.LLM.APIURL,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
			Retries:     cfg.LLM.Retries,
			SiteURL:     cfg.LLM.SiteURL,
			AppName:     cfg.LLM.AppName,
		})
		if err != nil {
			return nil, WrapError(err, ErrEngine, "failed to create LLM client")
		}
		inner = translator.NewLLMTranslator(client)
	}
	f.translator = translator.NewGuarded(inner, resilience.Config{
		Name:         "translator",
		MaxFailures:  cfg.Translate.BreakerMaxFailures,
		Cooldown:     cfg.Translate.BreakerReset,
	})
	return f, nil
}

// Bind implements pipeline.Binder.
func (f *EngineFactory) Bind(pair session.LanguagePair) (pipeline.Engines, error) {
	if err := f.bindings.Validate(pair); err != nil {
		return pipeline.Engines{}, WrapError(err, ErrEngine, "unsupported language pair").
			WithContext("pair", pair.String())
	}
	src, _ := f.bindings.ForTag(pair.Source)

	tr, err := f.transcriber(src)
	if err != nil {
		return pipeline.Engines{}, err
	}
	log.Info("Bound engines for %s (recognizer %s, backend %s)", pair, src.Locale, f.cfg.STT.Backend)
	return pipeline.Engines{
		Transcriber: tr,
		Translator:  translator.NewSegmentTranslator(f.glossary, f.translator, translator.WithMetrics(f.metrics)),
	}, nil
}

func (f *EngineFactory) transcriber(src session.Binding) (speech.Transcriber, error) {
	lang := src.RecognizerLanguage()
	switch f.cfg.STT.Backend {
	case config.STTBackendLine:
		return speech.LineTranscriber{}, nil
	case config.STTBackendWhisper:
		tr, err := speech.NewWhisperServer(f.cfg.STT.WhisperURL, lang, f.cfg.STT.Timeout)
		if err != nil {
			return nil, WrapError(err, ErrEngine, "failed to create whisper transcriber")
		}
		return tr, nil
	default:
		opts := []speech.OpenAIOption{speech.WithTimeout(f.cfg.STT.Timeout)}
		if f.cfg.STT.Model != "" {
			opts = append(opts, speech.WithModel(f.cfg.STT.Model))
		}
		if f.cfg.STT.APIURL != "" {
			opts = append(opts, speech.WithBaseURL(f.cfg.STT.APIURL))
		}
		if prompt := recognitionPrompt(f.glossary); prompt != "" {
			opts = append(opts, speech.WithPrompt(prompt))
		}
		tr, err := speech.NewOpenAI(f.cfg.STT.APIKey, lang, opts...)
		if err != nil {
			return nil, WrapError(err, ErrEngine, "failed to create openai transcriber")
		}
		return tr, nil
	}
}

// BreakerState exposes the translator circuit breaker for the status API.
func (f *EngineFactory) BreakerState() resilience.State {
	if g, ok := f.translator.(*translator.Guarded); ok {
		return g.State()
	}
	return resilience.StateClosed
}

func recognitionPrompt(g *glossary.Glossary) string {
	if g == nil {
		return ""
	}
	terms := g.Entries()
	if len(terms) > maxPromptTerms {
		terms = terms[:maxPromptTerms]
	}
	return strings.Join(terms, ", ")
}

// LoadGlossary resolves the glossary: GLOSSARY_FILE, else a glossary file found
// upwards from the working directory, else the built-in signal processing
// terms. GLOSSARY_TERMS are merged on top.
func LoadGlossary(cfg config.GlossaryConfig) (*glossary.Glossary, error) {
	path := cfg.File
	if path == "" {
		if wd, err := os.Getwd(); err == nil {
			path = glossary.FindInAncestors(wd)
		}
	}

	g := glossary.Default()
	if path != "" {
		loaded, err := glossary.Load(path)
		if err != nil {
			return nil, WrapError(err, ErrConfig, "failed to load glossary").WithContext("path", path)
		}
		g = loaded
		log.Info("Loaded %d glossary terms from %s", g.Len(), path)
	}
	if len(cfg.Terms) > 0 {
		g = g.Merge(cfg.Terms...)
	}
	return g, nil
}

// LoadBindings resolves the language table from LANGUAGES_FILE or the
// built-in bindings.
func LoadBindings(path string) (*session.Bindings, error) {
	if path == "" {
		return session.DefaultBindings(), nil
	}
	b, err := session.LoadBindings(path)
	if err != nil {
		return nil, WrapError(err, ErrConfig, "failed to load language bindings").WithContext("path", path)
	}
	return b, nil
}

func pipelineConfig(cfg config.SessionConfig) pipeline.Config {
	pc := pipeline.DefaultConfig()
	pc.StopPhrase = cfg.StopPhrase
	if cfg.PhraseTimeout > 0 {
		pc.PhraseTimeout = cfg.PhraseTimeout
	}
	if cfg.MaxSegmentDuration > 0 {
		pc.MaxSegment = cfg.MaxSegmentDuration
	}
	if cfg.CalibrationDuration >= 0 {
		pc.Calibration = cfg.CalibrationDuration
	}
	return pc
}
