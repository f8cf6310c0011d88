// Package pipeline runs the live captioning loop: capture a segment,
// recognize it, translate it word by word and publish the result.
//
// A Loop runs in a single goroutine. Iterations never overlap, and the
// subtitle update and log append of one line complete before the next
// segment is recognized. Commands from other goroutines (stop, change
// language) are applied only between iterations, at the Listening boundary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/language"

	"github.com/MimeLyc/livesub/internal/audio"
	"github.com/MimeLyc/livesub/internal/glossary"
	"github.com/MimeLyc/livesub/internal/observe"
	"github.com/MimeLyc/livesub/internal/session"
	"github.com/MimeLyc/livesub/internal/sink"
	"github.com/MimeLyc/livesub/internal/speech"
	"github.com/MimeLyc/livesub/pkg/log"
)

var (
	// ErrFatal wraps every error that stops the loop abnormally: capture
	// failures, unclassified recognition errors and panics.
	ErrFatal = errors.New("pipeline: fatal error")
	// ErrNotRunning is returned by commands sent to a loop that is not running.
	ErrNotRunning = errors.New("pipeline: loop is not running")
	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("pipeline: loop is already running")
)

// LineTranslator translates one recognized line. It never fails.
type LineTranslator interface {
	TranslateLine(ctx context.Context, line string, source, target language.Tag) string
}

// Engines are the recognition and translation engines for one language pair.
type Engines struct {
	Transcriber speech.Transcriber
	Translator  LineTranslator
}

// Binder builds the engines for a language pair. It is called once at start
// and again for every language change.
type Binder interface {
	Bind(pair session.LanguagePair) (Engines, error)
}

type BinderFunc func(pair session.LanguagePair) (Engines, error)

func (f BinderFunc) Bind(pair session.LanguagePair) (Engines, error) {
	return f(pair)
}

// Corrector rewrites recognized text before translation.
type Corrector interface {
	Correct(text string) string
}

type Config struct {
	// StopPhrase ends the session after the line carrying it is published.
	StopPhrase string
	// PhraseTimeout bounds the wait for speech to start.
	PhraseTimeout time.Duration
	// MaxSegment bounds the length of one utterance.
	MaxSegment time.Duration
	// Calibration is the ambient noise sampling done once at loop entry.
	Calibration time.Duration
}

func DefaultConfig() Config {
	return Config{
		StopPhrase:    "exit",
		PhraseTimeout: 15 * time.Second,
		MaxSegment:    15 * time.Second,
		Calibration:   time.Second,
	}
}

type command struct {
	pair  session.LanguagePair
	reply chan error
}

type Loop struct {
	cfg       Config
	source    audio.Source
	binder    Binder
	state     *session.State
	subtitles sink.SubtitleSink
	lines     sink.LineSink
	corrector Corrector
	metrics   *observe.Metrics
	detect    func(string) language.Tag
	onPhase   func(Phase)
	stopWords []string

	phase    atomic.Int32
	running  atomic.Bool
	engines  Engines
	commands chan command
	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type Option func(*Loop)

func WithConfig(cfg Config) Option {
	return func(l *Loop) { l.cfg = cfg }
}

func WithSubtitles(s sink.SubtitleSink) Option {
	return func(l *Loop) { l.subtitles = s }
}

func WithLines(s sink.LineSink) Option {
	return func(l *Loop) { l.lines = s }
}

func WithCorrector(c Corrector) Option {
	return func(l *Loop) { l.corrector = c }
}

func WithMetrics(m *observe.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithDetector replaces the language guess stored on each line.
func WithDetector(detect func(string) language.Tag) Option {
	return func(l *Loop) { l.detect = detect }
}

// WithPhaseHook observes every phase transition. The hook runs on the loop
// goroutine and must return quickly.
func WithPhaseHook(fn func(Phase)) Option {
	return func(l *Loop) { l.onPhase = fn }
}

func New(source audio.Source, binder Binder, state *session.State, opts ...Option) *Loop {
	l := &Loop{
		cfg:       DefaultConfig(),
		source:    source,
		binder:    binder,
		state:     state,
		subtitles: sink.Subtitles{},
		lines:     sink.Lines{},
		detect:    speech.DetectLanguage,
		commands:  make(chan command, 8),
		wake:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.stopWords = normalizePhrase(l.cfg.StopPhrase)
	return l
}

func (l *Loop) Phase() Phase {
	return Phase(l.phase.Load())
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Stop asks the loop to end at the next iteration boundary. A recognition or
// translation already in flight completes first; a pending wait for speech
// is abandoned.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

// ChangeLanguage queues a language change and blocks until the loop has
// applied it at the Listening boundary. Audio captured for a phrase that was
// still being collected is dropped.
func (l *Loop) ChangeLanguage(ctx context.Context, pair session.LanguagePair) error {
	if !l.running.Load() {
		return ErrNotRunning
	}
	cmd := command{pair: pair, reply: make(chan error, 1)}
	select {
	case l.commands <- cmd:
	case <-l.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-l.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run opens the source and loops until the stop phrase is heard, Stop is
// called, the input ends, ctx is cancelled or a fatal error occurs. It
// returns nil on a clean stop, ctx.Err() on cancellation, and an error
// wrapping ErrFatal otherwise. The source is closed before Run returns.
func (l *Loop) Run(ctx context.Context) (err error) {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(l.done)
	defer l.running.Store(false)
	defer l.rejectPending()

	pair := l.state.Pair()
	if l.engines, err = l.binder.Bind(pair); err != nil {
		l.setPhase(PhaseStopped)
		return fmt.Errorf("%w: bind engines for %s: %w", ErrFatal, pair, err)
	}

	if err := l.source.Open(ctx); err != nil {
		l.setPhase(PhaseStopped)
		return fmt.Errorf("%w: open audio source: %w", ErrFatal, err)
	}
	defer func() {
		if cerr := l.source.Close(); cerr != nil {
			log.Warn("Failed to close audio source: %v", cerr)
		}
	}()

	l.state.SetRunning(true)
	l.metrics.SessionStarted(ctx)
	defer func() {
		l.state.SetRunning(false)
		l.metrics.SessionStopped(context.WithoutCancel(ctx))
		l.setPhase(PhaseStopped)
		l.showClosing(err)
	}()

	l.show(sink.Subtitle{Kind: sink.KindInitial, Text: WaitingText(pair.Target)})
	log.Info("Session %s started (%s)", l.state.ID(), pair)

	if l.cfg.Calibration > 0 {
		if err := l.source.Calibrate(ctx, l.cfg.Calibration); err != nil {
			switch {
			case errors.Is(err, audio.ErrEndOfStream):
				log.Info("Audio input ended during calibration")
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				return fmt.Errorf("%w: calibrate audio source: %w", ErrFatal, err)
			}
		}
	}

	for {
		select {
		case <-l.stopCh:
			log.Info("Session %s stopped", l.state.ID())
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		l.setPhase(PhaseListening)
		l.applyCommands()

		stop, err := l.safeIterate(ctx)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

// safeIterate turns a panic in an adapter into a fatal error.
func (l *Loop) safeIterate(ctx context.Context) (stop bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Pipeline iteration panicked: %v", r)
			stop, err = true, fmt.Errorf("%w: panic: %v", ErrFatal, r)
		}
	}()
	return l.iterate(ctx)
}

func (l *Loop) iterate(ctx context.Context) (bool, error) {
	listenStart := time.Now()
	seg, err := l.listen(ctx)
	if err != nil {
		switch {
		case errors.Is(err, audio.ErrWaitTimeout):
			l.metrics.RecordRecognition(ctx, observe.OutcomeTimeout, 0)
			return false, nil
		case errors.Is(err, audio.ErrEndOfStream):
			log.Info("Audio input ended, stopping session %s", l.state.ID())
			return true, nil
		case errors.Is(err, errInterrupted):
			return false, nil
		case ctx.Err() != nil:
			return true, ctx.Err()
		default:
			return true, fmt.Errorf("%w: capture: %w", ErrFatal, err)
		}
	}
	log.Debug("Captured %s segment after %s", seg.Duration, time.Since(listenStart).Round(time.Millisecond))

	pair := l.state.Pair()

	l.setPhase(PhaseRecognizing)
	recStart := time.Now()
	text, err := l.engines.Transcriber.Transcribe(ctx, seg)
	recDur := time.Since(recStart)
	if err == nil && strings.TrimSpace(text) == "" {
		err = speech.NoSpeechDetected()
	}
	if err != nil {
		switch {
		case speech.IsNoSpeech(err):
			l.notUnderstood(ctx, pair, recDur)
			return false, nil
		case speech.IsServiceUnavailable(err):
			log.Warn("Recognition service unavailable: %v", err)
			l.metrics.RecordRecognition(ctx, observe.OutcomeUnavailable, recDur)
			l.show(sink.Subtitle{Kind: sink.KindError, Text: ErrorText(pair.Target, speech.Detail(err))})
			return false, nil
		case ctx.Err() != nil:
			return true, ctx.Err()
		default:
			return true, fmt.Errorf("%w: recognize: %w", ErrFatal, err)
		}
	}
	if l.corrector != nil {
		text = l.corrector.Correct(text)
		if strings.TrimSpace(text) == "" {
			l.notUnderstood(ctx, pair, recDur)
			return false, nil
		}
	}
	l.metrics.RecordRecognition(ctx, observe.OutcomeRecognized, recDur)

	l.setPhase(PhaseTranslating)
	translated := l.engines.Translator.TranslateLine(ctx, text, pair.Source, pair.Target)

	l.setPhase(PhasePublishing)
	line := session.Line{
		Recognized:       text,
		Translated:       translated,
		Timestamp:        seg.CapturedAt,
		Pair:             pair,
		DetectedLanguage: l.detect(text),
	}
	if line.Timestamp.IsZero() {
		line.Timestamp = time.Now()
	}
	l.publish(ctx, line)

	if l.isStopPhrase(text) {
		log.Info("Stop phrase heard, ending session %s", l.state.ID())
		return true, nil
	}
	return false, nil
}

func (l *Loop) notUnderstood(ctx context.Context, pair session.LanguagePair, recDur time.Duration) {
	l.metrics.RecordRecognition(ctx, observe.OutcomeNoSpeech, recDur)
	l.show(sink.Subtitle{Kind: sink.KindNotUnderstood, Text: NotUnderstoodText(pair.Target)})
}

var errInterrupted = errors.New("pipeline: listening interrupted")

// listen waits for the next segment. A stop or a queued command abandons
// the wait.
func (l *Loop) listen(ctx context.Context) (audio.Segment, error) {
	listenCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	interrupted := make(chan struct{})
	go func() {
		select {
		case <-l.wake:
		case <-l.stopCh:
		case <-listenCtx.Done():
			return
		}
		close(interrupted)
		cancel()
	}()

	seg, err := l.source.Next(listenCtx, l.cfg.PhraseTimeout, l.cfg.MaxSegment)
	if err != nil && ctx.Err() == nil {
		select {
		case <-interrupted:
			return audio.Segment{}, errInterrupted
		default:
		}
	}
	return seg, err
}

func (l *Loop) publish(ctx context.Context, line session.Line) {
	l.state.Append(line)
	l.show(sink.Subtitle{
		Kind:       sink.KindLine,
		Text:       line.Translated,
		Recognized: line.Recognized,
		At:         line.Timestamp,
	})
	if err := l.lines.Append(line); err != nil {
		log.Error("Failed to append transcript line: %v", err)
	}
	l.metrics.RecordLine(ctx)
}

// applyCommands drains queued language changes. Called only at the
// Listening boundary.
func (l *Loop) applyCommands() {
	select {
	case <-l.wake:
	default:
	}
	for {
		select {
		case cmd := <-l.commands:
			cmd.reply <- l.changeLanguage(cmd.pair)
		default:
			return
		}
	}
}

func (l *Loop) changeLanguage(pair session.LanguagePair) error {
	current := l.state.Pair()
	if pair == current {
		return nil
	}
	engines, err := l.binder.Bind(pair)
	if err != nil {
		log.Warn("Failed to switch languages to %s: %v", pair, err)
		return err
	}
	l.engines = engines
	l.state.SetPair(pair)
	log.Info("Session %s switched languages %s -> %s", l.state.ID(), current, pair)
	return nil
}

func (l *Loop) rejectPending() {
	for {
		select {
		case cmd := <-l.commands:
			cmd.reply <- ErrNotRunning
		default:
			return
		}
	}
}

func (l *Loop) showClosing(err error) {
	target := l.state.Pair().Target
	if err != nil && errors.Is(err, ErrFatal) {
		l.show(sink.Subtitle{Kind: sink.KindError, Text: ErrorText(target, err.Error())})
		return
	}
	l.show(sink.Subtitle{Kind: sink.KindEnded, Text: EndedText(target)})
}

func (l *Loop) show(sub sink.Subtitle) {
	l.subtitles.Show(sub)
}

func (l *Loop) setPhase(p Phase) {
	if Phase(l.phase.Swap(int32(p))) == p {
		return
	}
	if l.onPhase != nil {
		l.onPhase(p)
	}
}

func (l *Loop) isStopPhrase(text string) bool {
	if len(l.stopWords) == 0 {
		return false
	}
	words := normalizePhrase(text)
	if len(words) != len(l.stopWords) {
		return false
	}
	for i := range words {
		if words[i] != l.stopWords[i] {
			return false
		}
	}
	return true
}

// normalizePhrase folds case and drops punctuation so "Exit." equals "exit".
func normalizePhrase(s string) []string {
	var ret []string
	for _, f := range strings.Fields(s) {
		if n := glossary.Normalize(f); n != "" {
			ret = append(ret, n)
		}
	}
	return ret
}
