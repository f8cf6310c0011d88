// Package service assembles one live captioning session: audio source,
// engines, sinks, storage and delivery, and exposes the operator commands.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"github.com/MimeLyc/livesub/internal/audio"
	"github.com/MimeLyc/livesub/internal/config"
	"github.com/MimeLyc/livesub/internal/export"
	"github.com/MimeLyc/livesub/internal/glossary"
	"github.com/MimeLyc/livesub/internal/jobs"
	"github.com/MimeLyc/livesub/internal/media"
	"github.com/MimeLyc/livesub/internal/observe"
	"github.com/MimeLyc/livesub/internal/persistence"
	"github.com/MimeLyc/livesub/internal/pipeline"
	"github.com/MimeLyc/livesub/internal/resilience"
	"github.com/MimeLyc/livesub/internal/session"
	"github.com/MimeLyc/livesub/internal/sink"
	"github.com/MimeLyc/livesub/pkg/log"
)

// Job sources, also used as the export metric trigger.
const (
	SourceStop      = "stop"
	SourceFatal     = "fatal"
	SourceInterrupt = "interrupt"
	SourceSnapshot  = "snapshot"
)

// ErrNotStarted is returned by End before Run was called.
var ErrNotStarted = errors.New("service: session has not started")

// Status is what the control surface reports about the session.
type Status struct {
	session.Snapshot
	Phase       string `json:"phase"`
	Breaker     string `json:"breaker"`
	Subscribers int    `json:"subscribers"`
	Export      string `json:"export_path"`
}

type Service struct {
	cfg         config.Config
	bindings    *session.Bindings
	state       *session.State
	loop        *pipeline.Loop
	broadcaster *sink.Broadcaster
	exporter    *export.Exporter
	notifier    export.Notifier
	queue       *jobs.Queue
	store       *persistence.SQLiteStore
	metrics     *observe.Metrics
	breaker     func() resilience.State
	cron        *cron.Cron
	closers     []io.Closer

	workerCtx     context.Context
	cancelWorkers context.CancelFunc

	started  atomic.Bool
	endOnce  sync.Once
	ended    chan struct{}
	mu       sync.Mutex
	finalJob string

	snapshots singleflight.Group
}

type options struct {
	source   audio.Source
	binder   pipeline.Binder
	notifier export.Notifier
	store    *persistence.SQLiteStore
	metrics  *observe.Metrics
	console  io.Writer
	extra    []sink.SubtitleSink
}

type Option func(*options)

// WithSource replaces the audio source built from AUDIO_SOURCE.
func WithSource(src audio.Source) Option {
	return func(o *options) { o.source = src }
}

// WithBinder replaces the engines built from STT_BACKEND and TRANSLATE_BACKEND.
func WithBinder(b pipeline.Binder) Option {
	return func(o *options) { o.binder = b }
}

func WithNotifier(n export.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithStore uses an already open store instead of opening DB_PATH.
func WithStore(store *persistence.SQLiteStore) Option {
	return func(o *options) { o.store = store }
}

func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithConsole sets where console subtitles are printed. Defaults to stdout.
func WithConsole(w io.Writer) Option {
	return func(o *options) { o.console = w }
}

// WithSubtitleSink adds another subtitle surface.
func WithSubtitleSink(s sink.SubtitleSink) Option {
	return func(o *options) { o.extra = append(o.extra, s) }
}

func New(cfg config.Config, opts ...Option) (svc *Service, err error) {
	o := &options{console: os.Stdout}
	for _, opt := range opts {
		opt(o)
	}

	bindings, err := LoadBindings(cfg.Output.LanguagesFile)
	if err != nil {
		return nil, err
	}
	pair, err := bindings.Resolve(cfg.Session.SourceLanguage, cfg.Session.TargetLanguage)
	if err != nil {
		return nil, WrapError(err, ErrConfig, "invalid session languages")
	}

	s := &Service{
		cfg:         cfg,
		bindings:    bindings,
		broadcaster: sink.NewBroadcaster(),
		metrics:     o.metrics,
		store:       o.store,
		ended:       make(chan struct{}),
		breaker:     func() resilience.State { return resilience.StateClosed },
	}
	defer func() {
		if err != nil {
			s.closeAll()
		}
	}()

	if s.store == nil && cfg.Output.DBPath != "" {
		store, err := persistence.NewSQLiteStore(cfg.Output.DBPath)
		if err != nil {
			return nil, WrapError(err, ErrStorage, "failed to open session store").WithContext("path", cfg.Output.DBPath)
		}
		s.store = store
		s.closers = append(s.closers, store)
	}

	if err := s.restoreSession(cfg.Session.ID, cfg.Session.ResumeLatest, pair); err != nil {
		return nil, err
	}

	g, err := LoadGlossary(cfg.Glossary)
	if err != nil {
		return nil, err
	}
	binder := o.binder
	if binder == nil {
		factory, err := NewEngineFactory(cfg, bindings, g, s.metrics)
		if err != nil {
			return nil, err
		}
		binder = factory
		s.breaker = factory.BreakerState
	}

	source := o.source
	if source == nil {
		source = buildSource(cfg.Audio, s.state.Pair().Source)
	}

	subtitles := sink.Subtitles{s.broadcaster}
	if cfg.Output.Console && o.console != nil {
		subtitles = append(subtitles, sink.NewConsole(o.console))
	}
	subtitles = append(subtitles, o.extra...)

	var lines sink.Lines
	if cfg.Output.LogFile != "" {
		fl, err := sink.NewFileLog(cfg.Output.LogFile)
		if err != nil {
			return nil, WrapError(err, ErrStorage, "failed to open transcript log").WithContext("path", cfg.Output.LogFile)
		}
		lines = append(lines, fl)
		s.closers = append(s.closers, fl)
	}
	if s.store != nil {
		lines = append(lines, s.store.TranscriptSink(s.state.ID()))
	}

	renderer := export.Renderer(export.DOCX{})
	if cfg.Output.ExportFormat == config.ExportFormatMarkdown {
		renderer = export.Markdown{}
	}
	s.exporter = export.NewExporter(cfg.Output.ExportPath, renderer)

	s.notifier = o.notifier
	if s.notifier == nil {
		s.notifier = export.NewMailNotifier(export.MailSettings{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.Sender(),
			Timeout:  30 * time.Second,
		}, export.WithMailMetrics(s.metrics))
	}

	if s.store != nil {
		s.queue = jobs.NewQueue(1, s.store)
	} else {
		s.queue = jobs.NewQueue(1, nil)
	}

	loopOpts := []pipeline.Option{
		pipeline.WithConfig(pipelineConfig(cfg.Session)),
		pipeline.WithSubtitles(subtitles),
		pipeline.WithLines(lines),
		pipeline.WithMetrics(s.metrics),
		pipeline.WithPhaseHook(func(p pipeline.Phase) { log.Debug("Session %s is %s", s.state.ID(), p) }),
	}
	if cfg.Glossary.Correction {
		loopOpts = append(loopOpts, pipeline.WithCorrector(glossary.NewCorrector(g)))
	}
	s.loop = pipeline.New(source, binder, s.state, loopOpts...)

	if err := s.scheduleSnapshots(); err != nil {
		return nil, err
	}
	s.workerCtx, s.cancelWorkers = context.WithCancel(context.Background())
	return s, nil
}

// restoreSession builds the session state, reloading the transcript of an
// earlier run when SESSION_ID names a stored session, or when resumeLatest
// is set and an unended session exists.
func (s *Service) restoreSession(id string, resumeLatest bool, pair session.LanguagePair) error {
	if s.store == nil {
		if id == "" {
			id = session.NewID()
		}
		s.state = session.NewState(id, pair)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		rec persistence.SessionRecord
		ok  bool
		err error
	)
	switch {
	case id != "":
		rec, ok, err = s.store.LoadSession(ctx, id)
	case resumeLatest:
		rec, ok, err = s.store.LatestOpenSession(ctx)
	}
	if err != nil {
		return WrapError(err, ErrStorage, "failed to load session").WithContext("session", id)
	}
	if ok {
		id = rec.ID
		if rec.Pair != pair {
			log.Info("Session %s was recorded as %s, continuing as %s", id, rec.Pair, pair)
		}
	}
	if id == "" {
		id = session.NewID()
	}
	s.state = session.NewState(id, pair)
	if ok {
		lines, err := s.store.LoadLines(ctx, id)
		if err != nil {
			return WrapError(err, ErrStorage, "failed to load transcript").WithContext("session", id)
		}
		s.state.Restore(lines)
		if rec.Ended() {
			log.Warn("Session %s was ended at %s, continuing it anyway", id, rec.EndedAt.Format(time.RFC3339))
		}
		log.Info("Resumed session %s with %d lines", id, len(lines))
	}
	if err := s.store.UpsertSession(ctx, id, pair, s.state.Snapshot().StartedAt); err != nil {
		return WrapError(err, ErrStorage, "failed to record session").WithContext("session", id)
	}
	return nil
}

func buildSource(cfg config.AudioConfig, spoken language.Tag) audio.Source {
	open := audio.OpenInput(cfg.Input)
	if cfg.Source == config.AudioSourceLine {
		return audio.NewLineSource(open)
	}
	vad := audio.DefaultVADConfig()
	if cfg.EnergyThreshold > 0 {
		vad.EnergyThreshold = cfg.EnergyThreshold
	}
	if cfg.SilenceDuration > 0 {
		vad.SilenceMin = cfg.SilenceDuration
	}
	format := audio.DefaultFormat
	if cfg.SampleRate > 0 {
		format.SampleRate = cfg.SampleRate
	}
	if cfg.Source == config.AudioSourceFFmpeg {
		dec := media.NewFFmpeg(cfg.Input, media.WithInputFormat(cfg.InputFormat), media.WithSampleRate(format.SampleRate))
		checkInputLanguage(dec, spoken)
		open = dec.Open
	}
	return audio.NewPCMSource(open, audio.WithFormat(format), audio.WithVAD(vad))
}

// checkInputLanguage warns when the input's audio track is tagged with a
// different language than the session expects.
func checkInputLanguage(dec media.Decoder, spoken language.Tag) {
	streams, err := dec.Probe()
	if err != nil {
		log.Warn("Could not probe audio input: %v", err)
		return
	}
	st, ok := streams.Spoken()
	if !ok {
		return
	}
	want, _ := spoken.Base()
	got, _ := st.LangTag.Base()
	if want != got {
		log.Warn("Audio track %d is tagged %q but the session expects %s", st.Index, st.Language, spoken)
	}
}

// Run starts the delivery workers and the snapshot schedule, then runs the
// recognition loop until it stops. Whatever ends the loop, the transcript is
// exported and mailed once.
func (s *Service) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return pipeline.ErrAlreadyRunning
	}
	s.queue.Start(s.workerCtx, s.deliver)
	if s.cron != nil {
		s.cron.Start()
	}

	err := s.loop.Run(ctx)
	switch {
	case err == nil:
		s.finish(SourceStop)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.finish(SourceInterrupt)
	default:
		Report(WrapError(err, ErrAudio, "session stopped abnormally").WithContext("session", s.state.ID()))
		s.finish(SourceFatal)
	}
	return err
}

func (s *Service) finish(source string) {
	s.endOnce.Do(func() {
		defer close(s.ended)
		id := s.state.ID()
		if s.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.store.EndSession(ctx, id, time.Now()); err != nil {
				log.Error("Failed to mark session %s ended: %v", id, err)
			}
			cancel()
		}
		job, _ := s.queue.Enqueue(jobs.EnqueueRequest{
			Source:    source,
			DedupeKey: "end|" + id,
			Payload: jobs.JobPayload{
				SessionID:  id,
				Recipients: s.cfg.Mail.Recipients,
				Closing:    true,
			},
		})
		s.mu.Lock()
		s.finalJob = job.ID
		s.mu.Unlock()
		log.Info("Session %s ended (%s), delivery %s queued for %d recipients", id, source, job.ID, len(s.cfg.Mail.Recipients))
	})
}

// Stop asks the loop to stop at the next iteration boundary. Delivery follows
// on its own.
func (s *Service) Stop() {
	s.loop.Stop()
}

// End stops the session and returns the queued delivery job once the loop
// has exited.
func (s *Service) End(ctx context.Context) (*jobs.DeliveryJob, error) {
	if !s.started.Load() {
		return nil, WrapError(ErrNotStarted, ErrSession, "cannot end session")
	}
	s.loop.Stop()
	select {
	case <-s.ended:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	job, ok := s.FinalDelivery()
	if !ok {
		return nil, NewError(ErrDelivery, "delivery job was pruned")
	}
	return job, nil
}

// FinalDelivery returns the end-of-session delivery once it was queued.
func (s *Service) FinalDelivery() (*jobs.DeliveryJob, bool) {
	s.mu.Lock()
	id := s.finalJob
	s.mu.Unlock()
	if id == "" {
		return nil, false
	}
	return s.queue.Get(id)
}

// ChangeLanguage resolves names or codes against the bindings and switches the
// running loop to the new pair.
func (s *Service) ChangeLanguage(ctx context.Context, source, target string) (session.LanguagePair, error) {
	pair, err := s.bindings.Resolve(source, target)
	if err != nil {
		return session.LanguagePair{}, WrapError(err, ErrConfig, "invalid languages")
	}
	if err := s.loop.ChangeLanguage(ctx, pair); err != nil {
		if errors.Is(err, pipeline.ErrNotRunning) {
			return session.LanguagePair{}, WrapError(err, ErrSession, "cannot change languages")
		}
		return session.LanguagePair{}, WrapError(err, ErrEngine, "failed to switch languages").WithContext("pair", pair.String())
	}
	if s.store != nil {
		if err := s.store.UpsertSession(ctx, s.state.ID(), pair, s.state.Snapshot().StartedAt); err != nil {
			log.Error("Failed to record language change of session %s: %v", s.state.ID(), err)
		}
	}
	return pair, nil
}

func (s *Service) Status() Status {
	return Status{
		Snapshot:    s.state.Snapshot(),
		Phase:       s.loop.Phase().String(),
		Breaker:     s.breaker().String(),
		Subscribers: s.broadcaster.Subscribers(),
		Export:      s.exporter.Path(),
	}
}

func (s *Service) Transcript() []session.Line {
	return s.state.Lines()
}

func (s *Service) Deliveries() []*jobs.DeliveryJob {
	return s.queue.List()
}

func (s *Service) Delivery(id string) (*jobs.DeliveryJob, bool) {
	return s.queue.Get(id)
}

func (s *Service) Subtitles() *sink.Broadcaster {
	return s.broadcaster
}

func (s *Service) Bindings() *session.Bindings {
	return s.bindings
}

// Shutdown waits for the final delivery to settle, bounded by ctx, and
// releases every resource.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	var waitErr error
	if s.started.Load() {
		waitErr = s.waitDelivered(ctx)
		if waitErr != nil {
			s.cancelWorkers()
		}
	}
	s.queue.Stop()
	s.cancelWorkers()
	return errors.Join(waitErr, s.closeAll())
}

func (s *Service) waitDelivered(ctx context.Context) error {
	select {
	case <-s.ended:
	case <-ctx.Done():
		return fmt.Errorf("session did not end: %w", ctx.Err())
	}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		job, ok := s.FinalDelivery()
		if !ok || job.Status.Terminal() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("delivery %s unfinished: %w", job.ID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Service) closeAll() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
