// Package httpapi is the operator and viewer surface of a session: JSON
// control endpoints plus SSE and websocket subtitle streams.
package httpapi

import (
	"context"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/livesub/internal/export"
	"github.com/MimeLyc/livesub/internal/jobs"
	"github.com/MimeLyc/livesub/internal/observe"
	"github.com/MimeLyc/livesub/internal/service"
	"github.com/MimeLyc/livesub/internal/session"
	"github.com/MimeLyc/livesub/internal/sink"
)

// Controller is the part of the session service the API drives.
type Controller interface {
	Status() service.Status
	Transcript() []session.Line
	Bindings() *session.Bindings
	Stop()
	End(ctx context.Context) (*jobs.DeliveryJob, error)
	ChangeLanguage(ctx context.Context, source, target string) (session.LanguagePair, error)
	Snapshot(ctx context.Context) (export.Artifact, error)
	Deliveries() []*jobs.DeliveryJob
	Delivery(id string) (*jobs.DeliveryJob, bool)
	Subtitles() *sink.Broadcaster
}

var _ Controller = (*service.Service)(nil)

type Server struct {
	ctrl    Controller
	metrics *observe.Metrics

	uiEnabled   bool
	uiStaticDir string
	keepAlive   time.Duration
	cmdTimeout  time.Duration
	origins     []string

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithUI serves staticDir as a single page app on every non-API path.
func WithUI(staticDir string, enabled bool) Option {
	return func(s *Server) {
		s.uiStaticDir = staticDir
		s.uiEnabled = enabled
	}
}

// WithMetricsHandler mounts h, usually promhttp.Handler(), at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		if h != nil {
			s.mux.Handle("/metrics", h)
		}
	}
}

func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithKeepAlive sets the interval of SSE comments and websocket pings.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) { s.keepAlive = d }
}

// WithOriginPatterns lists the cross-origin hosts allowed to open the
// subtitle websocket, e.g. "obs.example.com" or "*.lan". Same-origin
// pages are always accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = append(s.origins, patterns...) }
}

func NewServer(ctrl Controller, opts ...Option) *Server {
	s := &Server{
		ctrl:       ctrl,
		keepAlive:  15 * time.Second,
		cmdTimeout: 30 * time.Second,
		mux:        http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/session", s.handleSession)
	s.mux.HandleFunc("/api/session/stop", s.handleStop)
	s.mux.HandleFunc("/api/session/end", s.handleEnd)
	s.mux.HandleFunc("/api/session/language", s.handleLanguage)
	s.mux.HandleFunc("/api/transcript", s.handleTranscript)
	s.mux.HandleFunc("/api/languages", s.handleLanguages)
	s.mux.HandleFunc("/api/export", s.handleExport)
	s.mux.HandleFunc("/api/deliveries", s.handleDeliveries)
	s.mux.HandleFunc("/api/deliveries/", s.handleDelivery)
	s.mux.HandleFunc("/api/subtitles/latest", s.handleLatestSubtitle)
	s.mux.HandleFunc("/api/subtitles/stream", s.handleSubtitleStream)
	s.mux.HandleFunc("/api/subtitles/ws", s.handleSubtitleSocket)
	s.mux.HandleFunc("/", s.handleStatic)
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if !s.uiEnabled || s.uiStaticDir == "" || strings.HasPrefix(r.URL.Path, "/api/") {
		http.NotFound(w, r)
		return
	}

	rel := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	indexPath := filepath.Join(s.uiStaticDir, "index.html")

	if rel == "" || !strings.Contains(filepath.Base(rel), ".") {
		http.ServeFile(w, r, indexPath)
		return
	}

	filePath := filepath.Join(s.uiStaticDir, rel)
	if _, err := os.Stat(filePath); err != nil {
		http.ServeFile(w, r, indexPath)
		return
	}
	http.ServeFile(w, r, filePath)
}
