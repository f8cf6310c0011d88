package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MimeLyc/livesub/internal/config"
	"github.com/MimeLyc/livesub/internal/httpapi"
	"github.com/MimeLyc/livesub/internal/observe"
	"github.com/MimeLyc/livesub/internal/service"
	"github.com/MimeLyc/livesub/pkg/log"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// shutdownTimeout bounds the wait for the final export and mail.
const shutdownTimeout = 2 * time.Minute

type sessionRunner interface {
	Run(ctx context.Context) error
	Stop()
	Shutdown(ctx context.Context) error
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.New()
	if err != nil {
		log.Error("Failed to load configuration: %v", err)
		return 1
	}
	log.InitLogger(log.ParseLevel(cfg.System.LogLevel))
	if cfg.System.LogPath != "" {
		closer, err := log.GetLogger().Tee(cfg.System.LogPath)
		if err != nil {
			log.Error("Failed to open log file %s: %v", cfg.System.LogPath, err)
			return 1
		}
		defer closer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observe.Metrics
	var metricsHandler http.Handler
	mp, shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		log.Warn("Metrics disabled: %v", err)
	} else {
		defer func() { _ = shutdownMetrics(context.Background()) }()
		if metrics, err = observe.NewMetrics(mp); err != nil {
			log.Warn("Metrics disabled: %v", err)
			metrics = nil
		} else {
			metricsHandler = promhttp.Handler()
		}
	}

	svc, err := service.New(*cfg, service.WithMetrics(metrics))
	if err != nil {
		service.Report(err)
		return 1
	}

	var srv httpServer
	if cfg.HTTP.Addr != "" {
		srv = httpapi.NewServer(svc,
			httpapi.WithMetrics(metrics),
			httpapi.WithMetricsHandler(metricsHandler),
			httpapi.WithUI(cfg.HTTP.UIDir, cfg.HTTP.UIDir != ""),
			httpapi.WithOriginPatterns(cfg.HTTP.Origins...),
		)
	}

	status := svc.Status()
	log.Info("livesub %s: session %s, %s -> %s, stop phrase %q", version, status.ID, cfg.Session.SourceLanguage, cfg.Session.TargetLanguage, cfg.Session.StopPhrase)

	if err := runWithComponents(ctx, cfg, svc, srv); err != nil {
		log.Error("Session failed: %v", err)
		return 1
	}
	return 0
}

// runWithComponents serves HTTP while the session runs, then waits for the
// final delivery before taking the HTTP server down.
func runWithComponents(ctx context.Context, cfg *config.Config, sess sessionRunner, srv httpServer) error {
	httpErr := make(chan error, 1)
	if srv != nil {
		go func() {
			log.Info("HTTP listening on %s", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("HTTP server failed: %v", err)
				httpErr <- err
				sess.Stop()
			}
		}()
	}

	runErr := sess.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		log.Info("Shutdown signal received, delivering transcript")
		runErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sess.Shutdown(shutdownCtx); err != nil {
		log.Error("Session shutdown: %v", err)
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP shutdown: %v", err)
		}
	}

	select {
	case err := <-httpErr:
		return errors.Join(runErr, err)
	default:
		return runErr
	}
}
