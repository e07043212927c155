package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"audiohook-server/internal/audiohook"
	"audiohook-server/internal/media"
	"audiohook-server/internal/objectstore"
	"audiohook-server/internal/platform/config"
	"audiohook-server/internal/platform/logger"
	"audiohook-server/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const (
	defaultFinalizeTimeout = 2 * time.Minute
	// shutdownGrace is the drain time allowed on top of one full finalize.
	shutdownGrace = 30 * time.Second
)

// shutdownTimeout returns the configured drain budget, defaulting to one
// finalize plus grace. ok is false when a configured value cannot cover a
// finalize that starts at the moment of shutdown.
func shutdownTimeout(configured, finalize time.Duration) (d time.Duration, ok bool) {
	if configured <= 0 {
		return finalize + shutdownGrace, true
	}
	return configured, configured >= finalize
}

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	recordingsDir := config.GetEnv("RECORDINGS_DIR", "./recordings")
	defaultFormat := config.GetEnv("DEFAULT_MEDIA_FORMAT", audiohook.DefaultMediaFormat)
	convertEnabled := config.GetEnvBool("CONVERT_ENABLED", true)
	finalizeTimeout := config.GetEnvDuration("FINALIZE_TIMEOUT", defaultFinalizeTimeout)
	readLimit := config.GetEnvInt("WS_READ_LIMIT", 1<<20)
	writeTimeout := config.GetEnvDuration("WS_WRITE_TIMEOUT", audiohook.DefaultWriteTimeout)
	drainTimeout, drainOK := shutdownTimeout(config.GetEnvDuration("SHUTDOWN_TIMEOUT", 0), finalizeTimeout)

	log := logger.New(logLevel, logFormat)
	if !drainOK {
		log.Warn("SHUTDOWN_TIMEOUT is shorter than FINALIZE_TIMEOUT, sessions may be cut off mid-finalize",
			"shutdown_timeout", drainTimeout.String(),
			"finalize_timeout", finalizeTimeout.String())
	}
	met := metrics.New()

	capturer, err := audiohook.NewFileCapturer(recordingsDir)
	if err != nil {
		log.Error("recordings dir", "error", err)
		os.Exit(1)
	}

	store, storeDesc, err := newObjectStore(context.Background())
	if err != nil {
		log.Error("object store", "error", err)
		os.Exit(1)
	}

	var (
		converter audiohook.Converter
		prober    audiohook.Prober
	)
	if convertEnabled {
		ff := media.NewFFmpeg(config.GetEnv("FFMPEG_PATH", "ffmpeg"), config.GetEnv("FFPROBE_PATH", "ffprobe"))
		converter, prober = ff, ff
	}

	finalizer := audiohook.NewFinalizer(converter, prober, store, audiohook.FinalizerConfig{
		KeyPrefix: config.GetEnv("S3_PREFIX", "audiohook"),
		Timeout:   finalizeTimeout,
	}, log, met)

	registry := audiohook.NewInMemoryRegistry()
	sup := audiohook.NewSupervisor(registry, capturer, finalizer, audiohook.SupervisorConfig{
		DefaultFormat: defaultFormat,
		WriteTimeout:  writeTimeout,
	}, log, met)
	h := audiohook.NewHandler(sup, int64(readLimit), log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(registry.Count()) }).ServeHTTP(w, r)
	})
	h.Routes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"recordings_dir", capturer.Dir(),
		"object_store", storeDesc,
		"default_format", defaultFormat,
		"convert", convertEnabled,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by http.Server; the
	// supervisor closes and finalizes them.
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	if err := sup.Shutdown(ctx); err != nil {
		log.Error("session drain incomplete", "error", err, "active_sessions", registry.Count())
		os.Exit(1)
	}

	log.Info("server stopped")
}

// newObjectStore picks S3 when a bucket is configured, else a local archive
// directory, else none (uploads are skipped).
func newObjectStore(ctx context.Context) (audiohook.ObjectStore, string, error) {
	if bucket := config.GetEnv("S3_BUCKET", ""); bucket != "" {
		s, err := objectstore.NewS3Store(ctx, objectstore.S3Config{
			Bucket:   bucket,
			Region:   config.GetEnv("S3_REGION", ""),
			Endpoint: config.GetEnv("S3_ENDPOINT", ""),
		})
		if err != nil {
			return nil, "", err
		}
		return s, s.String(), nil
	}
	if dir := config.GetEnv("ARCHIVE_DIR", ""); dir != "" {
		s, err := objectstore.NewDirStore(dir)
		if err != nil {
			return nil, "", err
		}
		return s, s.String(), nil
	}
	return nil, "none", nil
}
