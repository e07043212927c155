package audiohook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"strings"
	"time"

	"audiohook-server/internal/media"
	"audiohook-server/internal/platform/logger"
	"audiohook-server/internal/platform/metrics"

	"golang.org/x/sync/errgroup"
)

// Converter turns a raw capture into a playable container.
type Converter interface {
	Convert(ctx context.Context, req media.ConvertRequest) error
}

// Prober extracts statistics from a converted artifact.
type Prober interface {
	Probe(ctx context.Context, path string) (media.Stats, error)
}

// ObjectStore durably stores finalized artifacts.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.ReadSeeker, contentType string, metadata map[string]string) error
}

// Finalize stage names, in execution order.
const (
	StageCloseCapture = "close_capture"
	StageConvert      = "convert"
	StageStats        = "stats"
	StageUpload       = "upload"
	StageCleanup      = "cleanup"
)

// StageStatus is the outcome of one finalize stage.
type StageStatus string

const (
	StageOK      StageStatus = "ok"
	StageSkipped StageStatus = "skipped"
	StageFailed  StageStatus = "failed"
)

// StageOutcome records what one stage did.
type StageOutcome struct {
	Stage     string      `json:"stage"`
	Status    StageStatus `json:"status"`
	Detail    string      `json:"detail,omitempty"`
	Error     string      `json:"error,omitempty"`
	ElapsedMS int64       `json:"elapsed_ms"`
}

// FinalizeReport is the result of a finalize run.
type FinalizeReport struct {
	Abnormal   bool           `json:"abnormal"`
	Stages     []StageOutcome `json:"stages"`
	Stats      *media.Stats   `json:"stats,omitempty"`
	Uploaded   []string       `json:"uploaded,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Outcome returns the outcome recorded for stage.
func (r FinalizeReport) Outcome(stage string) (StageOutcome, bool) {
	for _, o := range r.Stages {
		if o.Stage == stage {
			return o, true
		}
	}
	return StageOutcome{}, false
}

// FinalizerConfig tunes the pipeline.
type FinalizerConfig struct {
	// KeyPrefix is prepended to every object key.
	KeyPrefix string
	// Timeout bounds a whole run; zero means no limit beyond the caller's context.
	Timeout time.Duration
}

// Finalizer runs the close, convert, stats, upload, cleanup pipeline. Each
// stage is fail-soft: an error is recorded and the next stage still runs.
// Any collaborator may be nil, which skips the stages that need it.
type Finalizer struct {
	converter Converter
	prober    Prober
	store     ObjectStore
	cfg       FinalizerConfig
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// NewFinalizer returns a Finalizer. log may be nil.
func NewFinalizer(converter Converter, prober Prober, store ObjectStore, cfg FinalizerConfig, log *slog.Logger, m *metrics.Metrics) *Finalizer {
	if log == nil {
		log = logger.Discard()
	}
	return &Finalizer{converter: converter, prober: prober, store: store, cfg: cfg, log: log, metrics: m}
}

type finalizeRun struct {
	snap      Snapshot
	sink      CaptureSink
	rawPath   string
	outPath   string
	converted bool
	stats     *media.Stats
	uploaded  []string
}

type stage struct {
	name string
	run  func(ctx context.Context, r *finalizeRun) (detail string, err error)
}

// skipError marks a stage that had nothing to do.
type skipError struct{ reason string }

func (e *skipError) Error() string { return "skipped: " + e.reason }

func skip(reason string) error { return &skipError{reason: reason} }

func (f *Finalizer) stages() []stage {
	return []stage{
		{StageCloseCapture, f.closeCapture},
		{StageConvert, f.convert},
		{StageStats, f.stats},
		{StageUpload, f.upload},
		{StageCleanup, f.cleanup},
	}
}

// Run finalizes one session. sink may be nil when no artifact was opened.
// abnormal marks runs triggered by a transport drop rather than a close message.
func (f *Finalizer) Run(ctx context.Context, snap Snapshot, sink CaptureSink, abnormal bool) FinalizeReport {
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}
	log := f.log.With(
		slog.String("session_id", string(snap.ID)),
		slog.String("conversation_id", snap.ConversationID),
	)

	report := FinalizeReport{Abnormal: abnormal, StartedAt: time.Now().UTC()}
	run := &finalizeRun{snap: snap, sink: sink, rawPath: snap.Artifact}
	if sink != nil {
		run.rawPath = sink.Path()
	}

	for _, st := range f.stages() {
		start := time.Now()
		detail, err := st.run(ctx, run)
		out := StageOutcome{Stage: st.name, Status: StageOK, Detail: detail, ElapsedMS: time.Since(start).Milliseconds()}

		var skipped *skipError
		switch {
		case errors.As(err, &skipped):
			out.Status = StageSkipped
			out.Detail = skipped.reason
			log.Debug("finalize stage skipped", slog.String("stage", st.name), slog.String("reason", skipped.reason))
		case err != nil:
			out.Status = StageFailed
			out.Error = err.Error()
			log.Warn("finalize stage failed", slog.String("stage", st.name), slog.String("error", err.Error()))
			f.metrics.IncFinalizeFailures(st.name)
		default:
			log.Debug("finalize stage done", slog.String("stage", st.name), slog.String("detail", detail))
		}
		report.Stages = append(report.Stages, out)
	}

	report.Stats = run.stats
	report.Uploaded = run.uploaded
	report.FinishedAt = time.Now().UTC()
	f.metrics.ObserveFinalize(report.FinishedAt.Sub(report.StartedAt).Seconds())

	log.Info("session finalized",
		slog.Bool("abnormal", abnormal),
		slog.Int64("bytes", snap.BytesReceived),
		slog.String("paused", snap.PausedTotal.String()),
		slog.String("discarded", snap.DiscardedTotal.String()),
		slog.Int("uploaded", len(run.uploaded)),
		slog.Int64("elapsed_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds()),
	)
	return report
}

func (f *Finalizer) closeCapture(_ context.Context, r *finalizeRun) (string, error) {
	if r.sink == nil {
		return "", skip("no capture artifact")
	}
	if err := r.sink.Close(); err != nil {
		return "", fmt.Errorf("close capture: %w", err)
	}
	return r.rawPath, nil
}

func (f *Finalizer) convert(ctx context.Context, r *finalizeRun) (string, error) {
	if r.snap.Probe {
		return "", skip("probe session")
	}
	if r.rawPath == "" {
		return "", skip("no capture artifact")
	}
	fi, err := os.Stat(r.rawPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", skip("raw artifact missing")
	}
	if err != nil {
		return "", err
	}
	if fi.Size() == 0 {
		return "", skip("raw artifact empty")
	}
	if f.converter == nil {
		return "", skip("no converter configured")
	}

	r.outPath = ConvertedPath(r.rawPath)
	err = f.converter.Convert(ctx, media.ConvertRequest{
		RawPath:       r.rawPath,
		OutPath:       r.outPath,
		Format:        r.snap.Media.Format,
		Channels:      len(r.snap.Media.Channels),
		SampleRate:    r.snap.Media.Rate,
		ChannelLabels: r.snap.Media.Channels,
	})
	if err != nil {
		return "", err
	}
	r.converted = true
	return r.outPath, nil
}

func (f *Finalizer) stats(ctx context.Context, r *finalizeRun) (string, error) {
	if !r.converted {
		return "", skip("no converted artifact")
	}
	if f.prober == nil {
		return "", skip("no prober configured")
	}
	st, err := f.prober.Probe(ctx, r.outPath)
	if err != nil {
		return "", err
	}
	r.stats = &st
	return st.Duration.String(), nil
}

func (f *Finalizer) upload(ctx context.Context, r *finalizeRun) (string, error) {
	if r.snap.Probe {
		return "", skip("probe session")
	}
	if r.rawPath == "" {
		return "", skip("no capture artifact")
	}
	if _, err := os.Stat(r.rawPath); errors.Is(err, os.ErrNotExist) {
		return "", skip("raw artifact missing")
	}
	if f.store == nil {
		return "", skip("no object store configured")
	}

	duration := r.snap.Duration()
	if r.stats != nil {
		duration = r.stats.Duration
	}
	md := ArtifactMetadata(r.snap, duration)

	paths := []string{r.rawPath}
	if r.converted {
		paths = append(paths, r.outPath)
	}

	// One attempt per artifact; raw and converted go up concurrently.
	errs := make([]error, len(paths))
	var g errgroup.Group
	for i, p := range paths {
		g.Go(func() error {
			errs[i] = f.put(ctx, p, maps.Clone(md))
			return nil
		})
	}
	_ = g.Wait()

	for i, p := range paths {
		if errs[i] != nil {
			f.metrics.IncUploads("error")
			continue
		}
		f.metrics.IncUploads("ok")
		r.uploaded = append(r.uploaded, ObjectKey(f.cfg.KeyPrefix, p))
	}
	return strings.Join(r.uploaded, ","), errors.Join(errs...)
}

func (f *Finalizer) put(ctx context.Context, path string, md map[string]string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return f.store.Put(ctx, ObjectKey(f.cfg.KeyPrefix, path), file, ContentType(path, md["format"]), md)
}

func (f *Finalizer) cleanup(_ context.Context, r *finalizeRun) (string, error) {
	var errs []error
	removed := 0
	for _, p := range []string{r.rawPath, r.outPath} {
		if p == "" {
			continue
		}
		err := os.Remove(p)
		switch {
		case err == nil:
			removed++
		case !errors.Is(err, os.ErrNotExist):
			errs = append(errs, err)
		}
	}
	if removed == 0 && len(errs) == 0 {
		return "", skip("no local artifacts")
	}
	return fmt.Sprintf("removed %d", removed), errors.Join(errs...)
}
