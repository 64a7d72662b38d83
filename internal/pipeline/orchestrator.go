// Package pipeline implements the per-run orchestration: scrape, filter,
// cap, then process each new stream in isolation through download,
// segmentation, transcription, chunking and summarization.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	sentry "github.com/getsentry/sentry-go"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/c12i/bunge-bits-go/internal/domain"
	"github.com/c12i/bunge-bits-go/internal/downloader"
	"github.com/c12i/bunge-bits-go/internal/fsutil"
	"github.com/c12i/bunge-bits-go/internal/log"
	"github.com/c12i/bunge-bits-go/internal/metrics"
	"github.com/c12i/bunge-bits-go/internal/scraper"
	"github.com/c12i/bunge-bits-go/internal/telemetry"
)

var tracer = telemetry.Tracer("bunge-bits.pipeline")

const (
	segmentMaxBytes = 24 * 1024 * 1024 // stays comfortably under most transcription upload caps
	stageScrape     = "scrape"
	stageFilter     = "filter"
	stageMetadata   = "metadata"
	stageDownload   = "download"
	stageSegment    = "segment"
	stageTranscribe = "transcribe"
	stageSummarize  = "summarize"
	stagePersist    = "persist"
)

// Scraper fetches candidate streams for one channel.
type Scraper interface {
	FetchCandidates(ctx context.Context, channelID string) ([]domain.Candidate, error)
}

// Store is the subset of *store.Store the orchestrator depends on.
type Store interface {
	FilterNew(ctx context.Context, candidates []domain.Candidate) ([]domain.Candidate, error)
	UpsertWithSummary(ctx context.Context, rec domain.StreamRecord) error
}

// Downloader is the subset of *downloader.Adapter the orchestrator depends on.
type Downloader interface {
	GetMetadata(ctx context.Context, url string) (downloader.Metadata, error)
	DownloadAudio(ctx context.Context, url, outputTemplate string) (string, error)
}

// Segmenter splits a downloaded audio file into upload-sized chunks.
type Segmenter func(ctx context.Context, audioPath string, targetMaxBytes int64) ([]string, error)

// Transcriber joins transcribed audio segments into one transcript.
type Transcriber interface {
	TranscribeSegments(ctx context.Context, paths []string) (string, error)
}

// Summarizer produces the final Markdown summary for one transcript.
type Summarizer interface {
	Summarize(ctx context.Context, transcript, title string, at time.Time) (string, error)
}

// Config holds the orchestrator's per-run parameters.
type Config struct {
	ChannelIDs       []string
	MaxStreamsPerRun int
	ScratchRoot      string
	SegmentMaxBytes  int64 // defaults to segmentMaxBytes
	Location         *time.Location
}

// Orchestrator wires the pipeline stages together for one scheduled run.
type Orchestrator struct {
	scraper     Scraper
	store       Store
	downloader  Downloader
	segment     Segmenter
	transcriber Transcriber
	summarizer  Summarizer
	cfg         Config

	mu         sync.RWMutex
	lastRunAt  time.Time
	lastRunErr string
}

// Deps groups the stage implementations an Orchestrator wires together.
type Deps struct {
	Scraper     Scraper
	Store       Store
	Downloader  Downloader
	Segment     Segmenter
	Transcriber Transcriber
	Summarizer  Summarizer
}

func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.SegmentMaxBytes <= 0 {
		cfg.SegmentMaxBytes = segmentMaxBytes
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Orchestrator{
		scraper:     deps.Scraper,
		store:       deps.Store,
		downloader:  deps.Downloader,
		segment:     deps.Segment,
		transcriber: deps.Transcriber,
		summarizer:  deps.Summarizer,
		cfg:         cfg,
	}
}

// RunReport summarizes the outcome of one orchestrator run.
type RunReport struct {
	Scraped   int
	New       int
	Processed int
	Succeeded int
	Failures  []StreamFailure
	Duration  time.Duration
}

// LastRun reports the timestamp and error message (empty on success) of the
// most recently completed run, for health.LastRunChecker.
func (o *Orchestrator) LastRun() (time.Time, string) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastRunAt, o.lastRunErr
}

func (o *Orchestrator) recordRun(err error) {
	o.mu.Lock()
	o.lastRunAt = time.Now()
	if err != nil {
		o.lastRunErr = err.Error()
	} else {
		o.lastRunErr = ""
	}
	o.mu.Unlock()
}

// Run executes one full orchestrator cycle: scrape, filter, cap, then
// process each remaining candidate under its own scratch directory. A
// single stream's failure is recorded in the report and never aborts the
// run.
func (o *Orchestrator) Run(ctx context.Context) (RunReport, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithSpanKind(trace.SpanKindInternal))
	logger := log.WithComponentFromContext(ctx, "pipeline")

	var report RunReport
	var runErr error
	defer func() {
		report.Duration = time.Since(start)
		outcome := outcomeLabel(report)
		if runErr != nil {
			outcome = "error"
		}
		metrics.RecordRun(outcome, report.Duration.Seconds())
		span.SetAttributes(telemetry.RunAttributes(report.Scraped, report.Processed, len(report.Failures), report.New-report.Processed)...)
		span.End()
	}()

	candidates, err := o.scrapeAll(ctx)
	if err != nil {
		runErr = classifyScrapeErr(err)
		o.recordRun(runErr)
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "scrape")
		return report, runErr
	}
	report.Scraped = len(candidates)

	fresh, err := o.store.FilterNew(ctx, candidates)
	if err != nil {
		runErr = &TransientError{Err: fmt.Errorf("filter new candidates: %w", err)}
		o.recordRun(runErr)
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "filter")
		return report, runErr
	}
	report.New = len(fresh)

	if o.cfg.MaxStreamsPerRun > 0 && len(fresh) > o.cfg.MaxStreamsPerRun {
		fresh = fresh[:o.cfg.MaxStreamsPerRun]
	}

	for _, candidate := range fresh {
		report.Processed++
		if err := o.runStream(ctx, candidate); err != nil {
			var failure StreamFailure
			if !errors.As(err, &failure) {
				failure = StreamFailure{VideoID: candidate.VideoID, Stage: "unknown", Err: err}
			}
			logger.Error().
				Str("event", "pipeline.stream_failed").
				Str("video_id", failure.VideoID).
				Str("stage", failure.Stage).
				Err(failure.Err).
				Msg("stream processing failed")
			metrics.RecordStream(string(domain.DeriveHouse(candidate.Title)), "error")
			o.reportToSentry(failure)
			report.Failures = append(report.Failures, failure)
			continue
		}
		report.Succeeded++
		metrics.RecordStream(string(domain.DeriveHouse(candidate.Title)), "ok")
	}

	logger.Info().
		Str("event", "pipeline.run_complete").
		Int("scraped", report.Scraped).
		Int("new", report.New).
		Int("processed", report.Processed).
		Int("succeeded", report.Succeeded).
		Int("failed", len(report.Failures)).
		Msg("run complete")

	o.recordRun(nil)
	return report, nil
}

func outcomeLabel(r RunReport) string {
	if len(r.Failures) > 0 && r.Succeeded == 0 && r.Processed > 0 {
		return "error"
	}
	return "ok"
}

func (o *Orchestrator) scrapeAll(ctx context.Context) ([]domain.Candidate, error) {
	var all []domain.Candidate
	for _, channelID := range o.cfg.ChannelIDs {
		candidates, err := o.scraper.FetchCandidates(ctx, channelID)
		if err != nil {
			return nil, fmt.Errorf("scrape channel %s: %w", channelID, err)
		}
		all = append(all, candidates...)
	}
	return all, nil
}

// classifyScrapeErr distinguishes a page-shape change (a code/selector
// problem, tagged with ErrScrapeParse) from a plain transport failure
// (transient, expected to clear on its own).
func classifyScrapeErr(err error) error {
	var parseErr *scraper.ScrapeParseError
	if errors.As(err, &parseErr) {
		return &StartupError{Err: fmt.Errorf("%w: %v", ErrScrapeParse, err)}
	}
	return &TransientError{Err: fmt.Errorf("scrape: %w", err)}
}

func (o *Orchestrator) reportToSentry(failure StreamFailure) {
	if sentry.CurrentHub().Client() == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("video_id", failure.VideoID)
		scope.SetTag("stage", failure.Stage)
		sentry.CaptureException(failure.Err)
	})
}

// runStream drives one candidate through every stage under its own scratch
// directory, which is removed on every exit path.
func (o *Orchestrator) runStream(ctx context.Context, candidate domain.Candidate) (err error) {
	house := string(domain.DeriveHouse(candidate.Title))
	ctx, span := tracer.Start(ctx, "pipeline.stream", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(telemetry.StreamAttributes(candidate.VideoID, house, "")...)
	defer func() {
		if err != nil {
			var failure StreamFailure
			stage := "unknown"
			if errors.As(err, &failure) {
				stage = failure.Stage
			}
			span.SetAttributes(telemetry.StreamAttributes(candidate.VideoID, house, stage)...)
			span.SetAttributes(telemetry.ErrorAttributes(err, errorTypeOf(err))...)
			span.RecordError(err)
			span.SetStatus(codes.Error, stage)
		}
		span.End()
	}()

	logger := log.WithComponentFromContext(ctx, "pipeline")
	scratchDir, err := o.streamScratchDir(candidate.VideoID)
	if err != nil {
		return StreamFailure{VideoID: candidate.VideoID, Stage: stageDownload, Err: err}
	}
	if err := os.MkdirAll(scratchDir, 0o750); err != nil {
		return StreamFailure{VideoID: candidate.VideoID, Stage: stageDownload, Err: fmt.Errorf("create scratch dir: %w", err)}
	}
	defer func() {
		if err := os.RemoveAll(scratchDir); err != nil {
			logger.Warn().Err(err).Str("scratch_dir", scratchDir).Msg("scratch cleanup failed")
		}
	}()

	url := watchURL(candidate.VideoID)

	meta, err := timedStage(stageMetadata, candidate.VideoID, func() (downloader.Metadata, error) {
		return o.downloader.GetMetadata(ctx, url)
	})
	if err != nil {
		return err
	}

	audioTemplate := filepath.Join(scratchDir, "audio.%(ext)s")
	audioPath, err := timedStage(stageDownload, candidate.VideoID, func() (string, error) {
		return o.downloader.DownloadAudio(ctx, url, audioTemplate)
	})
	if err != nil {
		return err
	}

	segments, err := timedStage(stageSegment, candidate.VideoID, func() ([]string, error) {
		return o.segment(ctx, audioPath, o.cfg.SegmentMaxBytes)
	})
	if err != nil {
		return err
	}

	transcript, err := timedStage(stageTranscribe, candidate.VideoID, func() (string, error) {
		return o.transcriber.TranscribeSegments(ctx, segments)
	})
	if err != nil {
		return err
	}

	at := meta.Timestamp
	if at.IsZero() {
		at = time.Now().In(o.cfg.Location)
	}
	summaryMD, err := timedStage(stageSummarize, candidate.VideoID, func() (string, error) {
		return o.summarizer.Summarize(ctx, transcript, candidate.Title, at)
	})
	if err != nil {
		return err
	}

	rec := domain.StreamRecord{
		VideoID:         candidate.VideoID,
		Title:           candidate.Title,
		ViewCount:       candidate.ViewCount,
		StreamTimestamp: at,
		Duration:        candidate.Duration,
		SummaryMD:       &summaryMD,
	}
	_, err = timedStage(stagePersist, candidate.VideoID, func() (struct{}, error) {
		return struct{}{}, o.store.UpsertWithSummary(ctx, rec)
	})
	if err != nil {
		return err
	}

	return nil
}

// streamScratchDir confines the per-stream directory under ScratchRoot,
// guarding against a video ID crafted to escape the scratch root.
func (o *Orchestrator) streamScratchDir(videoID string) (string, error) {
	rel := filepath.Join("audio", videoID)
	confined, err := fsutil.ConfineRelPath(o.cfg.ScratchRoot, rel)
	if err != nil {
		return "", fmt.Errorf("confine scratch dir for %s: %w", videoID, err)
	}
	return confined, nil
}

func watchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// timedStage runs fn, records its duration and error-kind in metrics, and
// on failure wraps the error as a StreamFailure tagged with stage.
func timedStage[T any](stage, videoID string, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := fn()
	elapsed := time.Since(start).Seconds()

	if err != nil {
		metrics.RecordStageOutcome(stage, elapsed, errorTypeOf(err))
		return result, StreamFailure{VideoID: videoID, Stage: stage, Err: err}
	}
	metrics.RecordStageOutcome(stage, elapsed, "")
	return result, nil
}

func errorTypeOf(err error) string {
	var failure StreamFailure
	if errors.As(err, &failure) {
		err = failure.Err
	}
	return fmt.Sprintf("%T", err)
}

// SweepOrphans removes stream scratch subdirectories left behind by a prior
// crash. Call once on process start, before the scheduler begins ticking.
func SweepOrphans(scratchRoot string) error {
	audioRoot := filepath.Join(scratchRoot, "audio")
	entries, err := os.ReadDir(audioRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("sweep orphans: read %s: %w", audioRoot, err)
	}

	var firstErr error
	for _, entry := range entries {
		path := filepath.Join(audioRoot, entry.Name())
		if err := os.RemoveAll(path); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sweep orphan %s: %w", path, err)
		}
	}
	return firstErr
}
