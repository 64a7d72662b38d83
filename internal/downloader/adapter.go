// Package downloader wraps yt-dlp to fetch a sitting's audio track, its
// auto-generated subtitles, and its metadata.
package downloader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/c12i/bunge-bits-go/internal/fsutil"
	"github.com/c12i/bunge-bits-go/internal/log"
)

// Metadata is the subset of yt-dlp's --dump-json output this pipeline needs.
type Metadata struct {
	VideoID   string
	Title     string
	Duration  time.Duration
	Uploader  string
	Timestamp time.Time // absolute stream start time, resolved from yt-dlp's timestamp/upload_date fields
}

// Adapter wraps a resolved yt-dlp binary. Callers that construct one via
// NewVendored must Close it to remove the extracted temp copy.
type Adapter struct {
	binPath     string
	cookiesFile string
	vendoredDir string
}

// Option configures an Adapter at construction time.
type Option func(*Adapter)

// WithCookiesFile points the adapter at a cookies.txt file to pass to every
// invocation via --cookies.
func WithCookiesFile(path string) Option {
	return func(a *Adapter) {
		a.cookiesFile = path
	}
}

// NewExternal wraps an operator-provided yt-dlp path. The path is resolved
// via exec.LookPath so a bare name ("yt-dlp") and an absolute path both work.
func NewExternal(path string, opts ...Option) (*Adapter, error) {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBinaryNotFound, path, err)
	}
	a := &Adapter{binPath: resolved}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// NewVendored locates a yt-dlp binary inside binDir and copies it into a
// fresh temp directory, so the adapter owns a private, stable copy that
// Close removes. binDir itself is left untouched.
func NewVendored(binDir string, opts ...Option) (*Adapter, error) {
	vendoredPath := filepath.Join(binDir, "yt-dlp")
	if err := fsutil.IsRegularFile(vendoredPath); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBinaryNotFound, vendoredPath, err)
	}

	tmpDir, err := os.MkdirTemp("", "bunge-bits-ytdlp-*")
	if err != nil {
		return nil, fmt.Errorf("create vendored binary temp dir: %w", err)
	}

	dest := filepath.Join(tmpDir, "yt-dlp")
	if err := copyExecutable(vendoredPath, dest); err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("extract vendored yt-dlp: %w", err)
	}

	a := &Adapter{binPath: dest, vendoredDir: tmpDir}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func copyExecutable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// Close removes any vendored temp directory created by NewVendored. It is a
// no-op for adapters constructed via NewExternal.
func (a *Adapter) Close() error {
	if a.vendoredDir == "" {
		return nil
	}
	return os.RemoveAll(a.vendoredDir)
}

func (a *Adapter) baseArgs() []string {
	args := []string{"--no-playlist"}
	if a.cookiesFile != "" {
		args = append(args, "--cookies", a.cookiesFile)
	}
	return args
}

// DownloadAudio extracts the best-available audio track to outputTemplate
// (a yt-dlp output template, e.g. "<scratch>/%(id)s.%(ext)s") and returns the
// resolved output path.
func (a *Adapter) DownloadAudio(ctx context.Context, url, outputTemplate string) (string, error) {
	logger := log.WithComponentFromContext(ctx, "downloader")

	args := append(a.baseArgs(),
		"--extract-audio",
		"--audio-format", "mp3",
		"--output", outputTemplate,
		"--print", "after_move:filepath",
		url,
	)

	cmd := exec.CommandContext(ctx, a.binPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", wrapExitError(err, stderr.String())
	}

	outputPath := firstNonEmptyLine(stdout.String())
	if outputPath == "" {
		return "", fmt.Errorf("yt-dlp produced no output path for %s", url)
	}

	logger.Info().
		Str("event", "downloader.audio_downloaded").
		Str("url", url).
		Str("output_path", outputPath).
		Msg("downloaded audio track")

	return outputPath, nil
}

// DownloadAutoSubtitles fetches auto-generated English subtitles for url and
// writes them to outputPath. This sits off the pipeline's core path (the
// transcript comes from the audio transcription stage) but is kept for
// parity with operators who want a subtitle fallback.
func (a *Adapter) DownloadAutoSubtitles(ctx context.Context, url, outputPath string) error {
	args := append(a.baseArgs(),
		"--skip-download",
		"--write-auto-sub",
		"--sub-lang", "en",
		"--sub-format", "vtt",
		"--output", outputPath,
		url,
	)

	cmd := exec.CommandContext(ctx, a.binPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return wrapExitError(err, stderr.String())
	}
	return nil
}

// GetMetadata performs a metadata-only probe (--dump-json, no download).
func (a *Adapter) GetMetadata(ctx context.Context, url string) (Metadata, error) {
	args := append(a.baseArgs(), "--dump-json", "--skip-download", url)

	cmd := exec.CommandContext(ctx, a.binPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Metadata{}, wrapExitError(err, stderr.String())
	}

	var raw struct {
		ID         string  `json:"id"`
		Title      string  `json:"title"`
		Duration   float64 `json:"duration"`
		Uploader   string  `json:"uploader"`
		Timestamp  int64   `json:"timestamp"`
		UploadDate string  `json:"upload_date"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrMetadataParse, err)
	}

	return Metadata{
		VideoID:   raw.ID,
		Title:     raw.Title,
		Duration:  time.Duration(raw.Duration * float64(time.Second)),
		Uploader:  raw.Uploader,
		Timestamp: resolveTimestamp(raw.Timestamp, raw.UploadDate),
	}, nil
}

// resolveTimestamp prefers the unix epoch field yt-dlp reports for
// livestreams; upload_date (YYYYMMDD, UTC midnight) is a coarser fallback
// for uploads that never streamed live.
func resolveTimestamp(epochSeconds int64, uploadDate string) time.Time {
	if epochSeconds > 0 {
		return time.Unix(epochSeconds, 0).UTC()
	}
	if t, err := time.Parse("20060102", uploadDate); err == nil {
		return t
	}
	return time.Time{}
}

func wrapExitError(err error, stderr string) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &DownloadFailedError{ExitCode: exitErr.ExitCode(), StderrTail: tail(stderr)}
	}
	return &DownloadFailedError{ExitCode: -1, StderrTail: tail(err.Error() + "\n" + stderr)}
}

func firstNonEmptyLine(s string) string {
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '\n' {
			line := s[start:i]
			if trimmed := trimCR(line); trimmed != "" {
				return trimmed
			}
			start = i + 1
		}
	}
	return ""
}

func trimCR(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}
