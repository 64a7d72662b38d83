// Package audiotool segments an audio file into size-bounded chunks suitable
// for upload to a transcription API, shelling out to ffmpeg and ffprobe.
package audiotool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrSegmentFailed wraps an ffmpeg segmentation invocation failure.
var ErrSegmentFailed = errors.New("audio segmentation failed")

// ErrProbeFailed wraps an ffprobe bitrate-probe invocation failure.
var ErrProbeFailed = errors.New("audio probe failed")

const probeTimeout = 30 * time.Second

// Segment splits audioPath into a sequence of segment files, each sized to
// stay at or under targetMaxBytes, written alongside audioPath as
// "<stem>.NNN.<ext>". It returns the segment paths in order.
func Segment(ctx context.Context, audioPath string, targetMaxBytes int64) ([]string, error) {
	bitRate, duration, err := probeBitRate(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	if bitRate <= 0 {
		return nil, fmt.Errorf("%w: could not determine bit rate for %s", ErrProbeFailed, audioPath)
	}

	segmentSeconds := estimateSegmentSeconds(bitRate, targetMaxBytes, duration)

	dir := filepath.Dir(audioPath)
	ext := filepath.Ext(audioPath)
	stem := audioPath[:len(audioPath)-len(ext)]
	outputPattern := fmt.Sprintf("%s.%%03d%s", stem, ext)

	args := []string{
		"-i", audioPath,
		"-f", "segment",
		"-segment_time", strconv.Itoa(segmentSeconds),
		"-reset_timestamps", "1",
		"-c", "copy",
		outputPattern,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSegmentFailed, stderr.String(), err)
	}

	return listSegments(dir, filepath.Base(stem), ext)
}

func listSegments(dir, stemBase, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list segments: %v", ErrSegmentFailed, err)
	}

	prefix := stemBase + "."
	var segments []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ext {
			continue
		}
		if len(name) <= len(prefix)+len(ext) || name[:len(prefix)] != prefix {
			continue
		}
		// Only "<stem>.NNN<ext>" names are segments; the source file itself
		// ("<stem><ext>") and other siblings are skipped.
		if strings.Trim(name[len(prefix):len(name)-len(ext)], "0123456789") != "" {
			continue
		}
		segments = append(segments, filepath.Join(dir, name))
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: no segments produced for %s", ErrSegmentFailed, filepath.Join(dir, stemBase+ext))
	}
	return segments, nil
}

// estimateSegmentSeconds picks a segment duration that keeps each segment at
// or under targetMaxBytes, given the probed average bit rate. Falls back to
// the full duration if the estimate would exceed it.
func estimateSegmentSeconds(bitRateBps int64, targetMaxBytes int64, totalDuration float64) int {
	bytesPerSecond := bitRateBps / 8
	if bytesPerSecond <= 0 {
		bytesPerSecond = 1
	}
	seconds := int(targetMaxBytes / bytesPerSecond)
	if seconds < 1 {
		seconds = 1
	}
	if totalDuration > 0 && float64(seconds) > totalDuration {
		seconds = int(totalDuration)
		if seconds < 1 {
			seconds = 1
		}
	}
	return seconds
}

type ffprobeFormat struct {
	BitRate  string `json:"bit_rate"`
	Duration string `json:"duration"`
}

type ffprobeResult struct {
	Format ffprobeFormat `json:"format"`
}

// probeBitRate shells out to ffprobe to read the container-level average bit
// rate (bits/sec) and total duration (seconds) of the file at path.
func probeBitRate(ctx context.Context, path string) (bitRateBps int64, durationSeconds float64, err error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, runErr := cmd.Output()
	if runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, 0, fmt.Errorf("%w: timed out probing %s", ErrProbeFailed, path)
		}
		return 0, 0, fmt.Errorf("%w: %s: %v", ErrProbeFailed, stderr.String(), runErr)
	}

	var result ffprobeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return 0, 0, fmt.Errorf("%w: parse ffprobe output: %v", ErrProbeFailed, err)
	}

	bitRateBps, _ = strconv.ParseInt(result.Format.BitRate, 10, 64)
	durationSeconds, _ = strconv.ParseFloat(result.Format.Duration, 64)
	return bitRateBps, durationSeconds, nil
}
