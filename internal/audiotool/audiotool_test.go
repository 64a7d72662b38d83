package audiotool

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// withFakeBinaries prepends a temp dir containing fake ffmpeg/ffprobe
// scripts to PATH for the duration of the test.
func withFakeBinaries(t *testing.T, ffprobeScript, ffmpegScript string) {
	t.Helper()
	dir := t.TempDir()
	writeScript(t, filepath.Join(dir, "ffprobe"), ffprobeScript)
	writeScript(t, filepath.Join(dir, "ffmpeg"), ffmpegScript)

	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script %s: %v", path, err)
	}
}

func TestSegment_Success(t *testing.T) {
	ffprobeScript := `
cat <<'JSON'
{"format":{"bit_rate":"128000","duration":"3600.0"}}
JSON
`
	// the fake ffmpeg is a no-op; segment output files are created directly
	// below to exercise listSegments' globbing logic in isolation.
	ffmpegScript := "exit 0\n"
	withFakeBinaries(t, ffprobeScript, ffmpegScript)

	audioDir := t.TempDir()
	audioPath := filepath.Join(audioDir, "sitting.mp3")
	if err := os.WriteFile(audioPath, []byte("fake-audio"), 0o644); err != nil {
		t.Fatalf("seed audio file: %v", err)
	}
	for _, n := range []string{"000", "001"} {
		if err := os.WriteFile(filepath.Join(audioDir, "sitting."+n+".mp3"), []byte("seg"), 0o644); err != nil {
			t.Fatalf("seed segment file: %v", err)
		}
	}

	segments, err := Segment(context.Background(), audioPath, 2_000_000)
	if err != nil {
		t.Fatalf("Segment() error = %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("got %d segments, want 2: %v", len(segments), segments)
	}
}

func TestSegment_ProbeFailure(t *testing.T) {
	ffprobeScript := `
echo "ffprobe: no such file" >&2
exit 1
`
	ffmpegScript := "exit 0\n"
	withFakeBinaries(t, ffprobeScript, ffmpegScript)

	_, err := Segment(context.Background(), filepath.Join(t.TempDir(), "missing.mp3"), 1_000_000)
	if err == nil {
		t.Fatal("expected a probe error")
	}
}

func TestSegment_NoSegmentsProduced(t *testing.T) {
	ffprobeScript := `
cat <<'JSON'
{"format":{"bit_rate":"128000","duration":"60.0"}}
JSON
`
	ffmpegScript := "exit 0\n" // produces nothing
	withFakeBinaries(t, ffprobeScript, ffmpegScript)

	audioDir := t.TempDir()
	audioPath := filepath.Join(audioDir, "sitting.mp3")
	if err := os.WriteFile(audioPath, []byte("fake-audio"), 0o644); err != nil {
		t.Fatalf("seed audio file: %v", err)
	}

	_, err := Segment(context.Background(), audioPath, 1_000_000)
	if err == nil {
		t.Fatal("expected an error when no segments are produced")
	}
}

func TestEstimateSegmentSeconds(t *testing.T) {
	tests := []struct {
		name            string
		bitRateBps      int64
		targetMaxBytes  int64
		totalDuration   float64
		wantMinSeconds  int
		wantCapDuration bool
	}{
		{name: "typical", bitRateBps: 128_000, targetMaxBytes: 2_000_000, totalDuration: 3600, wantMinSeconds: 1},
		{name: "capped by total duration", bitRateBps: 1_000, targetMaxBytes: 10_000_000, totalDuration: 30, wantCapDuration: true},
		{name: "degenerate bit rate floors to one second", bitRateBps: 0, targetMaxBytes: 1000, totalDuration: 0, wantMinSeconds: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := estimateSegmentSeconds(tt.bitRateBps, tt.targetMaxBytes, tt.totalDuration)
			if got < tt.wantMinSeconds {
				t.Errorf("got %d, want at least %d", got, tt.wantMinSeconds)
			}
			if tt.wantCapDuration && float64(got) > tt.totalDuration {
				t.Errorf("got %d, want capped at duration %v", got, tt.totalDuration)
			}
		})
	}
}
