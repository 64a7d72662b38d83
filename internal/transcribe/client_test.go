package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func writeFakeSegment(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("fake audio bytes"), 0o644); err != nil {
		t.Fatalf("write fake segment: %v", err)
	}
	return path
}

func TestTranscribeSegments_JoinsInOrder(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeFakeSegment(t, dir, "000.mp3"),
		writeFakeSegment(t, dir, "001.mp3"),
	}

	var call int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&call, 1)
		w.Header().Set("content-type", "text/plain")
		if n == 1 {
			_, _ = w.Write([]byte("first segment text"))
		} else {
			_, _ = w.Write([]byte("second segment text"))
		}
	}))
	defer srv.Close()

	client := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	out, err := client.TranscribeSegments(context.Background(), paths)
	if err != nil {
		t.Fatalf("TranscribeSegments() error = %v", err)
	}
	want := "first segment text\nsecond segment text"
	if out != want {
		t.Errorf("TranscribeSegments() = %q, want %q", out, want)
	}
}

func TestTranscribeSegments_RetriesTransientFailure(t *testing.T) {
	dir := t.TempDir()
	paths := []string{writeFakeSegment(t, dir, "000.mp3")}

	var call int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&call, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("content-type", "text/plain")
		_, _ = w.Write([]byte("recovered text"))
	}))
	defer srv.Close()

	client := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	out, err := client.TranscribeSegments(context.Background(), paths)
	if err != nil {
		t.Fatalf("TranscribeSegments() error = %v", err)
	}
	if out != "recovered text" {
		t.Errorf("TranscribeSegments() = %q, want recovered text", out)
	}
	if atomic.LoadInt32(&call) != 2 {
		t.Errorf("call count = %d, want 2", call)
	}
}

func TestTranscribeSegments_EmptyInput(t *testing.T) {
	client := New(Config{APIKey: "test-key"})
	out, err := client.TranscribeSegments(context.Background(), nil)
	if err != nil {
		t.Fatalf("TranscribeSegments() error = %v", err)
	}
	if out != "" {
		t.Errorf("TranscribeSegments(nil) = %q, want empty", out)
	}
}
