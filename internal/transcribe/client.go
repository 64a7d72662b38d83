// Package transcribe uploads audio segments to a Whisper-compatible
// transcription endpoint and joins the results into one transcript.
package transcribe

import (
	"context"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"

	"github.com/c12i/bunge-bits-go/internal/log"
)

const maxAttempts = 5

// Config configures a Client. BaseURL is overridable so the speech-to-text
// provider need not literally be OpenAI, only Whisper-endpoint compatible.
type Config struct {
	APIKey  string
	BaseURL string // optional; empty uses the provider's default
}

// Client wraps the Whisper transcription endpoint.
type Client struct {
	api *openai.Client
}

func New(cfg Config) *Client {
	oaiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaiCfg.BaseURL = cfg.BaseURL
	}
	return &Client{api: openai.NewClientWithConfig(oaiCfg)}
}

// TranscribeSegments uploads each path in the given order (the caller — the
// audio segmenter — already guarantees NNN.ext chronological ordering) and
// joins the resulting text with newlines. A transient failure on one
// segment is retried with exponential backoff before giving up.
func (c *Client) TranscribeSegments(ctx context.Context, paths []string) (string, error) {
	texts := make([]string, len(paths))

	for i, path := range paths {
		text, err := c.transcribeWithRetry(ctx, path)
		if err != nil {
			return "", fmt.Errorf("transcribe: segment %d (%s): %w", i, path, err)
		}
		texts[i] = text
	}

	return strings.Join(texts, "\n"), nil
}

func (c *Client) transcribeWithRetry(ctx context.Context, path string) (string, error) {
	logger := log.WithComponentFromContext(ctx, "transcribe")
	var result string

	operation := func() error {
		resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
			Model:    openai.Whisper1,
			FilePath: path,
			Format:   openai.AudioResponseFormatText,
		})
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("transcription attempt failed")
			return err
		}
		result = resp.Text
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxAttempts), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return result, nil
}
