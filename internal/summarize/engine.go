// Package summarize implements the map-reduce summarization engine: one
// call per chunk over a bounded worker pool, reassembled in chunk order and
// reduced by a single combine call, with a single-chunk fast path for short
// transcripts.
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/c12i/bunge-bits-go/internal/chunker"
	"github.com/c12i/bunge-bits-go/internal/log"
	"github.com/c12i/bunge-bits-go/internal/prompts"
	"github.com/c12i/bunge-bits-go/internal/telemetry"
)

var tracer = telemetry.Tracer("bunge-bits.summarize")

// DefaultMessagesURL is the Anthropic Messages API endpoint. The STT/LLM
// provider need not literally be Anthropic; BaseURL is overridable.
const DefaultMessagesURL = "https://api.anthropic.com/v1/messages"

const (
	defaultTokenWindow      = 6000
	defaultChunkConcurrency = 4
	defaultChunkMaxTokens   = 1536
	defaultFinalMaxTokens   = 4096
	anthropicVersion        = "2023-06-01"
	summaryTemperature      = 0.2
)

// sharedTransport is reused across Engine instances: one shared connection
// pool avoids ephemeral port exhaustion across the scheduler's periodic
// batches of calls. No compression, to keep response decoding simple.
var sharedTransport = &http.Transport{
	TLSHandshakeTimeout:   30 * time.Second,
	ResponseHeaderTimeout: 2 * time.Minute,
	IdleConnTimeout:       90 * time.Second,
	DisableCompression:    true,
	MaxIdleConnsPerHost:   4,
}

// Config configures an Engine.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string // defaults to DefaultMessagesURL

	TokenWindow      int // W; defaults to 6000
	ChunkConcurrency int // defaults to 4

	Location   *time.Location // defaults to Africa/Nairobi, UTC if unavailable
	HTTPClient *http.Client   // overridable for tests
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultMessagesURL
	}
	if c.TokenWindow <= 0 {
		c.TokenWindow = defaultTokenWindow
	}
	if c.ChunkConcurrency <= 0 {
		c.ChunkConcurrency = defaultChunkConcurrency
	}
	if c.Location == nil {
		loc, err := time.LoadLocation("Africa/Nairobi")
		if err != nil {
			loc = time.UTC
		}
		c.Location = loc
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Transport: sharedTransport}
	}
	return c
}

// Engine runs the map-reduce summarization pipeline for one transcript.
type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// Summarize produces the final Markdown sitting summary for transcript. It
// takes the single-chunk fast path when the transcript already fits within
// TokenWindow, and the full map-reduce path otherwise.
func (e *Engine) Summarize(ctx context.Context, transcript, title string, at time.Time) (string, error) {
	logger := log.WithComponentFromContext(ctx, "summarize")

	if chunker.CountTokens(transcript) <= e.cfg.TokenWindow {
		logger.Debug().Msg("single-chunk fast path")
		system := prompts.Render(prompts.RoleSystem, title, at, e.cfg.Location)
		user := prompts.Render(prompts.RoleFullTranscriptSingleShot, title, at, e.cfg.Location) + "\n" + transcript
		return e.call(ctx, system, user, defaultFinalMaxTokens)
	}

	chunks, err := chunker.Split(transcript, e.cfg.TokenWindow)
	if err != nil {
		return "", fmt.Errorf("summarize: chunk transcript: %w", err)
	}
	logger.Debug().Int("chunks", len(chunks)).Msg("map-reduce path")

	segmentSummaries, err := e.mapChunks(ctx, chunks, title, at)
	if err != nil {
		return "", err
	}

	system := prompts.Render(prompts.RoleSystem, title, at, e.cfg.Location)
	combinePrompt := prompts.Render(prompts.RoleCombine, title, at, e.cfg.Location)

	var joined strings.Builder
	for i, s := range segmentSummaries {
		fmt.Fprintf(&joined, "--- Segment %d ---\n%s\n\n", i+1, s)
	}
	return e.call(ctx, system, combinePrompt+"\n"+joined.String(), defaultFinalMaxTokens)
}

type chunkResult struct {
	text string
	err  error
}

// mapChunks summarizes each chunk independently over a bounded worker pool
// (a buffered channel used as a semaphore) and reassembles the results in
// chunk index order before returning.
func (e *Engine) mapChunks(ctx context.Context, chunks []string, title string, at time.Time) ([]string, error) {
	sem := make(chan struct{}, e.cfg.ChunkConcurrency)
	results := make([]chunkResult, len(chunks))
	var wg sync.WaitGroup

	system := prompts.Render(prompts.RoleSystem, title, at, e.cfg.Location)
	chunkPrompt := prompts.Render(prompts.RoleChunkOfMany, title, at, e.cfg.Location)

	for i, c := range chunks {
		wg.Add(1)
		go func(i int, c string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			chunkCtx, span := tracer.Start(ctx, "summarize.chunk", trace.WithSpanKind(trace.SpanKindClient))
			span.SetAttributes(telemetry.ChunkAttributes(i, len(chunks), chunker.CountTokens(c))...)
			defer span.End()

			text, err := e.call(chunkCtx, system, chunkPrompt+"\n"+c, defaultChunkMaxTokens)
			if err != nil {
				span.SetAttributes(telemetry.ErrorAttributes(err, fmt.Sprintf("%T", err))...)
				span.RecordError(err)
				span.SetStatus(codes.Error, "chunk summarization failed")
			}
			results[i] = chunkResult{text: text, err: err}
		}(i, c)
	}
	wg.Wait()

	summaries := make([]string, len(chunks))
	for i, r := range results {
		if r.err != nil {
			return nil, fmt.Errorf("summarize: chunk %d: %w", i, r.err)
		}
		summaries[i] = r.text
	}
	return summaries, nil
}

// call wraps doCall with exponential backoff. 4xx responses other than 429
// are wrapped in backoff.Permanent and short-circuit retrying.
func (e *Engine) call(ctx context.Context, system, user string, maxTokens int) (string, error) {
	var result string

	operation := func() error {
		text, err := e.doCall(ctx, system, user, maxTokens)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && !apiErr.Retriable() {
				return backoff.Permanent(err)
			}
			return err
		}
		result = text
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return result, nil
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (e *Engine) doCall(ctx context.Context, system, user string, maxTokens int) (string, error) {
	reqBody := messagesRequest{
		Model:       e.cfg.Model,
		MaxTokens:   maxTokens,
		Temperature: summaryTemperature,
		System:      system,
		Messages:    []message{{Role: "user", Content: user}},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("summarize: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("summarize: build request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", e.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := e.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("summarize: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("summarize: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		errType := ""
		errMessage := fmt.Sprintf("HTTP %d", resp.StatusCode)
		var errResp struct {
			Error *struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error != nil {
			errType = errResp.Error.Type
			errMessage = errResp.Error.Message
		}
		return "", &APIError{StatusCode: resp.StatusCode, ErrorType: errType, Message: errMessage}
	}

	var decoded messagesResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("summarize: decode response: %w", err)
	}

	var sb strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
