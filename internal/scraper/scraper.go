// Package scraper fetches a YouTube channel's "streams" tab and extracts
// candidate stream records from its embedded initial-data payload.
package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/c12i/bunge-bits-go/internal/domain"
	"github.com/c12i/bunge-bits-go/internal/log"
	"github.com/c12i/bunge-bits-go/internal/platform/httpx"
	"golang.org/x/net/html"
)

const defaultBaseURL = "https://www.youtube.com"

var initialDataMarkers = []string{
	`var ytInitialData = `,
	`window["ytInitialData"] = `,
}

// Scraper fetches candidate streams from a channel's streams tab.
type Scraper struct {
	baseURL string
	client  *http.Client
}

// New creates a Scraper. An empty baseURL defaults to youtube.com; tests
// point it at an httptest server instead.
func New(baseURL string, client *http.Client) *Scraper {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = httpx.NewClient(15 * time.Second)
	}
	return &Scraper{baseURL: baseURL, client: client}
}

// FetchCandidates fetches and parses the channel's streams tab, returning
// candidates in source order (most recent first). In-progress live items
// are filtered out.
func (s *Scraper) FetchCandidates(ctx context.Context, channelID string) ([]domain.Candidate, error) {
	logger := log.WithComponentFromContext(ctx, "scraper")
	url := fmt.Sprintf("%s/@%s/streams", s.baseURL, channelID)

	body, err := s.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	if err := validatePageShape(body); err != nil {
		return nil, &ScrapeParseError{URL: url, Reason: "page is not valid HTML", Err: err}
	}

	payload, err := extractInitialData(body)
	if err != nil {
		return nil, &ScrapeParseError{URL: url, Reason: "could not locate initial-data payload", Err: err}
	}

	candidates, err := parseCandidates(payload)
	if err != nil {
		return nil, &ScrapeParseError{URL: url, Reason: "could not walk initial-data payload", Err: err}
	}

	logger.Info().
		Str("event", "scrape.fetched").
		Str("channel_id", channelID).
		Int("candidates", len(candidates)).
		Msg("fetched channel streams tab")

	return candidates, nil
}

func (s *Scraper) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ScrapeTransportError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; bunge-bits/1.0)")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &ScrapeTransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ScrapeTransportError{URL: url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ScrapeTransportError{URL: url, Err: err}
	}
	return body, nil
}

// validatePageShape does a cheap DOM-level sanity check before scanning for
// the initial-data payload by string; the payload itself lives inside a
// <script> text node, not in the DOM tree proper.
func validatePageShape(body []byte) error {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return err
	}
	if doc.FirstChild == nil {
		return fmt.Errorf("empty document")
	}
	return nil
}

// extractInitialData scans the raw page body for one of the known initial-
// data assignment markers and returns the JSON object that follows, up to
// the statement-terminating semicolon before the closing </script> tag.
func extractInitialData(body []byte) ([]byte, error) {
	text := string(body)

	var start int = -1
	for _, marker := range initialDataMarkers {
		if idx := strings.Index(text, marker); idx != -1 {
			start = idx + len(marker)
			break
		}
	}
	if start == -1 {
		return nil, fmt.Errorf("no initial-data marker found")
	}

	end, err := matchJSONObject(text[start:])
	if err != nil {
		return nil, err
	}
	return []byte(text[start : start+end]), nil
}

// matchJSONObject scans s for a balanced {...} object starting at index 0,
// respecting string literals so that braces inside strings are ignored.
func matchJSONObject(s string) (int, error) {
	if len(s) == 0 || s[0] != '{' {
		return 0, fmt.Errorf("payload does not start with '{'")
	}

	depth := 0
	inString := false
	escaped := false

	for i, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}

		switch r {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, nil
			}
		}
	}
	return 0, fmt.Errorf("unbalanced JSON object")
}

// parseCandidates walks the initial-data payload's grid-renderer items into
// candidate records, filtering out unfinished live items.
func parseCandidates(payload []byte) ([]domain.Candidate, error) {
	var root map[string]interface{}
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, fmt.Errorf("unmarshal initial data: %w", err)
	}

	items := findRendererItems(root)
	if items == nil {
		return nil, fmt.Errorf("could not locate video renderer list in payload")
	}

	candidates := make([]domain.Candidate, 0, len(items))
	for _, item := range items {
		renderer := unwrapRenderer(item)
		if renderer == nil {
			continue
		}
		if isLiveInProgress(renderer) {
			continue
		}
		cand, ok := toCandidate(renderer)
		if ok {
			candidates = append(candidates, cand)
		}
	}
	return candidates, nil
}

// findRendererItems walks contents.twoColumnBrowseResultsRenderer... down to
// the tab's grid item list, tolerating either gridVideoRenderer or
// richItemRenderer-wrapped items across page-layout versions.
func findRendererItems(root map[string]interface{}) []interface{} {
	var items []interface{}
	walk(root, func(key string, value interface{}) bool {
		if key != "items" && key != "contents" {
			return true
		}
		arr, ok := value.([]interface{})
		if !ok || len(arr) == 0 {
			return true
		}
		for _, el := range arr {
			m, ok := el.(map[string]interface{})
			if !ok {
				continue
			}
			if _, hasGrid := m["gridVideoRenderer"]; hasGrid {
				items = arr
				return false
			}
			if _, hasRich := m["richItemRenderer"]; hasRich {
				items = arr
				return false
			}
		}
		return true
	})
	return items
}

// walk performs a depth-first traversal of a decoded JSON tree, invoking fn
// for every map key encountered. fn returns false to stop the traversal.
func walk(node interface{}, fn func(key string, value interface{}) bool) bool {
	switch v := node.(type) {
	case map[string]interface{}:
		for k, val := range v {
			if !fn(k, val) {
				return false
			}
			if !walk(val, fn) {
				return false
			}
		}
	case []interface{}:
		for _, el := range v {
			if !walk(el, fn) {
				return false
			}
		}
	}
	return true
}

func unwrapRenderer(item interface{}) map[string]interface{} {
	m, ok := item.(map[string]interface{})
	if !ok {
		return nil
	}
	if rich, ok := m["richItemRenderer"].(map[string]interface{}); ok {
		if content, ok := rich["content"].(map[string]interface{}); ok {
			m = content
		}
	}
	if grid, ok := m["gridVideoRenderer"].(map[string]interface{}); ok {
		return grid
	}
	return nil
}

// isLiveInProgress reports whether a renderer describes a stream that is
// still live: either a visible "LIVE" badge style or a missing lengthText.
func isLiveInProgress(renderer map[string]interface{}) bool {
	if _, hasLength := renderer["lengthText"]; !hasLength {
		return true
	}
	badges, _ := renderer["badges"].([]interface{})
	for _, b := range badges {
		bm, ok := b.(map[string]interface{})
		if !ok {
			continue
		}
		badge, ok := bm["metadataBadgeRenderer"].(map[string]interface{})
		if !ok {
			continue
		}
		if style, _ := badge["style"].(string); strings.Contains(style, "LIVE") {
			return true
		}
	}
	return false
}

func toCandidate(renderer map[string]interface{}) (domain.Candidate, bool) {
	videoID, _ := renderer["videoId"].(string)
	if videoID == "" {
		return domain.Candidate{}, false
	}

	return domain.Candidate{
		VideoID:           videoID,
		Title:             extractRunsText(renderer["title"]),
		ViewCount:         extractSimpleText(renderer["viewCountText"]),
		PublishedRelative: extractSimpleText(renderer["publishedTimeText"]),
		Duration:          extractSimpleText(renderer["lengthText"]),
	}, true
}

func extractRunsText(node interface{}) string {
	m, ok := node.(map[string]interface{})
	if !ok {
		return ""
	}
	runs, ok := m["runs"].([]interface{})
	if !ok || len(runs) == 0 {
		return extractSimpleText(node)
	}
	var b strings.Builder
	for _, r := range runs {
		rm, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		if text, ok := rm["text"].(string); ok {
			b.WriteString(text)
		}
	}
	return b.String()
}

func extractSimpleText(node interface{}) string {
	m, ok := node.(map[string]interface{})
	if !ok {
		return ""
	}
	if text, ok := m["simpleText"].(string); ok {
		return text
	}
	return ""
}
