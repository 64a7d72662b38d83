package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

const samplePage = `<!DOCTYPE html><html><head><title>Streams</title></head><body>
<script>var ytInitialData = %s;</script>
</body></html>`

func buildPayload(items string) string {
	return fmt.Sprintf(`{
		"contents": {
			"twoColumnBrowseResultsRenderer": {
				"tabs": [
					{
						"tabRenderer": {
							"content": {
								"richGridRenderer": {
									"contents": [%s]
								}
							}
						}
					}
				]
			}
		}
	}`, items)
}

func gridItem(videoID, title, viewCount, published, length string) string {
	lengthField := ""
	if length != "" {
		lengthField = fmt.Sprintf(`"lengthText": {"simpleText": %q},`, length)
	}
	return fmt.Sprintf(`{
		"richItemRenderer": {
			"content": {
				"gridVideoRenderer": {
					"videoId": %q,
					"title": {"runs": [{"text": %q}]},
					"viewCountText": {"simpleText": %q},
					"publishedTimeText": {"simpleText": %q},
					%s
					"badges": []
				}
			}
		}
	}`, videoID, title, viewCount, published, lengthField)
}

func liveItem(videoID, title string) string {
	return fmt.Sprintf(`{
		"richItemRenderer": {
			"content": {
				"gridVideoRenderer": {
					"videoId": %q,
					"title": {"runs": [{"text": %q}]},
					"viewCountText": {"simpleText": "12 watching"},
					"badges": [
						{"metadataBadgeRenderer": {"style": "BADGE_STYLE_TYPE_LIVE_NOW"}}
					]
				}
			}
		}
	}`, videoID, title)
}

func newTestServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(body))
	}))
}

func TestFetchCandidates_ParsesGridItems(t *testing.T) {
	items := gridItem("abc123", "National Assembly | Tue 24 Jun 2025", "1,234 views", "2 days ago", "3:45:00") +
		"," + gridItem("def456", "Senate | Wed 25 Jun 2025", "987 views", "1 day ago", "2:10:00")
	page := fmt.Sprintf(samplePage, buildPayload(items))

	srv := newTestServer(t, page)
	defer srv.Close()

	s := New(srv.URL, srv.Client())
	candidates, err := s.FetchCandidates(context.Background(), "parliamentofkenyachannel")
	if err != nil {
		t.Fatalf("FetchCandidates() error = %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("got %d candidates, want 2", len(candidates))
	}
	if candidates[0].VideoID != "abc123" {
		t.Errorf("candidates[0].VideoID = %q, want abc123", candidates[0].VideoID)
	}
	if candidates[0].Title != "National Assembly | Tue 24 Jun 2025" {
		t.Errorf("candidates[0].Title = %q", candidates[0].Title)
	}
	if candidates[1].VideoID != "def456" {
		t.Errorf("candidates[1].VideoID = %q, want def456", candidates[1].VideoID)
	}
}

func TestFetchCandidates_FiltersInProgressLive(t *testing.T) {
	items := liveItem("live1", "Senate Live Now") +
		"," + gridItem("finished1", "Senate | Finished sitting", "500 views", "3 hours ago", "1:00:00")
	page := fmt.Sprintf(samplePage, buildPayload(items))

	srv := newTestServer(t, page)
	defer srv.Close()

	s := New(srv.URL, srv.Client())
	candidates, err := s.FetchCandidates(context.Background(), "parliamentofkenyachannel")
	if err != nil {
		t.Fatalf("FetchCandidates() error = %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1 (live item should be filtered)", len(candidates))
	}
	if candidates[0].VideoID != "finished1" {
		t.Errorf("candidates[0].VideoID = %q, want finished1", candidates[0].VideoID)
	}
}

func TestFetchCandidates_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := New(srv.URL, srv.Client())
	_, err := s.FetchCandidates(context.Background(), "parliamentofkenyachannel")
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	var transportErr *ScrapeTransportError
	if !asTransportError(err, &transportErr) {
		t.Fatalf("expected *ScrapeTransportError, got %T: %v", err, err)
	}
}

func TestFetchCandidates_ParseErrorOnMissingPayload(t *testing.T) {
	srv := newTestServer(t, `<!DOCTYPE html><html><body>no payload here</body></html>`)
	defer srv.Close()

	s := New(srv.URL, srv.Client())
	_, err := s.FetchCandidates(context.Background(), "parliamentofkenyachannel")
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	var parseErr *ScrapeParseError
	if !asParseError(err, &parseErr) {
		t.Fatalf("expected *ScrapeParseError, got %T: %v", err, err)
	}
}

func asTransportError(err error, target **ScrapeTransportError) bool {
	if e, ok := err.(*ScrapeTransportError); ok {
		*target = e
		return true
	}
	return false
}

func asParseError(err error, target **ScrapeParseError) bool {
	if e, ok := err.(*ScrapeParseError); ok {
		*target = e
		return true
	}
	return false
}

func TestMatchJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantEnd int
		wantErr bool
	}{
		{name: "simple object", input: `{"a":1}`, wantEnd: 7},
		{name: "nested object", input: `{"a":{"b":2}}trailing`, wantEnd: 13},
		{name: "braces inside string ignored", input: `{"a":"}}}"}rest`, wantEnd: 11},
		{name: "not an object", input: `[1,2,3]`, wantErr: true},
		{name: "unbalanced", input: `{"a":1`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			end, err := matchJSONObject(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got end=%d", end)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if end != tt.wantEnd {
				t.Errorf("end = %d, want %d", end, tt.wantEnd)
			}
		})
	}
}
