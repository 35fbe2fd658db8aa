package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestTimeTool(t *testing.T) {
	fixed := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	tool := &TimeTool{Location: time.UTC, Now: func() time.Time { return fixed }}

	out, err := tool.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	m := out.(map[string]any)
	if m["date"] != "2025-03-04 05:06:07" {
		t.Errorf("date = %v", m["date"])
	}
	if m["timestamp"] != fixed.Unix() {
		t.Errorf("timestamp = %v, want %d", m["timestamp"], fixed.Unix())
	}

	if _, err := tool.Execute(context.Background(), map[string]any{"timezone": "Not/AZone"}); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestWebReaderExtractsArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><nav>menu</nav><article><h1>Title</h1>
			<script>var x = 1;</script><p>First   paragraph.</p>
			<p>Second</p></article></body></html>`)
	}))
	defer srv.Close()

	out, err := (&WebReader{}).Execute(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := out.(map[string]any)["content"]
	if got != "Title First paragraph. Second" {
		t.Errorf("content = %q", got)
	}
}

func TestWebReaderCapsLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html><body><main>%s</main></body></html>", strings.Repeat("word ", 1000))
	}))
	defer srv.Close()

	out, err := (&WebReader{}).Execute(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if n := len([]rune(out.(map[string]any)["content"].(string))); n != maxPageChars {
		t.Errorf("len(content) = %d, want %d", n, maxPageChars)
	}
}

func TestWebReaderRejectsBadURL(t *testing.T) {
	if _, err := (&WebReader{}).Execute(context.Background(), map[string]any{"url": "file:///etc/passwd"}); err == nil {
		t.Error("expected error for non-http url")
	}
}

func TestWebSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req exaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(exaResponse{Results: []SearchResult{{Title: req.Query, URL: "https://example.com"}}})
	}))
	defer srv.Close()

	s := &WebSearch{APIKey: "k", Endpoint: srv.URL}
	out, err := s.Execute(context.Background(), map[string]any{"query": "golang"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	results := out.(map[string]any)["results"].([]SearchResult)
	if len(results) != 1 || results[0].Title != "golang" {
		t.Errorf("results = %+v", results)
	}

	s.APIKey = "wrong"
	if _, err := s.Execute(context.Background(), map[string]any{"query": "golang"}); err == nil {
		t.Error("expected error on 401")
	}
}

func TestInstantAnswerFallbacks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Abstract":"","AbstractURL":""}`)
	}))
	defer srv.Close()

	out, err := (&InstantAnswer{Endpoint: srv.URL}).Execute(context.Background(), map[string]any{"query": "x"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	m := out.(map[string]any)
	if m["abstract"] != "No summary found." || m["source"] != "https://duckduckgo.com/" {
		t.Errorf("answer = %v", m)
	}
}
