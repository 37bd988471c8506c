package modelmeta

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/kalambet/catforge/internal/catalog"
)

type stubSearcher struct {
	mu      sync.Mutex
	queries []string
	result  string
}

func (s *stubSearcher) Search(_ context.Context, query string) string {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	return s.result
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func modelRecord() catalog.Record {
	return catalog.Record{ID: "qwen3-32b", Name: "Qwen3 32B", Provider: "alibaba"}
}

func finalAnswer(body string) string {
	resp, _ := json.Marshal(map[string]any{
		"message": map[string]any{"role": "assistant", "content": body},
	})
	return string(resp)
}

func toolCallAnswer(query string) string {
	resp, _ := json.Marshal(map[string]any{
		"message": map[string]any{
			"role":    "assistant",
			"content": "",
			"tool_calls": []map[string]any{
				{"function": map[string]any{
					"name":      "web_search",
					"arguments": map[string]any{"query": query},
				}},
			},
		},
	})
	return string(resp)
}

const validDescriptor = `{
	"id": "qwen3-32b",
	"name": "Qwen3 32B",
	"source": "alibaba",
	"ownedBy": "Alibaba",
	"task": "chat",
	"description": "A 32B parameter open-weight chat model with strong reasoning.",
	"contextLength": 131072,
	"maxOutputTokens": 8192,
	"pricing": {"input": 0.4, "output": 0.8, "provider": "openrouter"},
	"capabilities": ["tools", "reasoning"],
	"inputModalities": ["text"],
	"outputModalities": ["text"]
}`

func TestCompileWithSearchTurn(t *testing.T) {
	var turns []chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		turns = append(turns, req)
		if len(turns) == 1 {
			io.WriteString(w, toolCallAnswer("qwen3-32b pricing context length"))
			return
		}
		io.WriteString(w, finalAnswer(validDescriptor))
	}))
	defer srv.Close()

	search := &stubSearcher{result: "Qwen3 32B: 131072 context, $0.40/M input"}
	c := NewCompiler(srv.URL, search, quietLogger())

	info := c.Compile(context.Background(), modelRecord(), GatewayBackends[0])
	if info == nil {
		t.Fatal("Compile returned nil")
	}
	if info.ContextLength != 131072 || info.Pricing == nil || info.Pricing.Input != 0.4 {
		t.Errorf("descriptor = %+v", info)
	}
	if len(search.queries) != 1 || search.queries[0] != "qwen3-32b pricing context length" {
		t.Errorf("search queries = %v", search.queries)
	}

	if len(turns) != 2 {
		t.Fatalf("turns = %d", len(turns))
	}
	second := turns[1].Messages
	last := second[len(second)-1]
	if last.Role != "tool" || !strings.Contains(last.Content, "131072") {
		t.Errorf("tool result message = %+v", last)
	}
	if len(turns[0].Tools) != 1 || turns[0].Tools[0].Function.Name != "web_search" {
		t.Errorf("tool spec = %+v", turns[0].Tools)
	}
}

func TestCompileTruncatesToolResultOnRunes(t *testing.T) {
	var turns []chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		turns = append(turns, req)
		if len(turns) == 1 {
			io.WriteString(w, toolCallAnswer("qwen3-32b pricing"))
			return
		}
		io.WriteString(w, finalAnswer(validDescriptor))
	}))
	defer srv.Close()

	// Oversized multibyte snippet: the cap is in characters and must not
	// cut a rune in half.
	search := &stubSearcher{result: strings.Repeat("億", toolResultLimit+100)}
	c := NewCompiler(srv.URL, search, quietLogger())

	if info := c.Compile(context.Background(), modelRecord(), GatewayBackends[0]); info == nil {
		t.Fatal("Compile returned nil")
	}
	if len(turns) != 2 {
		t.Fatalf("turns = %d", len(turns))
	}
	msgs := turns[1].Messages
	last := msgs[len(msgs)-1]
	if last.Role != "tool" {
		t.Fatalf("last message = %+v", last)
	}
	if !utf8.ValidString(last.Content) {
		t.Error("tool result is not valid UTF-8 after truncation")
	}
	if n := utf8.RuneCountInString(last.Content); n != toolResultLimit {
		t.Errorf("tool result runes = %d, want %d", n, toolResultLimit)
	}
}

func TestCompileBackfillsIDAndSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, finalAnswer(`{"id": "", "name": "Qwen3 32B", "contextLength": 131072}`))
	}))
	defer srv.Close()

	c := NewCompiler(srv.URL, &stubSearcher{}, quietLogger())
	info := c.Compile(context.Background(), modelRecord(), GatewayBackends[0])
	if info == nil {
		t.Fatal("Compile returned nil")
	}
	if info.ID != "qwen3-32b" || info.Source != "alibaba" {
		t.Errorf("backfill = %q/%q", info.ID, info.Source)
	}
}

func TestCompileRejectsIncompleteDescriptor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, finalAnswer(`{"id": "qwen3-32b", "name": "Qwen3 32B"}`))
	}))
	defer srv.Close()

	c := NewCompiler(srv.URL, &stubSearcher{}, quietLogger())
	if info := c.Compile(context.Background(), modelRecord(), GatewayBackends[0]); info != nil {
		t.Errorf("descriptor without contextLength accepted: %+v", info)
	}
}

func TestCompileTurnLimit(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		io.WriteString(w, toolCallAnswer("still searching"))
	}))
	defer srv.Close()

	c := NewCompiler(srv.URL, &stubSearcher{result: "nothing useful"}, quietLogger())
	if info := c.Compile(context.Background(), modelRecord(), GatewayBackends[0]); info != nil {
		t.Errorf("expected nil after exhausting turns, got %+v", info)
	}
	if requests != maxToolTurns {
		t.Errorf("requests = %d, want %d", requests, maxToolTurns)
	}
}

func TestCompileGatewayErrorIsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewCompiler(srv.URL, &stubSearcher{}, quietLogger())
	if info := c.Compile(context.Background(), modelRecord(), GatewayBackends[0]); info != nil {
		t.Errorf("expected nil on gateway error, got %+v", info)
	}
}

func TestParseModelJSON(t *testing.T) {
	fenced := "Here you go:\n```json\n" + `{"id": "m", "name": "M", "contextLength": 8192}` + "\n```"
	if info := parseModelJSON(fenced); info == nil || info.ContextLength != 8192 {
		t.Errorf("fenced parse = %+v", info)
	}

	wrapped := `Sure! {"id": "m", "name": "M", "contextLength": 8192} hope that helps`
	if info := parseModelJSON(wrapped); info == nil || info.ID != "m" {
		t.Errorf("wrapped parse = %+v", info)
	}

	if info := parseModelJSON("no json here"); info != nil {
		t.Errorf("parse of plain text = %+v", info)
	}
}
