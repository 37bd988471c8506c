package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSearch_ExtractsVisibleText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if q := r.Form.Get("q"); q != "qwen3-32b pricing" {
			t.Errorf("q = %q", q)
		}
		w.Write([]byte(`<html><head><style>body{color:red}</style>
			<script>var hidden = "secret";</script></head>
			<body><h1>Qwen3 32B</h1><p>Input $0.10 per 1M tokens.</p></body></html>`))
	}))
	defer srv.Close()

	c := NewClientWithEndpoint(srv.URL)
	text := c.Search(context.Background(), "qwen3-32b pricing")

	if !strings.Contains(text, "Qwen3 32B") || !strings.Contains(text, "per 1M tokens") {
		t.Errorf("text = %q, want visible content", text)
	}
	if strings.Contains(text, "secret") || strings.Contains(text, "color:red") {
		t.Errorf("text = %q, script/style content should be skipped", text)
	}
}

func TestSearch_CapsSnippet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>" + strings.Repeat("word ", 2000) + "</body></html>"))
	}))
	defer srv.Close()

	c := NewClientWithEndpoint(srv.URL)
	if text := c.Search(context.Background(), "anything"); len(text) > 4000 {
		t.Errorf("len(text) = %d, want <= 4000", len(text))
	}
}

func TestSearch_FailureIsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClientWithEndpoint(srv.URL)
	if text := c.Search(context.Background(), "anything"); !strings.HasPrefix(text, "Search failed") {
		t.Errorf("text = %q, want failure description", text)
	}
}
