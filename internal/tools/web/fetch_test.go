package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetchToolExtractsText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>T</title><script>var x=1;</script></head>` +
			`<body><article><p>Readable body text.</p></article></body></html>`))
	}))
	defer server.Close()

	out, err := NewFetchTool().Run(context.Background(), map[string]any{"url": server.URL}, nil)
	if err != nil {
		t.Fatal(err)
	}
	m := out.(map[string]any)
	if m["status"] != 200 {
		t.Errorf("status = %v", m["status"])
	}
	text := m["text"].(string)
	if !strings.Contains(text, "Readable body text.") {
		t.Errorf("text = %q", text)
	}
	if strings.Contains(text, "var x=1") {
		t.Errorf("script leaked into text: %q", text)
	}
}

func TestFetchToolRequiresURL(t *testing.T) {
	if _, err := NewFetchTool().Run(context.Background(), map[string]any{}, nil); err == nil {
		t.Error("missing url accepted")
	}
}

func TestStripTags(t *testing.T) {
	got := stripTags(`<div>a <b>b</b><style>.x{}</style> c</div>`)
	if got != "a b c" {
		t.Errorf("stripped = %q", got)
	}
}
