package publisher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"subflow/internal/config"
	"subflow/internal/logging"
)

func TestDisabledWithoutToken(t *testing.T) {
	cfg := config.Default()
	cfg.Readwise.Enabled = true
	cfg.Readwise.Token = ""

	pub := NewReadwise(&cfg, logging.NewNop())
	if pub.Enabled() {
		t.Fatal("publisher must be disabled without a token")
	}
	id, err := pub.Publish(context.Background(), "t", "b", Metadata{})
	if err != nil || id != "" {
		t.Fatalf("disabled publish: id=%q err=%v", id, err)
	}
}

func TestPublishSendsSaveRequest(t *testing.T) {
	var gotAuth string
	var gotBody saveRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/save/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "doc-123"})
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Readwise.Enabled = true
	cfg.Readwise.Token = "secret"
	cfg.Readwise.BaseURL = server.URL

	pub := NewReadwise(&cfg, logging.NewNop())
	id, err := pub.Publish(context.Background(), "My <Video>", "line one\nline two", Metadata{
		SourceURL: "https://youtube.com/watch?v=abc",
		Tags:      []string{"subtitles"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if id != "doc-123" {
		t.Fatalf("id = %q", id)
	}
	if gotAuth != "Token secret" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotBody.URL != "https://youtube.com/watch?v=abc" || gotBody.Category != "article" {
		t.Fatalf("request body: %+v", gotBody)
	}
	if !strings.Contains(gotBody.HTML, "&lt;Video&gt;") {
		t.Fatalf("title not escaped: %q", gotBody.HTML)
	}
	if !strings.Contains(gotBody.HTML, "<p>line two</p>") {
		t.Fatalf("body lines not wrapped: %q", gotBody.HTML)
	}
}
