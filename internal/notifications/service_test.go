package notifications

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"subflow/internal/config"
)

func TestNoopWhenUnconfigured(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""

	service := NewService(&cfg)
	if err := service.NotifySubtitleReady(context.Background(), "title", "/tmp/out.srt"); err != nil {
		t.Fatalf("noop service returned error: %v", err)
	}
}

func TestNtfySendsHeadersAndBody(t *testing.T) {
	var gotTitle, gotTags, gotPriority, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("Title")
		gotTags = r.Header.Get("Tags")
		gotPriority = r.Header.Get("Priority")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Errors = true

	service := NewService(&cfg)
	err := service.NotifyJobFailed(context.Background(), "My Video", "transcribing", errors.New("all servers down"))
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if gotTitle != "Subflow - Job Failed" {
		t.Fatalf("title = %q", gotTitle)
	}
	if gotTags != "subflow,failed" {
		t.Fatalf("tags = %q", gotTags)
	}
	if gotPriority != "high" {
		t.Fatalf("priority = %q", gotPriority)
	}
	if gotBody == "" || !strings.Contains(gotBody, "transcribing") || !strings.Contains(gotBody, "all servers down") {
		t.Fatalf("body = %q", gotBody)
	}
}

func TestJobEventsGate(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.JobEvents = false

	service := NewService(&cfg)
	if err := service.NotifyJobQueued(context.Background(), "title"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if called {
		t.Fatal("job event sent despite job_events disabled")
	}
}
