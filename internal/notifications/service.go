// Package notifications pushes job lifecycle events to an ntfy topic.
// Unconfigured deployments get a noop implementation so callers never need a
// nil check.
package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"subflow/internal/config"
)

const userAgent = "Subflow/0.1.0"

// Service is the notification surface exposed to the workflow.
type Service interface {
	NotifyJobQueued(ctx context.Context, title string) error
	NotifySubtitleReady(ctx context.Context, title, resultPath string) error
	NotifyJobFailed(ctx context.Context, title, phase string, cause error) error
	NotifyDegraded(ctx context.Context, title string) error
	TestNotification(ctx context.Context) error
}

// NewService builds an ntfy-backed service, or a noop when no topic is set.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		jobEvents: cfg.Notifications.JobEvents,
		errors:    cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	jobEvents bool
	errors    bool
}

func (n *ntfyService) NotifyJobQueued(ctx context.Context, title string) error {
	if !n.jobEvents {
		return nil
	}
	return n.send(ctx, payload{
		title:   "Subflow - Queued",
		message: fmt.Sprintf("Queued: %s", strings.TrimSpace(title)),
		tags:    []string{"subflow", "queued"},
	})
}

func (n *ntfyService) NotifySubtitleReady(ctx context.Context, title, resultPath string) error {
	if !n.jobEvents {
		return nil
	}
	return n.send(ctx, payload{
		title:   "Subflow - Subtitle Ready",
		message: fmt.Sprintf("Completed: %s\n%s", strings.TrimSpace(title), resultPath),
		tags:    []string{"subflow", "completed"},
	})
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, title, phase string, cause error) error {
	if !n.errors {
		return nil
	}
	message := fmt.Sprintf("Failed during %s: %s", phase, strings.TrimSpace(title))
	if cause != nil {
		message += "\n" + cause.Error()
	}
	return n.send(ctx, payload{
		title:    "Subflow - Job Failed",
		message:  message,
		tags:     []string{"subflow", "failed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyDegraded(ctx context.Context, title string) error {
	if !n.jobEvents {
		return nil
	}
	return n.send(ctx, payload{
		title:   "Subflow - Degraded Result",
		message: fmt.Sprintf("Completed untranslated: %s", strings.TrimSpace(title)),
		tags:    []string{"subflow", "degraded"},
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:   "Subflow - Test",
		message: "Notifications are working.",
		tags:    []string{"subflow", "test"},
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobQueued(context.Context, string) error                { return nil }
func (noopService) NotifySubtitleReady(context.Context, string, string) error   { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string, error) error { return nil }
func (noopService) NotifyDegraded(context.Context, string) error                 { return nil }
func (noopService) TestNotification(context.Context) error                       { return nil }
