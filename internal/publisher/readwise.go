// Package publisher saves finished transcripts to Readwise Reader. Publishing
// is fire-and-forget from the pipeline's perspective: failures are logged and
// the job still completes.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"subflow/internal/config"
	"subflow/internal/logging"
	"subflow/internal/services"
)

// Metadata describes the article being saved.
type Metadata struct {
	SourceURL string
	Author    string
	Tags      []string
}

// Publisher saves articles somewhere external.
type Publisher interface {
	// Publish saves one article and returns its external id. Never fatal to
	// the pipeline; the caller logs and moves on.
	Publish(ctx context.Context, title, body string, meta Metadata) (string, error)
	Enabled() bool
}

// NewReadwise builds a Reader API client, or a disabled publisher when no
// token is configured.
func NewReadwise(cfg *config.Config, logger *slog.Logger) Publisher {
	token := strings.TrimSpace(cfg.Readwise.Token)
	if !cfg.Readwise.Enabled || token == "" {
		return disabledPublisher{}
	}
	timeout := time.Duration(cfg.Readwise.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &readwisePublisher{
		baseURL: strings.TrimRight(cfg.Readwise.BaseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  logging.NewComponentLogger(logger, "publisher"),
	}
}

type readwisePublisher struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

func (p *readwisePublisher) Enabled() bool { return true }

type saveRequest struct {
	URL      string   `json:"url"`
	HTML     string   `json:"html,omitempty"`
	Title    string   `json:"title,omitempty"`
	Author   string   `json:"author,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Category string   `json:"category,omitempty"`
}

type saveResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (p *readwisePublisher) Publish(ctx context.Context, title, body string, meta Metadata) (string, error) {
	payload, err := json.Marshal(saveRequest{
		URL:      meta.SourceURL,
		HTML:     renderHTML(title, body),
		Title:    title,
		Author:   meta.Author,
		Tags:     meta.Tags,
		Category: "article",
	})
	if err != nil {
		return "", services.Wrap(services.ErrTerminal, "publisher", "publish", "encode save request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/save/", bytes.NewReader(payload))
	if err != nil {
		return "", services.Wrap(services.ErrTerminal, "publisher", "publish", "build save request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "publisher", "publish", "save request failed", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "publisher", "publish", "read save response", err)
	}
	if err := services.ClassifyHTTPStatus(resp.StatusCode); err != nil {
		return "", services.Wrap(err, "publisher", "publish",
			fmt.Sprintf("reader api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(responseBody))), nil)
	}

	var decoded saveResponse
	if err := json.Unmarshal(responseBody, &decoded); err != nil {
		return "", services.Wrap(services.ErrTransient, "publisher", "publish", "decode save response", err)
	}
	if decoded.ID == "" {
		decoded.ID = decoded.URL
	}
	p.logger.Info("article published", logging.String("article_id", decoded.ID))
	return decoded.ID, nil
}

// renderHTML wraps the transcript body in minimal paragraph markup so Reader
// preserves line structure.
func renderHTML(title, body string) string {
	var sb strings.Builder
	sb.WriteString("<article><h1>")
	sb.WriteString(htmlEscape(title))
	sb.WriteString("</h1>")
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		sb.WriteString("<p>")
		sb.WriteString(htmlEscape(line))
		sb.WriteString("</p>")
	}
	sb.WriteString("</article>")
	return sb.String()
}

func htmlEscape(s string) string {
	replacer := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return replacer.Replace(s)
}

type disabledPublisher struct{}

func (disabledPublisher) Enabled() bool { return false }

func (disabledPublisher) Publish(context.Context, string, string, Metadata) (string, error) {
	return "", nil
}
