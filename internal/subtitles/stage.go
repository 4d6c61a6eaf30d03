package subtitles

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"subflow/internal/config"
	"subflow/internal/logging"
	"subflow/internal/publisher"
	"subflow/internal/queue"
	"subflow/internal/services"
	"subflow/internal/stage"
)

// Stage writes the final subtitle artifact to the output directory, publishes
// the transcript as an article, and cleans up the job's staging scratch.
type Stage struct {
	cfg       *config.Config
	publisher publisher.Publisher
	logger    *slog.Logger
}

func NewStage(cfg *config.Config, pub publisher.Publisher, logger *slog.Logger) *Stage {
	return &Stage{
		cfg:       cfg,
		publisher: pub,
		logger:    logging.NewComponentLogger(logger, "assemble"),
	}
}

func (s *Stage) Prepare(context.Context, *queue.Job) error { return nil }

func (s *Stage) Execute(ctx context.Context, job *queue.Job) error {
	source := job.SubtitlePath
	if job.TranslatedPath != "" && strings.EqualFold(filepath.Ext(job.TranslatedPath), ".srt") {
		source = job.TranslatedPath
	}
	if source == "" {
		return services.Wrap(services.ErrInvalidInput, "assemble", "execute", "job has no subtitle artifact", nil)
	}

	content, err := os.ReadFile(source)
	if err != nil {
		return services.Wrap(services.ErrInvalidInput, "assemble", "execute", "read subtitle artifact", err)
	}

	// Uploaded VTT converts through the cue parser so the published file is
	// real SRT; formats the parser cannot read (ASS) keep their extension
	// instead of shipping mislabeled bytes.
	ext := strings.ToLower(filepath.Ext(source))
	if ext == "" {
		ext = ".srt"
	}
	if ext != ".srt" {
		if cues, parseErr := Parse(string(content)); parseErr == nil {
			content = []byte(Render(cues))
			ext = ".srt"
		}
	}

	if err := os.MkdirAll(s.cfg.Paths.OutputDir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "assemble", "execute", "create output directory", err)
	}
	resultPath := filepath.Join(s.cfg.Paths.OutputDir, s.outputName(job)+ext)
	if err := os.WriteFile(resultPath, content, 0o644); err != nil {
		return services.Wrap(services.ErrTransient, "assemble", "execute", "write final subtitle", err)
	}
	job.ResultPath = resultPath

	s.publishArticle(ctx, job, string(content))

	// Staging scratch is no longer needed once the artifact is in place.
	if err := os.RemoveAll(s.cfg.JobStagingDir(job.ID)); err != nil {
		s.logger.Warn("staging cleanup failed",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Error(err))
	}
	return nil
}

// publishArticle is fire-and-forget: a Reader outage never fails the job.
func (s *Stage) publishArticle(ctx context.Context, job *queue.Job, subtitleContent string) {
	if s.publisher == nil || !s.publisher.Enabled() {
		return
	}

	body := s.articleBody(job, subtitleContent)
	title := job.Title
	if title == "" {
		title = fmt.Sprintf("Transcript %s", job.CanonicalID)
	}
	articleID, err := s.publisher.Publish(ctx, title, body, publisher.Metadata{
		SourceURL: job.SourceURL,
		Tags:      []string{"subflow", job.Platform},
	})
	if err != nil {
		s.logger.Warn("article publish failed",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Error(err))
		return
	}
	job.ArticleID = articleID
}

// articleBody prefers the translated plain-text artifact when the timed
// replacement was not possible; otherwise it flattens the final subtitle.
func (s *Stage) articleBody(job *queue.Job, subtitleContent string) string {
	if job.TranslatedPath != "" && strings.EqualFold(filepath.Ext(job.TranslatedPath), ".txt") {
		if raw, err := os.ReadFile(job.TranslatedPath); err == nil {
			return string(raw)
		}
	}
	if cues, err := Parse(subtitleContent); err == nil {
		return Flatten(cues)
	}
	return subtitleContent
}

func (s *Stage) outputName(job *queue.Job) string {
	base := job.Title
	if base == "" {
		base = job.CanonicalID
	}
	if base == "" {
		base = fmt.Sprintf("job-%d", job.ID)
	}
	base = sanitizeFilename(base)
	if job.CanonicalID != "" && !strings.Contains(base, job.CanonicalID) {
		base = base + "-" + job.CanonicalID
	}
	return base
}

// sanitizeFilename keeps output names filesystem-safe across platforms.
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-", "\\", "-", ":", "-", "*", "-", "?", "-",
		"\"", "-", "<", "-", ">", "-", "|", "-", "\x00", "-",
	)
	cleaned := strings.TrimSpace(replacer.Replace(name))
	if len(cleaned) > 120 {
		cleaned = cleaned[:120]
	}
	return cleaned
}

func (s *Stage) HealthCheck(_ context.Context) stage.Health {
	if err := os.MkdirAll(s.cfg.Paths.OutputDir, 0o755); err != nil {
		return stage.Unhealthy("assemble", "output directory not writable: "+err.Error())
	}
	return stage.Healthy("assemble")
}
