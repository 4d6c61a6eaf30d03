package translate

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/language"

	"subflow/internal/chunking"
	"subflow/internal/config"
	"subflow/internal/logging"
	"subflow/internal/providers"
	"subflow/internal/queue"
	"subflow/internal/services"
	"subflow/internal/stage"
	"subflow/internal/subtitles"
)

// Stage translates a job's subtitle text into the target language. The stage
// is skipped when translation is disabled or the source already matches the
// target; exhaustion becomes a degraded completion when configured to allow
// it.
type Stage struct {
	cfg    *config.Config
	engine *Engine
	pool   *providers.Pool
	store  *queue.Store
	logger *slog.Logger
}

func NewStage(cfg *config.Config, engine *Engine, pool *providers.Pool, store *queue.Store, logger *slog.Logger) *Stage {
	return &Stage{
		cfg:    cfg,
		engine: engine,
		pool:   pool,
		store:  store,
		logger: logging.NewComponentLogger(logger, "translate"),
	}
}

func (s *Stage) Prepare(context.Context, *queue.Job) error { return nil }

func (s *Stage) Execute(ctx context.Context, job *queue.Job) error {
	if !s.cfg.Translation.Enabled {
		s.logger.Info("translation disabled, passing through", logging.Int64(logging.FieldJobID, job.ID))
		return nil
	}
	if sameLanguage(job.SourceLanguage, s.cfg.Translation.TargetLanguage) {
		s.logger.Info("source already in target language, passing through",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String("language", job.SourceLanguage))
		return nil
	}
	if job.SubtitlePath == "" {
		return services.Wrap(services.ErrInvalidInput, "translate", "execute", "job has no subtitle to translate", nil)
	}

	raw, err := os.ReadFile(job.SubtitlePath)
	if err != nil {
		return services.Wrap(services.ErrInvalidInput, "translate", "execute", "read subtitle source", err)
	}

	var cues []subtitles.Cue
	text := string(raw)
	if subtitles.HasCueFormat(job.SubtitlePath) {
		cues, err = subtitles.Parse(text)
		if err != nil {
			return err
		}
		text = subtitles.Flatten(cues)
	}

	chunks, err := chunking.SplitText(text, chunking.TextOptions{
		Target: s.cfg.Translation.ChunkSize,
		Min:    s.cfg.Translation.MinChunkSize,
		Max:    s.cfg.Translation.MaxChunkSize,
	})
	if err != nil {
		return err
	}

	job.ChunksDone = 0
	job.ChunksTotal = len(chunks)
	outcome, err := s.engine.Translate(ctx, job.ID, chunks, job.SourceLanguage, s.cfg.Translation.TargetLanguage,
		func(done, total int) {
			job.ChunksDone = done
			if progressErr := s.store.UpdateProgress(ctx, job.ID, done, total); progressErr != nil {
				s.logger.Warn("progress update failed", logging.Error(progressErr))
			}
		})
	if err != nil {
		if errors.Is(err, services.ErrExhausted) && s.cfg.Translation.AllowDegraded {
			s.logger.Warn("translation exhausted, completing with untranslated text",
				logging.Int64(logging.FieldJobID, job.ID),
				logging.Error(err))
			job.Degraded = true
			return nil
		}
		return err
	}

	assembled := Assemble(outcome.Segments)
	jobDir := s.cfg.JobStagingDir(job.ID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "translate", "execute", "create staging directory", err)
	}

	// Timed output needs one translated line per cue. Providers usually
	// preserve line breaks; when they do not, fall back to a plain-text
	// artifact and keep the original timing file for the subtitle.
	if cues != nil {
		lines := strings.Split(assembled, "\n")
		if replaced, replaceErr := subtitles.ReplaceText(cues, lines); replaceErr == nil {
			path := filepath.Join(jobDir, "translated.srt")
			if err := os.WriteFile(path, []byte(subtitles.Render(replaced)), 0o644); err != nil {
				return services.Wrap(services.ErrTransient, "translate", "execute", "write translated subtitle", err)
			}
			job.TranslatedPath = path
			return nil
		}
		s.logger.Warn("translated line count diverged from cue count, writing plain text",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Int("cues", len(cues)),
			logging.Int("lines", len(lines)))
	}

	path := filepath.Join(jobDir, "translated.txt")
	if err := os.WriteFile(path, []byte(assembled), 0o644); err != nil {
		return services.Wrap(services.ErrTransient, "translate", "execute", "write translated text", err)
	}
	job.TranslatedPath = path
	return nil
}

func (s *Stage) HealthCheck(_ context.Context) stage.Health {
	if !s.cfg.Translation.Enabled {
		return stage.Healthy("translate")
	}
	if len(s.pool.Candidates(providers.CapabilityTranslation, 0)) == 0 {
		return stage.Unhealthy("translate", "translation enabled but no providers available")
	}
	return stage.Healthy("translate")
}

// sameLanguage compares base languages so "en-US" matches "en". Unparseable
// tags compare literally.
func sameLanguage(source, target string) bool {
	source = strings.TrimSpace(source)
	target = strings.TrimSpace(target)
	if source == "" || target == "" {
		return false
	}
	sourceTag, sourceErr := language.Parse(source)
	targetTag, targetErr := language.Parse(target)
	if sourceErr != nil || targetErr != nil {
		return strings.EqualFold(source, target)
	}
	sourceBase, _ := sourceTag.Base()
	targetBase, _ := targetTag.Base()
	return sourceBase == targetBase
}
