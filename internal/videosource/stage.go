package videosource

import (
	"context"
	"log/slog"
	"os"
	"os/exec"

	"subflow/internal/config"
	"subflow/internal/logging"
	"subflow/internal/queue"
	"subflow/internal/services"
	"subflow/internal/stage"
)

// Stage acquires the subtitle source for a job: the platform-native subtitle
// track when one exists in a preferred language (the fast path that skips
// transcription entirely), otherwise the audio stream for ASR.
type Stage struct {
	cfg     *config.Config
	service *Service
	logger  *slog.Logger
}

func NewStage(cfg *config.Config, service *Service, logger *slog.Logger) *Stage {
	return &Stage{
		cfg:     cfg,
		service: service,
		logger:  logging.NewComponentLogger(logger, "acquire"),
	}
}

func (s *Stage) Prepare(_ context.Context, job *queue.Job) error {
	return os.MkdirAll(s.cfg.JobStagingDir(job.ID), 0o755)
}

func (s *Stage) Execute(ctx context.Context, job *queue.Job) error {
	if job.SourceURL == "" {
		return services.Wrap(services.ErrInvalidInput, "acquire", "execute", "job has no source url", nil)
	}

	res, err := s.service.Resolve(ctx, job.SourceURL)
	if err != nil {
		return err
	}
	job.Platform = res.Platform
	job.CanonicalID = res.CanonicalID
	if res.Title != "" {
		job.Title = res.Title
	}
	job.SourceLanguage = res.SourceLanguage

	jobDir := s.cfg.JobStagingDir(job.ID)
	if lang, ok := res.NativeSubtitleFor(s.cfg.Source.SubtitleLanguages); ok {
		path, dlErr := s.service.DownloadSubtitle(ctx, job.SourceURL, lang, jobDir)
		if dlErr == nil {
			s.logger.Info("native subtitle acquired",
				logging.Int64(logging.FieldJobID, job.ID),
				logging.String("language", lang))
			job.SubtitlePath = path
			job.NeedsTranscribe = false
			job.Status = queue.StatusTranslationPending
			return nil
		}
		s.logger.Warn("native subtitle download failed, falling back to transcription",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Error(dlErr))
	}

	audioPath, err := s.service.DownloadAudio(ctx, job.SourceURL, jobDir)
	if err != nil {
		return err
	}
	job.AudioPath = audioPath
	job.NeedsTranscribe = true
	return nil
}

func (s *Stage) HealthCheck(_ context.Context) stage.Health {
	if _, err := exec.LookPath(s.cfg.Source.YtDlpBinary); err != nil {
		return stage.Unhealthy("acquire", "yt-dlp binary not found: "+s.cfg.Source.YtDlpBinary)
	}
	if _, err := exec.LookPath(s.cfg.Source.FFmpegBinary); err != nil {
		return stage.Unhealthy("acquire", "ffmpeg binary not found: "+s.cfg.Source.FFmpegBinary)
	}
	return stage.Healthy("acquire")
}
