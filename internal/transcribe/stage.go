package transcribe

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"subflow/internal/chunking"
	"subflow/internal/config"
	"subflow/internal/logging"
	"subflow/internal/providers"
	"subflow/internal/queue"
	"subflow/internal/services"
	"subflow/internal/stage"
	"subflow/internal/subtitles"
)

// AudioPreparer cuts planned chunk ranges from a source recording.
// *videosource.Service satisfies it.
type AudioPreparer interface {
	ProbeDuration(ctx context.Context, path string) (time.Duration, error)
	CutChunk(ctx context.Context, audioPath string, chunk chunking.AudioChunk, destDir string) (string, error)
}

// Stage turns a job's audio into a timed transcript.
type Stage struct {
	cfg    *config.Config
	engine *Engine
	pool   *providers.Pool
	audio  AudioPreparer
	store  *queue.Store
	logger *slog.Logger
}

func NewStage(cfg *config.Config, engine *Engine, pool *providers.Pool, audio AudioPreparer, store *queue.Store, logger *slog.Logger) *Stage {
	return &Stage{
		cfg:    cfg,
		engine: engine,
		pool:   pool,
		audio:  audio,
		store:  store,
		logger: logging.NewComponentLogger(logger, "transcribe"),
	}
}

// Prepare probes the configured servers so a dead fleet fails fast instead
// of burning chunk uploads.
func (s *Stage) Prepare(ctx context.Context, job *queue.Job) error {
	return s.engine.HealthCheck(ctx, job.ID)
}

func (s *Stage) Execute(ctx context.Context, job *queue.Job) error {
	defer s.pool.Reset(job.ID)

	if job.AudioPath == "" {
		return services.Wrap(services.ErrInvalidInput, "transcribe", "execute", "job has no audio to transcribe", nil)
	}

	duration, err := s.audio.ProbeDuration(ctx, job.AudioPath)
	if err != nil {
		return err
	}
	plan, err := chunking.PlanAudio(duration, time.Duration(s.cfg.Transcription.ChunkSeconds)*time.Second)
	if err != nil {
		return err
	}

	chunkDir := filepath.Join(s.cfg.JobStagingDir(job.ID), "chunks")
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "transcribe", "execute", "create chunk directory", err)
	}

	chunks := make([]Chunk, len(plan))
	for i, planned := range plan {
		path, cutErr := s.audio.CutChunk(ctx, job.AudioPath, planned, chunkDir)
		if cutErr != nil {
			return cutErr
		}
		chunks[i] = Chunk{Index: planned.Index, Path: path, Start: planned.Start, End: planned.End}
	}

	job.ChunksDone = 0
	job.ChunksTotal = len(chunks)
	if err := s.store.UpdateProgress(ctx, job.ID, 0, len(chunks)); err != nil {
		s.logger.Warn("progress update failed", logging.Error(err))
	}

	segments, err := s.engine.Transcribe(ctx, job.ID, chunks, func(done, total int) {
		job.ChunksDone = done
		if progressErr := s.store.UpdateProgress(ctx, job.ID, done, total); progressErr != nil {
			s.logger.Warn("progress update failed", logging.Error(progressErr))
		}
	})
	if err != nil {
		return err
	}

	timed := make([]subtitles.Timed, len(segments))
	for i, segment := range segments {
		timed[i] = subtitles.Timed{Start: segment.Start, End: segment.End, Text: segment.Text}
	}
	cues := subtitles.FromSegments(timed)
	if len(cues) == 0 {
		return services.Wrap(services.ErrInvalidInput, "transcribe", "execute", "transcription produced no text", nil)
	}

	transcriptPath := filepath.Join(s.cfg.JobStagingDir(job.ID), "transcript.srt")
	if err := os.WriteFile(transcriptPath, []byte(subtitles.Render(cues)), 0o644); err != nil {
		return services.Wrap(services.ErrTransient, "transcribe", "execute", "write transcript", err)
	}
	job.SubtitlePath = transcriptPath
	return nil
}

func (s *Stage) HealthCheck(_ context.Context) stage.Health {
	if len(s.pool.Candidates(providers.CapabilityTranscription, 0)) == 0 {
		return stage.Unhealthy("transcribe", "no enabled transcription servers configured")
	}
	return stage.Healthy("transcribe")
}
