package workflow

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"subflow/internal/logging"
	"subflow/internal/notifications"
	"subflow/internal/queue"
	"subflow/internal/services"
	"subflow/internal/videosource"
)

// subtitleExtensions are uploads that skip straight to translation.
var subtitleExtensions = map[string]struct{}{
	".srt": {}, ".vtt": {}, ".ass": {},
}

// audioExtensions are uploads that start at transcription.
var audioExtensions = map[string]struct{}{
	".wav": {}, ".mp3": {}, ".m4a": {}, ".flac": {}, ".ogg": {}, ".opus": {},
}

// Submitter is the queue-facing entry point shared by the CLI and daemon.
type Submitter struct {
	store    *queue.Store
	notifier notifications.Service
	logger   *slog.Logger
}

func NewSubmitter(store *queue.Store, notifier notifications.Service, logger *slog.Logger) *Submitter {
	return &Submitter{
		store:    store,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "submit"),
	}
}

// SubmitURL enqueues a video URL. Duplicate submissions attach to the
// existing job: the second caller receives the first job's record and no new
// download starts.
func (s *Submitter) SubmitURL(ctx context.Context, rawURL string) (*queue.Job, bool, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, false, services.Wrap(services.ErrInvalidInput, "submit", "submit_url", "url must not be empty", nil)
	}

	platform, canonicalID := videosource.DetectPlatform(rawURL)
	var fingerprint string
	if canonicalID != "" {
		fingerprint = queue.Fingerprint(platform, canonicalID)
	} else {
		// Unknown hosts dedupe on the normalized URL until the probe fills
		// in real identity during acquisition.
		fingerprint = queue.Fingerprint("url", strings.TrimRight(rawURL, "/"))
	}

	if existing, err := s.store.FindByFingerprint(ctx, fingerprint); err != nil {
		return nil, false, err
	} else if existing != nil {
		s.logger.Info("duplicate submission attached to existing job",
			logging.Int64(logging.FieldJobID, existing.ID),
			logging.String("status", string(existing.Status)))
		return existing, false, nil
	}

	job, err := s.store.NewURLJob(ctx, rawURL, platform, canonicalID, fingerprint)
	if err != nil {
		return nil, false, err
	}
	if s.notifier != nil {
		if notifyErr := s.notifier.NotifyJobQueued(ctx, rawURL); notifyErr != nil {
			s.logger.Warn("queued notification not delivered", logging.Error(notifyErr))
		}
	}
	return job, true, nil
}

// SubmitFile enqueues an uploaded subtitle or audio file. Subtitle files skip
// to translation; audio files start at transcription.
func (s *Submitter) SubmitFile(ctx context.Context, path string) (*queue.Job, bool, error) {
	ext := strings.ToLower(filepath.Ext(path))
	var initial queue.Status
	switch {
	case hasExt(subtitleExtensions, ext):
		initial = queue.StatusTranslationPending
	case hasExt(audioExtensions, ext):
		initial = queue.StatusTranscriptPending
	default:
		return nil, false, services.Wrap(services.ErrInvalidInput, "submit", "submit_file",
			"unsupported file type "+ext, nil)
	}

	fingerprint, err := queue.FileFingerprint(path)
	if err != nil {
		return nil, false, services.Wrap(services.ErrInvalidInput, "submit", "submit_file", "fingerprint file", err)
	}

	if existing, findErr := s.store.FindByFingerprint(ctx, fingerprint); findErr != nil {
		return nil, false, findErr
	} else if existing != nil {
		return existing, false, nil
	}

	job, err := s.store.NewFileJob(ctx, path, fingerprint, initial)
	if err != nil {
		return nil, false, err
	}
	if initial == queue.StatusTranscriptPending {
		job.NeedsTranscribe = true
		job.AudioPath = path
	} else {
		job.SubtitlePath = path
	}
	if err := s.store.Update(ctx, job); err != nil {
		return nil, false, err
	}
	if s.notifier != nil {
		if notifyErr := s.notifier.NotifyJobQueued(ctx, filepath.Base(path)); notifyErr != nil {
			s.logger.Warn("queued notification not delivered", logging.Error(notifyErr))
		}
	}
	return job, true, nil
}

func hasExt(set map[string]struct{}, ext string) bool {
	_, ok := set[ext]
	return ok
}
