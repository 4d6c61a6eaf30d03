package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a pipeline job.
type Status string

const (
	StatusQueued             Status = "queued"
	StatusAcquiring          Status = "acquiring_subtitle"
	StatusTranscriptPending  Status = "transcript_pending"
	StatusTranscribing       Status = "transcribing"
	StatusTranslationPending Status = "translation_pending"
	StatusTranslating        Status = "translating"
	StatusAssemblyPending    Status = "assembly_pending"
	StatusAssembling         Status = "assembling"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
)

var allStatuses = []Status{
	StatusQueued,
	StatusAcquiring,
	StatusTranscriptPending,
	StatusTranscribing,
	StatusTranslationPending,
	StatusTranslating,
	StatusAssemblyPending,
	StatusAssembling,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusAcquiring:    {},
	StatusTranscribing: {},
	StatusTranslating:  {},
	StatusAssembling:   {},
}

// Ready status a processing job is rolled back to when the daemon restarts
// mid-stage.
// Ready status to resume from when a failed job is retried, keyed by the
// phase recorded at failure time.
var phaseRetryStatus = map[string]Status{
	"acquire":    StatusQueued,
	"transcribe": StatusTranscriptPending,
	"translate":  StatusTranslationPending,
	"assemble":   StatusAssemblyPending,
}

var processingRollback = map[Status]Status{
	StatusAcquiring:    StatusQueued,
	StatusTranscribing: StatusTranscriptPending,
	StatusTranslating:  StatusTranslationPending,
	StatusAssembling:   StatusAssemblyPending,
}

// Job represents one end-to-end processing request persisted in SQLite.
type Job struct {
	ID              int64
	Fingerprint     string
	SourceURL       string
	SourceFile      string
	Platform        string
	CanonicalID     string
	Title           string
	SourceLanguage  string
	Status          Status
	NeedsTranscribe bool
	AudioPath       string
	SubtitlePath    string
	TranslatedPath  string
	ResultPath      string
	ArticleID       string
	FailedPhase     string
	LastProvider    string
	ErrorMessage    string
	Degraded        bool
	CancelRequested bool
	ChunksDone      int
	ChunksTotal     int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
}

// Snapshot is a derived, read-only progress view of a Job. It is computed on
// demand and never stored.
type Snapshot struct {
	JobID       int64
	Status      Status
	ChunksDone  int
	ChunksTotal int
	Percent     float64
	Elapsed     time.Duration
	Remaining   time.Duration
	Error       string
}

// Snapshot derives the progress view for the job at the supplied time.
// Remaining is a linear estimate from chunk throughput and is zero until at
// least one chunk has finished.
func (j *Job) Snapshot(now time.Time) Snapshot {
	snap := Snapshot{
		JobID:       j.ID,
		Status:      j.Status,
		ChunksDone:  j.ChunksDone,
		ChunksTotal: j.ChunksTotal,
		Error:       j.ErrorMessage,
	}
	start := j.CreatedAt
	if j.StartedAt != nil {
		start = *j.StartedAt
	}
	if !start.IsZero() && now.After(start) {
		snap.Elapsed = now.Sub(start)
	}
	switch {
	case j.Status == StatusCompleted:
		snap.Percent = 100
	case j.ChunksTotal > 0:
		snap.Percent = float64(j.ChunksDone) / float64(j.ChunksTotal) * 100
		if j.ChunksDone > 0 && j.ChunksDone < j.ChunksTotal {
			perChunk := snap.Elapsed / time.Duration(j.ChunksDone)
			snap.Remaining = perChunk * time.Duration(j.ChunksTotal-j.ChunksDone)
		}
	}
	return snap
}

// IsProcessing returns true when the status reflects an in-flight stage.
func (j Job) IsProcessing() bool {
	_, ok := processingStatuses[j.Status]
	return ok
}

// IsTerminal reports whether the job reached a final state.
func (j Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// SetFailed marks the job as failed, recording the phase it failed in.
func (j *Job) SetFailed(phase, provider, message string) {
	j.FailedPhase = phase
	j.LastProvider = provider
	j.ErrorMessage = message
	j.Status = StatusFailed
}

// ResetProgress clears the chunk counters for a new stage.
func (j *Job) ResetProgress(total int) {
	j.ChunksDone = 0
	j.ChunksTotal = total
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessingStatus reports whether a status reflects an in-flight stage.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// HealthSummary describes aggregated queue counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Queued     int
	Processing int
	Failed     int
	Completed  int
}
