package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenPath(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewURLJobAndFetch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, err := store.NewURLJob(ctx, "https://youtube.com/watch?v=abc123", "youtube", "abc123", Fingerprint("youtube", "abc123"))
	if err != nil {
		t.Fatalf("new url job: %v", err)
	}
	if job.Status != StatusQueued {
		t.Fatalf("expected queued, got %s", job.Status)
	}
	if job.ID == 0 {
		t.Fatal("expected assigned id")
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if fetched == nil || fetched.SourceURL != job.SourceURL {
		t.Fatalf("fetched job mismatch: %+v", fetched)
	}
}

func TestFingerprintUniquenessRejectsDuplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fp := Fingerprint("bilibili", "BV1xx411c7mD")
	if _, err := store.NewURLJob(ctx, "https://www.bilibili.com/video/BV1xx411c7mD", "bilibili", "BV1xx411c7mD", fp); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := store.NewURLJob(ctx, "https://b23.tv/BV1xx411c7mD", "bilibili", "BV1xx411c7mD", fp); err == nil {
		t.Fatal("expected unique constraint violation for duplicate fingerprint")
	}

	existing, err := store.FindByFingerprint(ctx, fp)
	if err != nil {
		t.Fatalf("find by fingerprint: %v", err)
	}
	if existing == nil {
		t.Fatal("expected existing job for fingerprint")
	}
}

func TestTransitionIfStatusClaimsOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, err := store.NewURLJob(ctx, "https://youtube.com/watch?v=claim", "youtube", "claim", Fingerprint("youtube", "claim"))
	if err != nil {
		t.Fatalf("new job: %v", err)
	}

	claimed, err := store.TransitionIfStatus(ctx, job.ID, StatusQueued, StatusAcquiring)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if !claimed {
		t.Fatal("expected first claim to succeed")
	}

	claimed, err = store.TransitionIfStatus(ctx, job.ID, StatusQueued, StatusAcquiring)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed {
		t.Fatal("expected second claim to lose the race")
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if fetched.StartedAt == nil {
		t.Fatal("expected started_at to be set on first claim")
	}
}

func TestNextReadyReturnsOldest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.NewURLJob(ctx, "https://youtube.com/watch?v=first", "youtube", "first", Fingerprint("youtube", "first"))
	if err != nil {
		t.Fatalf("insert first: %v", err)
	}
	if _, err := store.NewURLJob(ctx, "https://youtube.com/watch?v=second", "youtube", "second", Fingerprint("youtube", "second")); err != nil {
		t.Fatalf("insert second: %v", err)
	}

	next, err := store.NextReady(ctx, StatusQueued)
	if err != nil {
		t.Fatalf("next ready: %v", err)
	}
	if next == nil || next.ID != first.ID {
		t.Fatalf("expected oldest job %d, got %+v", first.ID, next)
	}
}

func TestResetStuckProcessing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, err := store.NewURLJob(ctx, "https://youtube.com/watch?v=stuck", "youtube", "stuck", Fingerprint("youtube", "stuck"))
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	job.Status = StatusTranscribing
	job.ChunksDone = 3
	job.ChunksTotal = 10
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("update: %v", err)
	}

	reset, err := store.ResetStuckProcessing(ctx)
	if err != nil {
		t.Fatalf("reset stuck: %v", err)
	}
	if reset != 1 {
		t.Fatalf("expected 1 reset job, got %d", reset)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if fetched.Status != StatusTranscriptPending {
		t.Fatalf("expected transcript_pending after reset, got %s", fetched.Status)
	}
}

func TestPurgeTerminalBefore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, err := store.NewURLJob(ctx, "https://youtube.com/watch?v=old", "youtube", "old", Fingerprint("youtube", "old"))
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	job.Status = StatusCompleted
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("update: %v", err)
	}

	purged, err := store.PurgeTerminalBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged job, got %d", purged)
	}
	remaining, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if remaining != nil {
		t.Fatal("expected job to be purged")
	}
}

func TestFileJobStartsAtDeclaredStage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, err := store.NewFileJob(ctx, "/tmp/uploads/lecture.srt", "filefp1", StatusTranslationPending)
	if err != nil {
		t.Fatalf("new file job: %v", err)
	}
	if job.Status != StatusTranslationPending {
		t.Fatalf("expected translation_pending, got %s", job.Status)
	}
	if job.Title != "lecture" {
		t.Fatalf("expected inferred title, got %q", job.Title)
	}

	if _, err := store.NewFileJob(ctx, "/tmp/uploads/audio.wav", "filefp2", StatusCompleted); err == nil {
		t.Fatal("expected rejection of terminal initial status")
	}
}

func TestHealthCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	queued, err := store.NewURLJob(ctx, "https://youtube.com/watch?v=h1", "youtube", "h1", Fingerprint("youtube", "h1"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	_ = queued

	working, err := store.NewURLJob(ctx, "https://youtube.com/watch?v=h2", "youtube", "h2", Fingerprint("youtube", "h2"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	working.Status = StatusTranslating
	if err := store.Update(ctx, working); err != nil {
		t.Fatalf("update: %v", err)
	}

	summary, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if summary.Total != 2 || summary.Queued != 1 || summary.Processing != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRetryFailedResumesAtFailedPhase(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, err := store.NewURLJob(ctx, "https://youtube.com/watch?v=r1", "youtube", "r1", Fingerprint("youtube", "r1"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	job.SetFailed("translate", "deeplx-main", "all providers exhausted")
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("update: %v", err)
	}

	other, err := store.NewURLJob(ctx, "https://youtube.com/watch?v=r2", "youtube", "r2", Fingerprint("youtube", "r2"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	other.SetFailed("acquire", "", "video unavailable")
	if err := store.Update(ctx, other); err != nil {
		t.Fatalf("update: %v", err)
	}

	retried, err := store.RetryFailed(ctx, job.ID)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if retried != 1 {
		t.Fatalf("expected one retried job, got %d", retried)
	}

	resumed, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if resumed.Status != StatusTranslationPending {
		t.Fatalf("expected translation_pending, got %s", resumed.Status)
	}
	if resumed.FailedPhase != "" || resumed.ErrorMessage != "" || resumed.LastProvider != "" {
		t.Fatalf("failure fields not cleared: %+v", resumed)
	}

	untouched, err := store.GetByID(ctx, other.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if untouched.Status != StatusFailed {
		t.Fatalf("unselected job should stay failed, got %s", untouched.Status)
	}
}

func TestTimeFormatOrdersWholeSecondsBeforeFractions(t *testing.T) {
	wholeSecond := time.Date(2026, 8, 28, 12, 0, 5, 0, time.UTC)
	laterInSecond := wholeSecond.Add(123 * time.Millisecond)

	a := wholeSecond.Format(timeFormat)
	b := laterInSecond.Format(timeFormat)
	if !(a < b) {
		t.Fatalf("expected %q to sort before %q", a, b)
	}

	for _, raw := range []string{a, b} {
		parsed, err := parseTimestamp(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got := parsed.Format(timeFormat); got != raw {
			t.Fatalf("round trip %q, got %q", raw, got)
		}
	}
}

func TestNextReadyOrdersAcrossSecondBoundary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.NewURLJob(ctx, "https://youtube.com/watch?v=whole", "youtube", "whole", Fingerprint("youtube", "whole"))
	if err != nil {
		t.Fatalf("insert first: %v", err)
	}
	second, err := store.NewURLJob(ctx, "https://youtube.com/watch?v=frac", "youtube", "frac", Fingerprint("youtube", "frac"))
	if err != nil {
		t.Fatalf("insert second: %v", err)
	}

	// The older job lands exactly on a second, the newer one a fraction later
	// within the same second.
	base := time.Date(2026, 8, 28, 12, 0, 5, 0, time.UTC)
	setCreated := func(id int64, ts time.Time) {
		if _, err := store.db.ExecContext(ctx,
			`UPDATE jobs SET created_at = ? WHERE id = ?`,
			ts.Format(timeFormat), id,
		); err != nil {
			t.Fatalf("set created_at: %v", err)
		}
	}
	setCreated(first.ID, base)
	setCreated(second.ID, base.Add(250*time.Millisecond))

	next, err := store.NextReady(ctx, StatusQueued)
	if err != nil {
		t.Fatalf("next ready: %v", err)
	}
	if next == nil || next.ID != first.ID {
		t.Fatalf("expected whole-second job %d first, got %+v", first.ID, next)
	}
}
