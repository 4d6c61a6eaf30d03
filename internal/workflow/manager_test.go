package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"subflow/internal/logging"
	"subflow/internal/notifications"
	"subflow/internal/queue"
	"subflow/internal/services"
	"subflow/internal/stage"
	"subflow/internal/testsupport"
)

type fakeHandler struct {
	name     string
	prepare  func(ctx context.Context, job *queue.Job) error
	execute  func(ctx context.Context, job *queue.Job) error
	executed atomic.Int64
}

func (f *fakeHandler) Prepare(ctx context.Context, job *queue.Job) error {
	if f.prepare != nil {
		return f.prepare(ctx, job)
	}
	return nil
}

func (f *fakeHandler) Execute(ctx context.Context, job *queue.Job) error {
	f.executed.Add(1)
	if f.execute != nil {
		return f.execute(ctx, job)
	}
	return nil
}

func (f *fakeHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(f.name)
}

func newTestManager(t *testing.T, set StageSet) (*Manager, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager := NewManager(cfg, store, logging.NewNop(), notifications.NewService(cfg))
	manager.RegisterStages(set)
	return manager, store
}

// runUntilSettled drives the pipeline synchronously until the job reaches a
// terminal state or stops moving.
func runUntilSettled(t *testing.T, manager *Manager, store *queue.Store, jobID int64) *queue.Job {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		job, err := store.GetByID(ctx, jobID)
		if err != nil {
			t.Fatalf("fetch job: %v", err)
		}
		if job.IsTerminal() {
			return job
		}
		if _, ok := manager.stages[job.Status]; !ok {
			return job
		}
		_ = manager.processJob(ctx, job)
	}
	t.Fatalf("job %d did not settle", jobID)
	return nil
}

func TestProcessJobAdvancesThroughFullPipeline(t *testing.T) {
	var order []string
	record := func(name string) func(context.Context, *queue.Job) error {
		return func(_ context.Context, job *queue.Job) error {
			order = append(order, name)
			return nil
		}
	}
	set := StageSet{
		Acquirer:    &fakeHandler{name: "acquire", execute: record("acquire")},
		Transcriber: &fakeHandler{name: "transcribe", execute: record("transcribe")},
		Translator:  &fakeHandler{name: "translate", execute: record("translate")},
		Assembler:   &fakeHandler{name: "assemble", execute: record("assemble")},
	}
	manager, store := newTestManager(t, set)

	ctx := context.Background()
	job, err := store.NewURLJob(ctx, "https://www.youtube.com/watch?v=abc123def45", "youtube", "abc123def45", queue.Fingerprint("youtube", "abc123def45"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	final := runUntilSettled(t, manager, store, job.ID)
	if final.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s (error %q)", final.Status, final.ErrorMessage)
	}
	want := []string{"acquire", "transcribe", "translate", "assemble"}
	if len(order) != len(want) {
		t.Fatalf("expected %d stage executions, got %v", len(want), order)
	}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("stage %d: expected %s, got %s", i, name, order[i])
		}
	}
}

func TestNativeSubtitleFastPathSkipsTranscription(t *testing.T) {
	transcriber := &fakeHandler{name: "transcribe"}
	set := StageSet{
		Acquirer: &fakeHandler{name: "acquire", execute: func(_ context.Context, job *queue.Job) error {
			job.SubtitlePath = "/tmp/native.srt"
			job.NeedsTranscribe = false
			job.Status = queue.StatusTranslationPending
			return nil
		}},
		Transcriber: transcriber,
		Translator:  &fakeHandler{name: "translate"},
		Assembler:   &fakeHandler{name: "assemble"},
	}
	manager, store := newTestManager(t, set)

	ctx := context.Background()
	job, err := store.NewURLJob(ctx, "https://www.bilibili.com/video/BV1xx411c7mD", "bilibili", "BV1xx411c7mD", queue.Fingerprint("bilibili", "BV1xx411c7mD"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	final := runUntilSettled(t, manager, store, job.ID)
	if final.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s (error %q)", final.Status, final.ErrorMessage)
	}
	if calls := transcriber.executed.Load(); calls != 0 {
		t.Fatalf("transcriber should never run on the native subtitle path, executed %d times", calls)
	}
}

func TestStageFailureRecordsPhaseAndProvider(t *testing.T) {
	exhaustion := &services.ExhaustionError{
		Capability: "transcription",
		ChunkIndex: 2,
		Failures: []services.ProviderFailure{
			{Provider: "funasr-a", Err: services.ErrTransient},
			{Provider: "funasr-b", Err: services.ErrTerminal},
		},
	}
	set := StageSet{
		Acquirer: &fakeHandler{name: "acquire"},
		Transcriber: &fakeHandler{name: "transcribe", execute: func(context.Context, *queue.Job) error {
			return exhaustion
		}},
		Translator: &fakeHandler{name: "translate"},
		Assembler:  &fakeHandler{name: "assemble"},
	}
	manager, store := newTestManager(t, set)

	ctx := context.Background()
	job, err := store.NewURLJob(ctx, "https://www.youtube.com/watch?v=failcase001", "youtube", "failcase001", queue.Fingerprint("youtube", "failcase001"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	final := runUntilSettled(t, manager, store, job.ID)
	if final.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.FailedPhase != "transcribe" {
		t.Fatalf("expected failed phase transcribe, got %q", final.FailedPhase)
	}
	if final.LastProvider != "funasr-b" {
		t.Fatalf("expected last provider funasr-b, got %q", final.LastProvider)
	}
	if final.ErrorMessage == "" {
		t.Fatal("expected a persisted error message")
	}
}

func TestHandlerErrorClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"exhausted", &services.ExhaustionError{Capability: "translation"}, "exhausted"},
		{"restricted", services.Wrap(services.ErrRestricted, "source", "resolve", "members only", nil), "restricted"},
		{"transient", services.Wrap(services.ErrTransient, "asr", "transcribe", "503", nil), "transient"},
		{"unknown", errors.New("boom"), "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := errorClass(tc.err); got != tc.want {
				t.Fatalf("expected class %s, got %s", tc.want, got)
			}
		})
	}
}

func TestProcessJobSkipsWhenClaimAlreadyTaken(t *testing.T) {
	acquirer := &fakeHandler{name: "acquire"}
	set := StageSet{
		Acquirer:    acquirer,
		Transcriber: &fakeHandler{name: "transcribe"},
		Translator:  &fakeHandler{name: "translate"},
		Assembler:   &fakeHandler{name: "assemble"},
	}
	manager, store := newTestManager(t, set)

	ctx := context.Background()
	job, err := store.NewURLJob(ctx, "https://www.youtube.com/watch?v=claimrace01", "youtube", "claimrace01", queue.Fingerprint("youtube", "claimrace01"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Simulate another worker winning the claim between fetch and process.
	claimed, err := store.TransitionIfStatus(ctx, job.ID, queue.StatusQueued, queue.StatusAcquiring)
	if err != nil || !claimed {
		t.Fatalf("pre-claim failed: claimed=%v err=%v", claimed, err)
	}

	stale := *job // still carries the queued status
	if err := manager.processJob(ctx, &stale); err != nil {
		t.Fatalf("processJob on lost claim: %v", err)
	}
	if calls := acquirer.executed.Load(); calls != 0 {
		t.Fatalf("stage must not run after losing the claim, executed %d times", calls)
	}
}

func TestSubmitURLDeduplicatesByFingerprint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	submitter := NewSubmitter(store, notifications.NewService(cfg), logging.NewNop())

	ctx := context.Background()
	first, created, err := submitter.SubmitURL(ctx, "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if !created {
		t.Fatal("expected first submission to create a job")
	}

	// Same video via the short URL form must attach to the existing job.
	second, created, err := submitter.SubmitURL(ctx, "https://youtu.be/dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if created {
		t.Fatal("duplicate submission must not create a second job")
	}
	if second.ID != first.ID {
		t.Fatalf("expected job %d, got %d", first.ID, second.ID)
	}

	jobs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected one queued job, got %d", len(jobs))
	}
}

func TestSubmitFileRoutesByExtension(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	submitter := NewSubmitter(store, notifications.NewService(cfg), logging.NewNop())

	ctx := context.Background()
	srtPath := testsupport.WriteFile(t, "upload.srt", "1\n00:00:00,000 --> 00:00:01,000\nhello\n")
	srtJob, _, err := submitter.SubmitFile(ctx, srtPath)
	if err != nil {
		t.Fatalf("submit srt: %v", err)
	}
	if srtJob.Status != queue.StatusTranslationPending {
		t.Fatalf("subtitle upload should start at translation, got %s", srtJob.Status)
	}
	if srtJob.SubtitlePath != srtPath {
		t.Fatalf("expected subtitle path %q, got %q", srtPath, srtJob.SubtitlePath)
	}

	wavPath := testsupport.WriteFile(t, "upload.wav", "RIFFxxxx")
	wavJob, _, err := submitter.SubmitFile(ctx, wavPath)
	if err != nil {
		t.Fatalf("submit wav: %v", err)
	}
	if wavJob.Status != queue.StatusTranscriptPending {
		t.Fatalf("audio upload should start at transcription, got %s", wavJob.Status)
	}
	if !wavJob.NeedsTranscribe || wavJob.AudioPath != wavPath {
		t.Fatalf("audio upload not wired for transcription: %+v", wavJob)
	}

	if _, _, err := submitter.SubmitFile(ctx, "/tmp/notes.pdf"); !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("expected invalid input for unsupported extension, got %v", err)
	}
}

func TestCancelDuringStageExecutionStopsJob(t *testing.T) {
	var store *queue.Store
	transcriber := &fakeHandler{name: "transcribe"}
	set := StageSet{
		Acquirer: &fakeHandler{name: "acquire", execute: func(ctx context.Context, job *queue.Job) error {
			// Cancel lands while the stage is mid-flight, after the watcher's
			// last poll; the stage itself finishes cleanly.
			return store.RequestCancel(ctx, job.ID)
		}},
		Transcriber: transcriber,
		Translator:  &fakeHandler{name: "translate"},
		Assembler:   &fakeHandler{name: "assemble"},
	}
	manager, s := newTestManager(t, set)
	store = s

	ctx := context.Background()
	job, err := store.NewURLJob(ctx, "https://www.youtube.com/watch?v=cancelmid01", "youtube", "cancelmid01", queue.Fingerprint("youtube", "cancelmid01"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	final := runUntilSettled(t, manager, store, job.ID)
	if final.Status != queue.StatusFailed {
		t.Fatalf("cancelled job must not advance, got %s", final.Status)
	}
	if !final.CancelRequested {
		t.Fatal("cancel flag must survive the stage-completion write")
	}
	if final.FailedPhase != "acquire" {
		t.Fatalf("expected failure recorded in acquire, got %q", final.FailedPhase)
	}
	if calls := transcriber.executed.Load(); calls != 0 {
		t.Fatalf("later stages must not run after a cancel, transcriber ran %d times", calls)
	}
}

func TestHandlerSetDoneStatusOverridesDefault(t *testing.T) {
	set := StageSet{
		Acquirer: &fakeHandler{name: "acquire"},
		Transcriber: &fakeHandler{name: "transcribe", execute: func(_ context.Context, job *queue.Job) error {
			// A transcript-only job can finish without translation.
			job.Status = queue.StatusAssemblyPending
			return nil
		}},
		Translator: &fakeHandler{name: "translate"},
		Assembler:  &fakeHandler{name: "assemble"},
	}
	translator := set.Translator.(*fakeHandler)
	manager, store := newTestManager(t, set)

	ctx := context.Background()
	job, err := store.NewURLJob(ctx, "https://www.youtube.com/watch?v=skiptrans01", "youtube", "skiptrans01", queue.Fingerprint("youtube", "skiptrans01"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	final := runUntilSettled(t, manager, store, job.ID)
	if final.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s (error %q)", final.Status, final.ErrorMessage)
	}
	if calls := translator.executed.Load(); calls != 0 {
		t.Fatalf("translator should be skipped when transcription branches past it, ran %d times", calls)
	}
}
