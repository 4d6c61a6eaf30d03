package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"subflow/internal/logging"
	"subflow/internal/queue"
	"subflow/internal/services"
)

// cancelPollInterval bounds how long a cancel request waits before the
// in-flight stage is interrupted.
const cancelPollInterval = 2 * time.Second

func (m *Manager) processJob(ctx context.Context, job *queue.Job) error {
	stg, ok := m.stages[job.Status]
	if !ok {
		m.logger.Warn("no stage configured for status", logging.String("status", string(job.Status)))
		m.sleep(ctx, m.pollInterval)
		return nil
	}

	if !m.fingerprints.TryLock(job.Fingerprint) {
		// Another worker holds this source; leave the job for later.
		m.sleep(ctx, m.pollInterval)
		return nil
	}
	defer m.fingerprints.Unlock(job.Fingerprint)

	claimed, err := m.store.TransitionIfStatus(ctx, job.ID, stg.startStatus, stg.processingStatus)
	if err != nil {
		m.setLastError(err)
		return err
	}
	if !claimed {
		return nil
	}
	job.Status = stg.processingStatus
	job.ErrorMessage = ""
	job.FailedPhase = ""

	requestID := uuid.NewString()
	stageCtx := services.WithRequestID(services.WithJobID(services.WithPhase(ctx, stg.name), job.ID), requestID)
	stageLogger := logging.WithContext(stageCtx, m.logger)

	return m.executeStage(stageCtx, stageLogger, stg, job)
}

func (m *Manager) executeStage(ctx context.Context, stageLogger *slog.Logger, stg pipelineStage, job *queue.Job) error {
	stageStart := time.Now()
	stageLogger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("processing_status", string(stg.processingStatus)),
		logging.String("title", strings.TrimSpace(job.Title)))

	if err := stg.handler.Prepare(ctx, job); err != nil {
		m.handleStageFailure(ctx, stg, job, err)
		return err
	}
	if err := m.store.Update(ctx, job); err != nil {
		m.setLastError(err)
		stageLogger.Error("failed to persist stage preparation", logging.Error(err))
		return err
	}

	execErr := m.executeWithCancelWatch(ctx, stg, job)
	if execErr == nil {
		// A cancel that landed after the watcher's last poll would otherwise
		// slip through and the job would advance; honor it before committing
		// the stage result.
		if current, err := m.store.GetByID(ctx, job.ID); err == nil && current != nil && current.CancelRequested {
			execErr = errCancelRequested
		}
	}
	if execErr != nil {
		if errors.Is(execErr, context.Canceled) && ctx.Err() != nil {
			stageLogger.Debug("stage interrupted by shutdown")
			return execErr
		}
		m.handleStageFailure(ctx, stg, job, execErr)
		return execErr
	}

	// Handlers may branch by setting their own done status; apply the
	// default only when the processing status was left untouched.
	if job.Status == stg.processingStatus || job.Status == "" {
		job.Status = stg.doneStatus
	}
	if err := m.store.Update(ctx, job); err != nil {
		m.setLastError(err)
		stageLogger.Error("failed to persist stage result", logging.Error(err))
		return err
	}

	stageLogger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_status", string(job.Status)),
		logging.Duration("stage_duration", time.Since(stageStart)))

	if job.Status == queue.StatusCompleted {
		m.onJobCompleted(ctx, job)
	}
	return nil
}

// executeWithCancelWatch runs the stage body while polling the store for a
// cancel request. Cancellation interrupts the stage context; in-flight remote
// calls finish or abort, and no further chunks are dispatched.
func (m *Manager) executeWithCancelWatch(ctx context.Context, stg pipelineStage, job *queue.Job) error {
	execCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		ticker := time.NewTicker(cancelPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-execCtx.Done():
				return
			case <-ticker.C:
				current, err := m.store.GetByID(execCtx, job.ID)
				if err != nil || current == nil {
					continue
				}
				if current.CancelRequested {
					cancel(errCancelRequested)
					return
				}
			}
		}
	}()

	err := stg.handler.Execute(execCtx, job)
	cancel(nil)
	<-watchDone

	if err != nil && errors.Is(context.Cause(execCtx), errCancelRequested) {
		return errCancelRequested
	}
	return err
}

var errCancelRequested = errors.New("cancel requested")

func (m *Manager) handleStageFailure(ctx context.Context, stg pipelineStage, job *queue.Job, stageErr error) {
	m.setLastError(stageErr)

	message := strings.TrimSpace(stageErr.Error())
	provider := ""
	var exhaustion *services.ExhaustionError
	if errors.As(stageErr, &exhaustion) {
		provider = exhaustion.LastProvider()
	}
	job.SetFailed(stg.name, provider, message)

	logger := logging.WithContext(ctx, m.logger)
	logger.Error("stage failed",
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String("error_class", errorClass(stageErr)),
		logging.String(logging.FieldProvider, provider),
		logging.Error(stageErr))

	// Persist with a fresh context: the stage context may already be dead.
	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancelPersist()
	if err := m.store.Update(persistCtx, job); err != nil {
		logger.Error("failed to persist stage failure", logging.Error(err))
	}

	if m.notifier != nil {
		if err := m.notifier.NotifyJobFailed(persistCtx, job.Title, stg.name, stageErr); err != nil {
			logger.Warn("failure notification not delivered", logging.Error(err))
		}
	}
}

func (m *Manager) onJobCompleted(ctx context.Context, job *queue.Job) {
	if m.notifier == nil {
		return
	}
	var err error
	if job.Degraded {
		err = m.notifier.NotifyDegraded(ctx, job.Title)
	} else {
		err = m.notifier.NotifySubtitleReady(ctx, job.Title, job.ResultPath)
	}
	if err != nil {
		logging.WithContext(ctx, m.logger).Warn("completion notification not delivered", logging.Error(err))
	}
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, errCancelRequested):
		return "cancelled"
	case errors.Is(err, services.ErrExhausted):
		return "exhausted"
	case errors.Is(err, services.ErrRestricted):
		return "restricted"
	case errors.Is(err, services.ErrNotFound):
		return "not_found"
	case errors.Is(err, services.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, services.ErrConfiguration):
		return "configuration"
	case errors.Is(err, services.ErrTerminal):
		return "terminal"
	case errors.Is(err, services.ErrTransient):
		return "transient"
	default:
		return "unknown"
	}
}
