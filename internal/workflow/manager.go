// Package workflow coordinates the subtitle pipeline: it polls the queue,
// claims ready jobs, runs the registered stage handler for each phase, and
// records failures with enough context for a human to decide on a retry.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"subflow/internal/config"
	"subflow/internal/logging"
	"subflow/internal/notifications"
	"subflow/internal/queue"
	"subflow/internal/stage"
)

// StageSet bundles the concrete handlers the manager orchestrates.
type StageSet struct {
	Acquirer    stage.Handler
	Transcriber stage.Handler
	Translator  stage.Handler
	Assembler   stage.Handler
}

type pipelineStage struct {
	name             string
	handler          stage.Handler
	startStatus      queue.Status
	processingStatus queue.Status
	doneStatus       queue.Status
}

// Manager owns the worker pool and the stage registry.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	logger   *slog.Logger
	notifier notifications.Service

	stages       map[queue.Status]pipelineStage
	statusOrder  []queue.Status
	fingerprints *fingerprintLocks

	pollInterval       time.Duration
	errorRetryInterval time.Duration
	workers            int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// NewManager constructs a workflow manager without stages; call
// RegisterStages before Start.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger, notifier notifications.Service) *Manager {
	workers := cfg.Workflow.MaxConcurrentJobs
	if workers < 1 {
		workers = 1
	}
	return &Manager{
		cfg:                cfg,
		store:              store,
		logger:             logging.NewComponentLogger(logger, "workflow"),
		notifier:           notifier,
		stages:             make(map[queue.Status]pipelineStage),
		fingerprints:       newFingerprintLocks(),
		pollInterval:       time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		errorRetryInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		workers:            workers,
	}
}

// RegisterStages wires the four pipeline phases.
func (m *Manager) RegisterStages(set StageSet) {
	m.register(pipelineStage{
		name:             "acquire",
		handler:          set.Acquirer,
		startStatus:      queue.StatusQueued,
		processingStatus: queue.StatusAcquiring,
		doneStatus:       queue.StatusTranscriptPending,
	})
	m.register(pipelineStage{
		name:             "transcribe",
		handler:          set.Transcriber,
		startStatus:      queue.StatusTranscriptPending,
		processingStatus: queue.StatusTranscribing,
		doneStatus:       queue.StatusTranslationPending,
	})
	m.register(pipelineStage{
		name:             "translate",
		handler:          set.Translator,
		startStatus:      queue.StatusTranslationPending,
		processingStatus: queue.StatusTranslating,
		doneStatus:       queue.StatusAssemblyPending,
	})
	m.register(pipelineStage{
		name:             "assemble",
		handler:          set.Assembler,
		startStatus:      queue.StatusAssemblyPending,
		processingStatus: queue.StatusAssembling,
		doneStatus:       queue.StatusCompleted,
	})
}

func (m *Manager) register(s pipelineStage) {
	if s.handler == nil {
		return
	}
	m.stages[s.startStatus] = s
	m.statusOrder = append(m.statusOrder, s.startStatus)
}

// HealthCheck probes every registered handler.
func (m *Manager) HealthCheck(ctx context.Context) []stage.Health {
	reports := make([]stage.Health, 0, len(m.statusOrder))
	for _, status := range m.statusOrder {
		reports = append(reports, m.stages[status].handler.HealthCheck(ctx))
	}
	return reports
}

// Start resets interrupted work and launches the worker pool plus the
// retention sweeper.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	if len(m.statusOrder) == 0 {
		return errors.New("workflow stages not configured")
	}

	reset, err := m.store.ResetStuckProcessing(ctx)
	if err != nil {
		return err
	}
	if reset > 0 {
		m.logger.Info("reset interrupted jobs to their ready status", logging.Int64("count", reset))
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	m.wg.Add(m.workers)
	for i := 0; i < m.workers; i++ {
		go m.runWorker(runCtx)
	}
	m.wg.Add(1)
	go m.runRetentionSweeper(runCtx)
	return nil
}

// Stop terminates background processing and waits for workers to drain.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// LastError returns the most recent processing error, for status output.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) runWorker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := m.store.NextReady(ctx, m.statusOrder...)
		if err != nil {
			m.setLastError(err)
			m.logger.Error("failed to fetch next queue job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_fetch_failed"))
			m.sleep(ctx, m.errorRetryInterval)
			continue
		}
		if job == nil {
			m.sleep(ctx, m.pollInterval)
			continue
		}

		if err := m.processJob(ctx, job); err != nil && errors.Is(err, context.Canceled) {
			return
		}
	}
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// runRetentionSweeper purges terminal jobs past the retention window.
func (m *Manager) runRetentionSweeper(ctx context.Context) {
	defer m.wg.Done()
	retention := time.Duration(m.cfg.Workflow.RetentionDays) * 24 * time.Hour
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		purged, err := m.store.PurgeTerminalBefore(ctx, time.Now().Add(-retention))
		if err != nil {
			m.logger.Warn("retention sweep failed", logging.Error(err))
		} else if purged > 0 {
			m.logger.Info("purged terminal jobs past retention", logging.Int64("count", purged))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
