// Package daemon wires the pipeline services together and enforces
// single-instance execution via a file lock.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/gofrs/flock"

	"subflow/internal/config"
	"subflow/internal/logging"
	"subflow/internal/notifications"
	"subflow/internal/providers"
	"subflow/internal/publisher"
	"subflow/internal/queue"
	"subflow/internal/stage"
	"subflow/internal/subtitles"
	"subflow/internal/transcribe"
	"subflow/internal/translate"
	"subflow/internal/videosource"
	"subflow/internal/workflow"
)

// Daemon coordinates the background processing services.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager

	lockPath string
	pidPath  string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with the full stage set registered.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, notifier notifications.Service) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, and logger")
	}

	pool := providers.NewPool(cfg)
	if err := pool.Validate(true, cfg.Translation.Enabled); err != nil {
		return nil, err
	}

	manager := workflow.NewManager(cfg, store, logger, notifier)
	manager.RegisterStages(buildStages(cfg, pool, store, logger))

	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		workflow: manager,
		lockPath: filepath.Join(cfg.Paths.LogDir, "subflowd.lock"),
		pidPath:  filepath.Join(cfg.Paths.LogDir, "subflowd.pid"),
	}, nil
}

func buildStages(cfg *config.Config, pool *providers.Pool, store *queue.Store, logger *slog.Logger) workflow.StageSet {
	source := videosource.NewService(cfg, logger)
	return workflow.StageSet{
		Acquirer:    videosource.NewStage(cfg, source, logger),
		Transcriber: transcribe.NewStage(cfg, transcribe.NewEngine(cfg, pool, logger), pool, source, store, logger),
		Translator:  translate.NewStage(cfg, translate.NewEngine(cfg, pool, logger), pool, store, logger),
		Assembler:   subtitles.NewStage(cfg, publisher.NewReadwise(cfg, logger), logger),
	}
}

// Start acquires the daemon lock and launches the workflow manager.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	d.lock = flock.New(d.lockPath)
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another subflow daemon instance is already running")
	}
	if err := os.WriteFile(d.pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		d.logger.Warn("failed to write pid file", logging.Error(err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	if err := d.workflow.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start workflow: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("subflow daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	_ = os.Remove(d.pidPath)
	d.running.Store(false)
	d.logger.Info("subflow daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// HealthCheck probes every registered stage handler.
func (d *Daemon) HealthCheck(ctx context.Context) []stage.Health {
	return d.workflow.HealthCheck(ctx)
}

// Running reports whether the daemon is processing jobs.
func (d *Daemon) Running() bool {
	return d.running.Load()
}
