package daemon_test

import (
	"context"
	"path/filepath"
	"testing"

	"subflow/internal/config"
	"subflow/internal/daemon"
	"subflow/internal/logging"
	"subflow/internal/notifications"
	"subflow/internal/queue"
	"subflow/internal/testsupport"
)

func TestStartEnforcesSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	first := newDaemon(t, cfg)
	second := newDaemon(t, cfg)

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first start: %v", err)
	}
	defer first.Stop()

	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("expected second daemon start to fail on the instance lock")
	}

	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("start after lock release: %v", err)
	}
	second.Stop()
}

func TestHealthCheckReportsAllStages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)

	reports := d.HealthCheck(context.Background())
	if len(reports) != 4 {
		t.Fatalf("expected four stage reports, got %d", len(reports))
	}
	seen := make(map[string]struct{}, len(reports))
	for _, report := range reports {
		seen[report.Name] = struct{}{}
	}
	for _, name := range []string{"acquire", "transcribe", "translate", "assemble"} {
		if _, ok := seen[name]; !ok {
			t.Fatalf("missing health report for %s stage: %v", name, reports)
		}
	}
}

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	store, err := queue.OpenPath(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	d, err := daemon.New(cfg, store, logging.NewNop(), notifications.NewService(cfg))
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	return d
}
