// Package testsupport provides shared helpers for package tests.
package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"subflow/internal/config"
	"subflow/internal/queue"
)

// ConfigOption customizes the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a validated config seeded with unique temp directories
// and one enabled server/provider pair per capability.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.OutputDir = filepath.Join(base, "output")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Transcription.Servers = []config.Server{
		{Name: "funasr-test", Kind: config.ServerKindFunASR, URL: "http://127.0.0.1:10095", Priority: 1, Enabled: true, TimeoutSeconds: 5},
	}
	cfg.Translation.Providers = []config.Provider{
		{Name: "deeplx-test", Kind: config.ProviderKindDeepLX, URL: "http://127.0.0.1:1188/translate", Priority: 1, Enabled: true, TimeoutSeconds: 5},
	}
	cfg.Workflow.QueuePollInterval = 1
	cfg.Workflow.ErrorRetryInterval = 1

	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("create test config directories: %v", err)
	}
	return &cfg
}

// WithTranslationDisabled turns translation off on the test config.
func WithTranslationDisabled() ConfigOption {
	return func(cfg *config.Config) {
		cfg.Translation.Enabled = false
	}
}

// WriteFile creates a file with the given name and content under a temp
// directory and returns its path.
func WriteFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// MustOpenStore opens a queue store in the config's log directory and
// registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
