package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	OutputDir  string `toml:"output_dir"`
	LogDir     string `toml:"log_dir"`
}

// Source contains configuration for video acquisition tooling.
type Source struct {
	YtDlpBinary        string   `toml:"ytdlp_binary"`
	FFmpegBinary       string   `toml:"ffmpeg_binary"`
	ResolveTimeout     int      `toml:"resolve_timeout"`
	DownloadTimeout    int      `toml:"download_timeout"`
	SubtitleLanguages  []string `toml:"subtitle_languages"`
	CookiesFromBrowser string   `toml:"cookies_from_browser"`
}

// Server describes one remote ASR endpoint.
type Server struct {
	Name           string `toml:"name"`
	URL            string `toml:"url"`
	Kind           string `toml:"kind"`
	Priority       int    `toml:"priority"`
	Enabled        bool   `toml:"enabled"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
}

// Transcription contains ASR settings and the ordered server pool.
type Transcription struct {
	ChunkSeconds     int      `toml:"chunk_seconds"`
	MaxAttempts      int      `toml:"max_attempts"`
	BaseDelaySeconds int      `toml:"base_delay_seconds"`
	Workers          int      `toml:"workers"`
	Hotwords         []string `toml:"hotwords"`
	Servers          []Server `toml:"servers"`
}

// Provider describes one remote translation service.
type Provider struct {
	Name           string `toml:"name"`
	Kind           string `toml:"kind"`
	URL            string `toml:"url"`
	Priority       int    `toml:"priority"`
	Enabled        bool   `toml:"enabled"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	Prompt         string `toml:"prompt"`
}

// Translation contains translation settings and the prioritized provider list.
type Translation struct {
	Enabled           bool       `toml:"enabled"`
	TargetLanguage    string     `toml:"target_language"`
	ChunkSize         int        `toml:"chunk_size"`
	MinChunkSize      int        `toml:"min_chunk_size"`
	MaxChunkSize      int        `toml:"max_chunk_size"`
	MaxAttempts       int        `toml:"max_attempts"`
	BaseDelaySeconds  int        `toml:"base_delay_seconds"`
	RequestIntervalMS int        `toml:"request_interval_ms"`
	MinLengthRatio    float64    `toml:"min_length_ratio"`
	AllowDegraded     bool       `toml:"allow_degraded"`
	Providers         []Provider `toml:"providers"`
}

// Readwise contains configuration for article publishing.
type Readwise struct {
	Enabled        bool   `toml:"enabled"`
	Token          string `toml:"token"`
	BaseURL        string `toml:"base_url"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobEvents      bool   `toml:"job_events"`
	Errors         bool   `toml:"errors"`
}

// Workflow contains daemon timing, concurrency, and retention settings.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	MaxConcurrentJobs  int `toml:"max_concurrent_jobs"`
	RetentionDays      int `toml:"retention_days"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for subflow.
//
// Sections by subsystem:
//   - Paths: staging, output, and log directories
//   - Source: yt-dlp/ffmpeg acquisition settings
//   - Transcription: ordered ASR server pool, chunking, retry budget
//   - Translation: prioritized provider list, chunking, rate limits
//   - Readwise: article publishing
//   - Notifications: ntfy push notification settings
//   - Workflow: polling intervals, job concurrency, retention
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Source        Source        `toml:"source"`
	Transcription Transcription `toml:"transcription"`
	Translation   Translation   `toml:"translation"`
	Readwise      Readwise      `toml:"readwise"`
	Notifications Notifications `toml:"notifications"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/subflow/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("subflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// JobStagingDir returns the per-job scratch directory under the staging root.
func (c *Config) JobStagingDir(jobID int64) string {
	return filepath.Join(c.Paths.StagingDir, fmt.Sprintf("job-%d", jobID))
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.OutputDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
