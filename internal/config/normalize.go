package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeSource()
	c.normalizeTranscription()
	c.normalizeTranslation()
	c.normalizeReadwise()
	c.normalizeLogging()
	c.normalizeWorkflow()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeSource() {
	c.Source.YtDlpBinary = strings.TrimSpace(c.Source.YtDlpBinary)
	if c.Source.YtDlpBinary == "" {
		c.Source.YtDlpBinary = defaultYtDlpBinary
	}
	c.Source.FFmpegBinary = strings.TrimSpace(c.Source.FFmpegBinary)
	if c.Source.FFmpegBinary == "" {
		c.Source.FFmpegBinary = defaultFFmpegBinary
	}
	if c.Source.ResolveTimeout <= 0 {
		c.Source.ResolveTimeout = defaultResolveTimeout
	}
	if c.Source.DownloadTimeout <= 0 {
		c.Source.DownloadTimeout = defaultDownloadTimeout
	}
	if len(c.Source.SubtitleLanguages) == 0 {
		c.Source.SubtitleLanguages = []string{"zh", "en"}
	}
}

func (c *Config) normalizeTranscription() {
	if c.Transcription.ChunkSeconds <= 0 {
		c.Transcription.ChunkSeconds = defaultChunkSeconds
	}
	if c.Transcription.MaxAttempts <= 0 {
		c.Transcription.MaxAttempts = defaultTranscribeAttempts
	}
	if c.Transcription.BaseDelaySeconds <= 0 {
		c.Transcription.BaseDelaySeconds = defaultTranscribeDelay
	}
	if c.Transcription.Workers <= 0 {
		c.Transcription.Workers = defaultTranscribeWorkers
	}
	for i := range c.Transcription.Servers {
		server := &c.Transcription.Servers[i]
		server.Name = strings.TrimSpace(server.Name)
		server.URL = strings.TrimRight(strings.TrimSpace(server.URL), "/")
		server.Kind = strings.ToLower(strings.TrimSpace(server.Kind))
		if server.Kind == "" {
			server.Kind = ServerKindFunASR
		}
		if server.TimeoutSeconds <= 0 {
			server.TimeoutSeconds = defaultTranscribeTimeout
		}
		if server.APIKey == "" {
			server.APIKey = credentialFromEnv(server.Name)
		}
	}
}

func (c *Config) normalizeTranslation() {
	if c.Translation.ChunkSize <= 0 {
		c.Translation.ChunkSize = defaultChunkSize
	}
	if c.Translation.MinChunkSize <= 0 || c.Translation.MinChunkSize > c.Translation.ChunkSize {
		c.Translation.MinChunkSize = defaultMinChunkSize
	}
	if c.Translation.MaxChunkSize < c.Translation.ChunkSize {
		c.Translation.MaxChunkSize = defaultMaxChunkSize
	}
	if c.Translation.MaxAttempts <= 0 {
		c.Translation.MaxAttempts = defaultTranslateAttempts
	}
	if c.Translation.BaseDelaySeconds <= 0 {
		c.Translation.BaseDelaySeconds = defaultTranslateDelay
	}
	if c.Translation.RequestIntervalMS < 0 {
		c.Translation.RequestIntervalMS = defaultRequestIntervalMS
	}
	if c.Translation.MinLengthRatio < 0 || c.Translation.MinLengthRatio >= 1 {
		c.Translation.MinLengthRatio = defaultMinLengthRatio
	}
	c.Translation.TargetLanguage = strings.TrimSpace(c.Translation.TargetLanguage)
	if c.Translation.TargetLanguage == "" {
		c.Translation.TargetLanguage = defaultTargetLanguage
	}
	for i := range c.Translation.Providers {
		provider := &c.Translation.Providers[i]
		provider.Name = strings.TrimSpace(provider.Name)
		provider.Kind = strings.ToLower(strings.TrimSpace(provider.Kind))
		provider.URL = strings.TrimRight(strings.TrimSpace(provider.URL), "/")
		if provider.TimeoutSeconds <= 0 {
			provider.TimeoutSeconds = defaultTranslateTimeout
		}
		if provider.APIKey == "" {
			provider.APIKey = credentialFromEnv(provider.Name)
		}
	}
}

func (c *Config) normalizeReadwise() {
	if c.Readwise.Token == "" {
		if value, ok := os.LookupEnv("READWISE_TOKEN"); ok {
			c.Readwise.Token = strings.TrimSpace(value)
		}
	}
	c.Readwise.BaseURL = strings.TrimRight(strings.TrimSpace(c.Readwise.BaseURL), "/")
	if c.Readwise.BaseURL == "" {
		c.Readwise.BaseURL = defaultReadwiseBaseURL
	}
	if c.Readwise.RequestTimeout <= 0 {
		c.Readwise.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.QueuePollInterval <= 0 {
		c.Workflow.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.MaxConcurrentJobs <= 0 {
		c.Workflow.MaxConcurrentJobs = defaultMaxConcurrentJobs
	}
	if c.Workflow.RetentionDays <= 0 {
		c.Workflow.RetentionDays = defaultRetentionDays
	}
}

// credentialFromEnv resolves a provider credential from SUBFLOW_<NAME>_API_KEY.
func credentialFromEnv(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	key := "SUBFLOW_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name)) + "_API_KEY"
	value, _ := os.LookupEnv(key)
	return strings.TrimSpace(value)
}
