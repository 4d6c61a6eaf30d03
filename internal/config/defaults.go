package config

// Server and provider kinds select the wire dialect a client speaks.
const (
	ServerKindFunASR  = "funasr"
	ServerKindWhisper = "whisper"

	ProviderKindDeepLX = "deeplx"
	ProviderKindDeepL  = "deepl"
	ProviderKindOpenAI = "openai"
)

const (
	defaultStagingDir         = "~/.local/share/subflow/staging"
	defaultOutputDir          = "~/.local/share/subflow/output"
	defaultLogDir             = "~/.local/share/subflow/logs"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultYtDlpBinary        = "yt-dlp"
	defaultFFmpegBinary       = "ffmpeg"
	defaultResolveTimeout     = 60
	defaultDownloadTimeout    = 1800
	defaultChunkSeconds       = 600
	defaultTranscribeAttempts = 3
	defaultTranscribeDelay    = 3
	defaultTranscribeWorkers  = 2
	defaultTranscribeTimeout  = 300
	defaultTargetLanguage     = "zh"
	defaultChunkSize          = 2000
	defaultMinChunkSize       = 1600
	defaultMaxChunkSize       = 2400
	defaultTranslateAttempts  = 3
	defaultTranslateDelay     = 3
	defaultRequestIntervalMS  = 1000
	defaultMinLengthRatio     = 0.25
	defaultTranslateTimeout   = 30
	defaultReadwiseBaseURL    = "https://readwise.io/api/v3"
	defaultNotifyTimeout      = 10
	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10
	defaultMaxConcurrentJobs  = 2
	defaultRetentionDays      = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			OutputDir:  defaultOutputDir,
			LogDir:     defaultLogDir,
		},
		Source: Source{
			YtDlpBinary:       defaultYtDlpBinary,
			FFmpegBinary:      defaultFFmpegBinary,
			ResolveTimeout:    defaultResolveTimeout,
			DownloadTimeout:   defaultDownloadTimeout,
			SubtitleLanguages: []string{"zh", "en"},
		},
		Transcription: Transcription{
			ChunkSeconds:     defaultChunkSeconds,
			MaxAttempts:      defaultTranscribeAttempts,
			BaseDelaySeconds: defaultTranscribeDelay,
			Workers:          defaultTranscribeWorkers,
		},
		Translation: Translation{
			Enabled:           true,
			TargetLanguage:    defaultTargetLanguage,
			ChunkSize:         defaultChunkSize,
			MinChunkSize:      defaultMinChunkSize,
			MaxChunkSize:      defaultMaxChunkSize,
			MaxAttempts:       defaultTranslateAttempts,
			BaseDelaySeconds:  defaultTranslateDelay,
			RequestIntervalMS: defaultRequestIntervalMS,
			MinLengthRatio:    defaultMinLengthRatio,
		},
		Readwise: Readwise{
			BaseURL:        defaultReadwiseBaseURL,
			RequestTimeout: defaultNotifyTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			JobEvents:      true,
			Errors:         true,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			MaxConcurrentJobs:  defaultMaxConcurrentJobs,
			RetentionDays:      defaultRetentionDays,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
