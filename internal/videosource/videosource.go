// Package videosource wraps yt-dlp and ffmpeg behind a probe/download
// abstraction. Resolution failures are classified so the orchestrator can
// tell a restricted video from a missing one from a flaky network.
package videosource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"subflow/internal/chunking"
	"subflow/internal/config"
	"subflow/internal/deps"
	"subflow/internal/logging"
	"subflow/internal/services"
)

// Platform names. Anything else resolves as generic with yt-dlp's extractor
// name as the platform.
const (
	PlatformYouTube  = "youtube"
	PlatformBilibili = "bilibili"
	PlatformAcFun    = "acfun"
)

// Resolution is the probe result for one video URL.
type Resolution struct {
	Platform          string
	CanonicalID       string
	Title             string
	SourceLanguage    string
	Duration          time.Duration
	SubtitleLanguages []string
}

// NativeSubtitleFor picks the first preferred language with a native track.
// Returns false when no preferred language is available.
func (r Resolution) NativeSubtitleFor(preferred []string) (string, bool) {
	for _, want := range preferred {
		for _, have := range r.SubtitleLanguages {
			if have == want || strings.HasPrefix(have, want+"-") {
				return have, true
			}
		}
	}
	return "", false
}

// CommandRunner executes an external tool and returns its stdout. Stderr is
// folded into the returned error. Tests substitute a scripted runner.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Service resolves and downloads video sources.
type Service struct {
	ytdlpBinary        string
	ffmpegBinary       string
	resolveTimeout     time.Duration
	downloadTimeout    time.Duration
	cookiesFromBrowser string
	subtitleLanguages  []string
	runner             CommandRunner
	logger             *slog.Logger
}

// NewService wires the service from validated configuration.
func NewService(cfg *config.Config, logger *slog.Logger) *Service {
	return &Service{
		ytdlpBinary:        cfg.Source.YtDlpBinary,
		ffmpegBinary:       cfg.Source.FFmpegBinary,
		resolveTimeout:     time.Duration(cfg.Source.ResolveTimeout) * time.Second,
		downloadTimeout:    time.Duration(cfg.Source.DownloadTimeout) * time.Second,
		cookiesFromBrowser: cfg.Source.CookiesFromBrowser,
		subtitleLanguages:  cfg.Source.SubtitleLanguages,
		runner:             runCommand,
		logger:             logging.NewComponentLogger(logger, "videosource"),
	}
}

// WithRunner substitutes the command runner. Test hook.
func (s *Service) WithRunner(runner CommandRunner) *Service {
	s.runner = runner
	return s
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

var (
	youtubeIDPattern  = regexp.MustCompile(`(?:youtube\.com/watch\?.*v=|youtu\.be/)([A-Za-z0-9_-]{6,})`)
	bilibiliIDPattern = regexp.MustCompile(`bilibili\.com/video/((?:BV[0-9A-Za-z]+)|(?:av\d+))`)
	acfunIDPattern    = regexp.MustCompile(`acfun\.cn/v/(ac\d+)`)
)

// DetectPlatform classifies a URL and extracts its canonical video id where
// the URL form allows. An empty id means the id must come from the probe.
func DetectPlatform(rawURL string) (platform, canonicalID string) {
	switch {
	case strings.Contains(rawURL, "youtube.com") || strings.Contains(rawURL, "youtu.be"):
		if m := youtubeIDPattern.FindStringSubmatch(rawURL); m != nil {
			return PlatformYouTube, m[1]
		}
		return PlatformYouTube, ""
	case strings.Contains(rawURL, "bilibili.com") || strings.Contains(rawURL, "b23.tv"):
		if m := bilibiliIDPattern.FindStringSubmatch(rawURL); m != nil {
			return PlatformBilibili, m[1]
		}
		return PlatformBilibili, ""
	case strings.Contains(rawURL, "acfun.cn"):
		if m := acfunIDPattern.FindStringSubmatch(rawURL); m != nil {
			return PlatformAcFun, m[1]
		}
		return PlatformAcFun, ""
	default:
		return "", ""
	}
}

type probePayload struct {
	ID        string                       `json:"id"`
	Extractor string                       `json:"extractor_key"`
	Title     string                       `json:"title"`
	Duration  float64                      `json:"duration"`
	Language  string                       `json:"language"`
	Subtitles map[string][]json.RawMessage `json:"subtitles"`
}

// Resolve probes a URL without downloading anything.
func (s *Service) Resolve(ctx context.Context, rawURL string) (Resolution, error) {
	ctx, cancel := context.WithTimeout(ctx, s.resolveTimeout)
	defer cancel()

	args := []string{"-J", "--no-playlist", "--no-download"}
	args = append(args, s.cookieArgs()...)
	args = append(args, rawURL)

	stdout, err := s.runner(ctx, s.ytdlpBinary, args...)
	if err != nil {
		return Resolution{}, classifyProbeError(err)
	}

	var payload probePayload
	if err := json.Unmarshal(stdout, &payload); err != nil {
		return Resolution{}, services.Wrap(services.ErrTransient, "videosource", "resolve", "decode probe output", err)
	}

	platform, canonicalID := DetectPlatform(rawURL)
	if platform == "" {
		platform = strings.ToLower(payload.Extractor)
	}
	if canonicalID == "" {
		canonicalID = payload.ID
	}
	if canonicalID == "" {
		return Resolution{}, services.Wrap(services.ErrInvalidInput, "videosource", "resolve", "probe returned no video id", nil)
	}

	languages := make([]string, 0, len(payload.Subtitles))
	for lang := range payload.Subtitles {
		languages = append(languages, lang)
	}
	sort.Strings(languages)

	return Resolution{
		Platform:          platform,
		CanonicalID:       canonicalID,
		Title:             payload.Title,
		SourceLanguage:    payload.Language,
		Duration:          time.Duration(payload.Duration * float64(time.Second)),
		SubtitleLanguages: languages,
	}, nil
}

// DownloadSubtitle fetches one native subtitle track as SRT into destDir and
// returns its path.
func (s *Service) DownloadSubtitle(ctx context.Context, rawURL, lang, destDir string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.downloadTimeout)
	defer cancel()

	output := filepath.Join(destDir, "native.%(ext)s")
	args := []string{
		"--skip-download",
		"--write-subs",
		"--sub-langs", lang,
		"--convert-subs", "srt",
		"--no-playlist",
		"-o", output,
	}
	args = append(args, s.cookieArgs()...)
	args = append(args, rawURL)

	if _, err := s.runner(ctx, s.ytdlpBinary, args...); err != nil {
		return "", classifyProbeError(err)
	}

	matches, err := filepath.Glob(filepath.Join(destDir, "native*.srt"))
	if err != nil || len(matches) == 0 {
		return "", services.Wrap(services.ErrNotFound, "videosource", "download_subtitle",
			fmt.Sprintf("no subtitle file produced for language %s", lang), err)
	}
	return matches[0], nil
}

// DownloadAudio extracts the audio stream as WAV into destDir.
func (s *Service) DownloadAudio(ctx context.Context, rawURL, destDir string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.downloadTimeout)
	defer cancel()

	target := filepath.Join(destDir, "audio.%(ext)s")
	args := []string{
		"-f", "bestaudio/best",
		"-x",
		"--audio-format", "wav",
		"--no-playlist",
		"-o", target,
	}
	args = append(args, s.cookieArgs()...)
	args = append(args, rawURL)

	if _, err := s.runner(ctx, s.ytdlpBinary, args...); err != nil {
		return "", classifyProbeError(err)
	}
	return filepath.Join(destDir, "audio.wav"), nil
}

// ProbeDuration reads the duration of a local audio file via ffprobe.
func (s *Service) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	stdout, err := s.runner(ctx, deps.ProbeBinary(s.ffmpegBinary),
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, services.Wrap(services.ErrInvalidInput, "videosource", "probe_duration", "ffprobe failed", err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(stdout)), 64)
	if err != nil {
		return 0, services.Wrap(services.ErrInvalidInput, "videosource", "probe_duration", "parse ffprobe output", err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// CutChunk writes one planned audio range to its own file for upload.
func (s *Service) CutChunk(ctx context.Context, audioPath string, chunk chunking.AudioChunk, destDir string) (string, error) {
	out := filepath.Join(destDir, fmt.Sprintf("chunk-%04d.wav", chunk.Index))
	_, err := s.runner(ctx, s.ffmpegBinary,
		"-y",
		"-ss", formatSeconds(chunk.Start),
		"-t", formatSeconds(chunk.Duration()),
		"-i", audioPath,
		"-c", "copy",
		out,
	)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "videosource", "cut_chunk",
			fmt.Sprintf("ffmpeg failed cutting chunk %d", chunk.Index), err)
	}
	return out, nil
}

func (s *Service) cookieArgs() []string {
	if s.cookiesFromBrowser == "" {
		return nil
	}
	return []string{"--cookies-from-browser", s.cookiesFromBrowser}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// restricted and missing markers mirror the phrases yt-dlp prints for the
// supported platforms.
var (
	restrictedMarkers = []string{
		"sign in to confirm",
		"private video",
		"members-only",
		"members only",
		"login required",
		"age-restricted",
		"premium",
	}
	notFoundMarkers = []string{
		"404",
		"not found",
		"does not exist",
		"has been removed",
		"video unavailable",
	}
)

func classifyProbeError(err error) error {
	message := strings.ToLower(err.Error())
	for _, marker := range restrictedMarkers {
		if strings.Contains(message, marker) {
			return services.Wrap(services.ErrRestricted, "videosource", "resolve", "source requires authentication", err)
		}
	}
	for _, marker := range notFoundMarkers {
		if strings.Contains(message, marker) {
			return services.Wrap(services.ErrNotFound, "videosource", "resolve", "source does not exist", err)
		}
	}
	return services.Wrap(services.ErrTransient, "videosource", "resolve", "probe failed", err)
}
