package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"subflow/internal/providers"
	"subflow/internal/services"
)

const defaultWhisperModel = "whisper-1"

// WhisperClient speaks the OpenAI audio transcription dialect: multipart
// POST to <base>/audio/transcriptions with a bearer token, where the base
// URL already includes the API version segment.
type WhisperClient struct {
	httpClient *http.Client
}

func NewWhisperClient(httpClient *http.Client) *WhisperClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &WhisperClient{httpClient: httpClient}
}

// Health verifies the API accepts the configured credential. The models
// endpoint is the cheapest authenticated call available.
func (c *WhisperClient) Health(ctx context.Context, candidate providers.Candidate) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate.URL+"/models", nil)
	if err != nil {
		return services.Wrap(services.ErrTerminal, "transcribe", "health", "build health request", err)
	}
	req.Header.Set("Authorization", "Bearer "+candidate.APIKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "transcribe", "health", "health probe failed", err)
	}
	defer resp.Body.Close()
	if err := services.ClassifyHTTPStatus(resp.StatusCode); err != nil {
		return services.Wrap(err, "transcribe", "health", fmt.Sprintf("models endpoint returned %d", resp.StatusCode), nil)
	}
	return nil
}

// Transcribe uploads one audio chunk and returns its transcript text.
func (c *WhisperClient) Transcribe(ctx context.Context, candidate providers.Candidate, audioPath string, hotwords []string) (string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return "", services.Wrap(services.ErrInvalidInput, "transcribe", "transcribe", "open audio chunk", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", services.Wrap(services.ErrTerminal, "transcribe", "transcribe", "build multipart body", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", services.Wrap(services.ErrTransient, "transcribe", "transcribe", "read audio chunk", err)
	}
	model := candidate.Model
	if model == "" {
		model = defaultWhisperModel
	}
	if err := writer.WriteField("model", model); err != nil {
		return "", services.Wrap(services.ErrTerminal, "transcribe", "transcribe", "write model field", err)
	}
	// Whisper has no hotword slot; the prompt field biases recognition the
	// same way.
	if len(hotwords) > 0 {
		if err := writer.WriteField("prompt", strings.Join(hotwords, ", ")); err != nil {
			return "", services.Wrap(services.ErrTerminal, "transcribe", "transcribe", "write prompt field", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", services.Wrap(services.ErrTerminal, "transcribe", "transcribe", "finalize multipart body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, candidate.URL+"/audio/transcriptions", &body)
	if err != nil {
		return "", services.Wrap(services.ErrTerminal, "transcribe", "transcribe", "build transcribe request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+candidate.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "transcribe", "transcribe", "transcribe request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "transcribe", "transcribe", "read transcribe response", err)
	}
	if err := services.ClassifyHTTPStatus(resp.StatusCode); err != nil {
		return "", services.Wrap(err, "transcribe", "transcribe",
			fmt.Sprintf("api returned %d: %s", resp.StatusCode, truncate(string(payload), 200)), nil)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return "", services.Wrap(services.ErrTransient, "transcribe", "transcribe", "decode transcribe response", err)
	}
	return result.Text, nil
}
