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

// FunASRClient talks to a FunASR-style HTTP server: multipart uploads to
// /transcribe and a GET /health liveness probe.
type FunASRClient struct {
	httpClient *http.Client
}

// NewFunASRClient builds a client. A nil httpClient falls back to a default;
// per-call timeouts come from the candidate via context deadlines.
func NewFunASRClient(httpClient *http.Client) *FunASRClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &FunASRClient{httpClient: httpClient}
}

// Health probes the server's /health endpoint.
func (c *FunASRClient) Health(ctx context.Context, candidate providers.Candidate) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate.URL+"/health", nil)
	if err != nil {
		return services.Wrap(services.ErrTerminal, "transcribe", "health", "build health request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "transcribe", "health", "health probe failed", err)
	}
	defer resp.Body.Close()
	if err := services.ClassifyHTTPStatus(resp.StatusCode); err != nil {
		return services.Wrap(err, "transcribe", "health", fmt.Sprintf("health probe returned %d", resp.StatusCode), nil)
	}
	return nil
}

// Transcribe uploads one audio chunk and returns the normalized transcript.
func (c *FunASRClient) Transcribe(ctx context.Context, candidate providers.Candidate, audioPath string, hotwords []string) (string, error) {
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
	if len(hotwords) > 0 {
		if err := writer.WriteField("hotwords", strings.Join(hotwords, " ")); err != nil {
			return "", services.Wrap(services.ErrTerminal, "transcribe", "transcribe", "write hotwords field", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", services.Wrap(services.ErrTerminal, "transcribe", "transcribe", "finalize multipart body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, candidate.URL+"/transcribe", &body)
	if err != nil {
		return "", services.Wrap(services.ErrTerminal, "transcribe", "transcribe", "build transcribe request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

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
			fmt.Sprintf("server returned %d: %s", resp.StatusCode, truncate(string(payload), 200)), nil)
	}

	text, err := NormalizeResult(payload)
	if err != nil {
		return "", err
	}
	return text, nil
}

// NormalizeResult flattens the server's result payload to plain text. FunASR
// deployments disagree about the shape: the result field may be a string, an
// object with a text field, or a list of such objects.
func NormalizeResult(payload []byte) (string, error) {
	var envelope struct {
		Result json.RawMessage `json:"result"`
		Text   string          `json:"text"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", services.Wrap(services.ErrTransient, "transcribe", "normalize", "decode transcribe response", err)
	}
	if len(envelope.Result) == 0 {
		if envelope.Text != "" {
			return envelope.Text, nil
		}
		return "", services.Wrap(services.ErrTransient, "transcribe", "normalize", "response has no result field", nil)
	}
	return flattenResult(envelope.Result)
}

func flattenResult(raw json.RawMessage) (string, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}

	var asObject struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &asObject); err == nil && asObject.Text != "" {
		return asObject.Text, nil
	}

	var asList []json.RawMessage
	if err := json.Unmarshal(raw, &asList); err == nil {
		parts := make([]string, 0, len(asList))
		for _, item := range asList {
			text, err := flattenResult(item)
			if err != nil {
				return "", err
			}
			if text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, " "), nil
	}

	return "", services.Wrap(services.ErrTransient, "transcribe", "normalize", "unrecognized result shape", nil)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
