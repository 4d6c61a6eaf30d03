package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"subflow/internal/providers"
	"subflow/internal/services"
)

// DeepLClient talks to the official DeepL REST API.
type DeepLClient struct {
	httpClient *http.Client
}

func NewDeepLClient(httpClient *http.Client) *DeepLClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &DeepLClient{httpClient: httpClient}
}

type deeplRequest struct {
	Text       []string `json:"text"`
	SourceLang string   `json:"source_lang,omitempty"`
	TargetLang string   `json:"target_lang"`
}

type deeplResponse struct {
	Translations []struct {
		Text string `json:"text"`
	} `json:"translations"`
}

func (c *DeepLClient) Translate(ctx context.Context, candidate providers.Candidate, text, sourceLang, targetLang string) (string, error) {
	payload, err := json.Marshal(deeplRequest{
		Text:       []string{text},
		SourceLang: deeplLangCode(sourceLang),
		TargetLang: deeplLangCode(targetLang),
	})
	if err != nil {
		return "", services.Wrap(services.ErrTerminal, "translate", "deepl", "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, candidate.URL+"/v2/translate", bytes.NewReader(payload))
	if err != nil {
		return "", services.Wrap(services.ErrTerminal, "translate", "deepl", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "DeepL-Auth-Key "+candidate.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "translate", "deepl", "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "translate", "deepl", "read response", err)
	}
	if err := services.ClassifyHTTPStatus(resp.StatusCode); err != nil {
		return "", services.Wrap(err, "translate", "deepl", fmt.Sprintf("api returned %d", resp.StatusCode), nil)
	}

	var decoded deeplResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", services.Wrap(services.ErrTransient, "translate", "deepl", "decode response", err)
	}
	if len(decoded.Translations) == 0 {
		return "", services.Wrap(services.ErrTransient, "translate", "deepl", "response contains no translations", nil)
	}
	return decoded.Translations[0].Text, nil
}
