package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"subflow/internal/providers"
	"subflow/internal/services"
)

// DeepLXClient talks to a self-hosted DeepLX endpoint. No credential is
// required; the endpoint URL is the full translate route.
type DeepLXClient struct {
	httpClient *http.Client
}

func NewDeepLXClient(httpClient *http.Client) *DeepLXClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &DeepLXClient{httpClient: httpClient}
}

type deeplxRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

type deeplxResponse struct {
	Code int    `json:"code"`
	Data string `json:"data"`
}

func (c *DeepLXClient) Translate(ctx context.Context, candidate providers.Candidate, text, sourceLang, targetLang string) (string, error) {
	payload, err := json.Marshal(deeplxRequest{
		Text:       text,
		SourceLang: deeplLangCode(sourceLang),
		TargetLang: deeplLangCode(targetLang),
	})
	if err != nil {
		return "", services.Wrap(services.ErrTerminal, "translate", "deeplx", "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, candidate.URL, bytes.NewReader(payload))
	if err != nil {
		return "", services.Wrap(services.ErrTerminal, "translate", "deeplx", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "translate", "deeplx", "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "translate", "deeplx", "read response", err)
	}
	if err := services.ClassifyHTTPStatus(resp.StatusCode); err != nil {
		return "", services.Wrap(err, "translate", "deeplx", fmt.Sprintf("endpoint returned %d", resp.StatusCode), nil)
	}

	var decoded deeplxResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", services.Wrap(services.ErrTransient, "translate", "deeplx", "decode response", err)
	}
	if decoded.Code != 0 && decoded.Code != http.StatusOK {
		return "", services.Wrap(services.ErrTransient, "translate", "deeplx", fmt.Sprintf("endpoint reported code %d", decoded.Code), nil)
	}
	return decoded.Data, nil
}

// deeplLangCode maps a BCP 47 tag to the upper-case two-letter codes the
// DeepL family expects. An empty source lets the service auto-detect.
func deeplLangCode(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	if idx := strings.IndexAny(lang, "-_"); idx > 0 {
		lang = lang[:idx]
	}
	return strings.ToUpper(lang)
}
