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

const defaultChatModel = "gpt-4o-mini"

// defaultTranslatePrompt is used when a provider carries no prompt override.
// %s receives the target language name.
const defaultTranslatePrompt = "You are a professional subtitle translator. Translate the user's text into %s. Preserve line breaks. Output only the translation, no commentary."

// OpenAIClient translates through a chat-completions endpoint. The base URL
// already includes the API version segment, so any OpenAI-compatible gateway
// works.
type OpenAIClient struct {
	httpClient *http.Client
}

func NewOpenAIClient(httpClient *http.Client) *OpenAIClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OpenAIClient{httpClient: httpClient}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *OpenAIClient) Translate(ctx context.Context, candidate providers.Candidate, text, sourceLang, targetLang string) (string, error) {
	model := candidate.Model
	if model == "" {
		model = defaultChatModel
	}
	systemPrompt := candidate.Prompt
	if systemPrompt == "" {
		systemPrompt = fmt.Sprintf(defaultTranslatePrompt, targetLang)
	} else if strings.Contains(systemPrompt, "%s") {
		systemPrompt = fmt.Sprintf(systemPrompt, targetLang)
	}

	payload, err := json.Marshal(chatCompletionRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", services.Wrap(services.ErrTerminal, "translate", "openai", "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, candidate.URL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", services.Wrap(services.ErrTerminal, "translate", "openai", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+candidate.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "translate", "openai", "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "translate", "openai", "read response", err)
	}
	if err := services.ClassifyHTTPStatus(resp.StatusCode); err != nil {
		return "", services.Wrap(err, "translate", "openai", fmt.Sprintf("api returned %d", resp.StatusCode), nil)
	}

	var decoded chatCompletionResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", services.Wrap(services.ErrTransient, "translate", "openai", "decode response", err)
	}
	if len(decoded.Choices) == 0 {
		return "", services.Wrap(services.ErrTransient, "translate", "openai", "response contains no choices", nil)
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	return content, nil
}
