package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/FrenchMajesty/ingredient-filter/internal/retry"
)

const openaiBaseURL = "https://api.openai.com/v1"

// NewClient creates a chat client pointed at api.openai.com
func NewClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		APIKey:      apiKey,
		HTTPClient:  http.DefaultClient,
		RetryConfig: retry.DefaultConfig(),
		BaseURL:     openaiBaseURL,
		DumpDir:     "debug_llm_requests",
	}
}

var _ LanguageModelClient = (*OpenAIClient)(nil)

// ChatCompletion sends a chat completion request with retry logic
func (c *OpenAIClient) ChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	url := strings.TrimRight(c.BaseURL, "/") + "/chat/completions"

	bodyBytes, err := c.createAndRunRetryableRequest(ctx, url, req, "chat")
	if err != nil {
		return nil, err
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(bodyBytes, &chatResp); err != nil {
		return nil, &ChatCompletionError{
			Message: fmt.Sprintf("failed to parse chat completion response: %v", err),
			RawBody: json.RawMessage(bodyBytes),
		}
	}

	return &chatResp, nil
}

// SetBaseURL points the client at another OpenAI-compatible host
func (c *OpenAIClient) SetBaseURL(baseUrl string) {
	if baseUrl == "" {
		return
	}
	c.BaseURL = baseUrl
}

func (c *OpenAIClient) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
