package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FrenchMajesty/ingredient-filter/internal/retry"
)

// isRetryableError determines if an error should trigger a retry
func (c *OpenAIClient) isRetryableError(err error, statusCode int, responseBody []byte) bool {
	// Caller gave up; retrying cannot help
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Network errors
	if err != nil && statusCode == 0 {
		return true
	}

	if statusCode >= 500 || statusCode == http.StatusTooManyRequests {
		return true
	}

	// Groq reports failed structured generations as 400 with failed_generation
	if statusCode == http.StatusBadRequest || statusCode == http.StatusOK {
		if responseBody == nil {
			return false
		}
		var errorResp ChatCompletionResponseError
		if json.Unmarshal(responseBody, &errorResp) == nil {
			if errorResp.Error.FailedGeneration != "" ||
				strings.Contains(errorResp.Error.Message, "failed_generation") {
				return true
			}
		}
		return strings.Contains(string(responseBody), "failed_generation")
	}

	return false
}

// createAndRunRetryableRequest executes an HTTP request with retry logic
func (c *OpenAIClient) createAndRunRetryableRequest(ctx context.Context, url string, requestBody any, apiName string) ([]byte, error) {
	opts := retry.Options{
		Config:       c.RetryConfig,
		ErrorChecker: c.isRetryableError,
		Logger:       c.logger(),
		APIName:      "OpenAI " + apiName,
	}

	return retry.Execute(ctx, opts, c.buildRetryableFn(ctx, url, requestBody, apiName))
}

// buildRetryableFn builds a single attempt for the given request body
func (c *OpenAIClient) buildRetryableFn(ctx context.Context, url string, requestBody any, apiName string) retry.Attempt[[]byte] {
	return func(attempt int) ([]byte, int, []byte, error) {
		body, err := json.Marshal(requestBody)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("failed to marshal %s request: %w", apiName, err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
		if err != nil {
			return nil, 0, nil, fmt.Errorf("failed to create HTTP request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.HTTPClient.Do(httpReq)
		if err != nil {
			return nil, 0, nil, err
		}
		defer resp.Body.Close()

		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, resp.StatusCode, nil, fmt.Errorf("failed to read %s response body: %w", apiName, err)
		}

		if chatReq, ok := requestBody.(ChatCompletionRequest); ok && c.DumpRequests {
			c.saveResponseToFile(chatReq, bodyBytes, resp.StatusCode)
		}

		if resp.StatusCode != http.StatusOK {
			return nil, resp.StatusCode, bodyBytes, &ChatCompletionError{
				Message:    fmt.Sprintf("openai %s API error %d", apiName, resp.StatusCode),
				StatusCode: resp.StatusCode,
				RawBody:    json.RawMessage(bodyBytes),
			}
		}

		return bodyBytes, resp.StatusCode, bodyBytes, nil
	}
}

// saveResponseToFile writes the request/response pair under DumpDir/<model>/
func (c *OpenAIClient) saveResponseToFile(req ChatCompletionRequest, bodyBytes []byte, statusCode int) {
	logger := c.logger()
	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("openai_req_%s_%s.json", timestamp, uuid.NewString()[:8])

	modelDir := filepath.Join(c.DumpDir, req.Model)
	if err := os.MkdirAll(modelDir, 0755); err != nil {
		logger.Error("failed to create dump directory", "dir", modelDir, "error", err)
		return
	}

	var responseBody any
	if err := json.Unmarshal(bodyBytes, &responseBody); err != nil {
		responseBody = string(bodyBytes)
	}

	jsonData, err := json.MarshalIndent(map[string]any{
		"request":  req,
		"response": responseBody,
		"status":   statusCode,
	}, "", "  ")
	if err != nil {
		logger.Error("failed to marshal dump", "error", err)
		return
	}

	path := filepath.Join(modelDir, filename)
	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		logger.Error("failed to write dump", "path", path, "error", err)
	}
}
