package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/saybook/saybook/pkg/types"
)

// maxJSONRepairDepth bounds how many times a malformed structured
// response is sent back to the model for fixing.
const maxJSONRepairDepth = 2

// OpenAILLMProvider implements LLMProvider using OpenAI-compatible APIs
type OpenAILLMProvider struct {
	name       string
	config     types.LLMProviderConfig
	httpClient *http.Client
}

// NewOpenAILLMProvider creates a new OpenAI-compatible LLM provider
func NewOpenAILLMProvider(config types.LLMProviderConfig) (*OpenAILLMProvider, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required for OpenAI LLM provider")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model is required for OpenAI LLM provider")
	}

	timeout := 60 * time.Second
	if config.TimeoutSec > 0 {
		timeout = time.Duration(config.TimeoutSec) * time.Second
	}

	return &OpenAILLMProvider{
		name:   config.Name,
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func (o *OpenAILLMProvider) Name() string {
	return o.name
}

// Generate calls the LLM with internal transport-level retries. Errors
// returned after exhausting retries keep the upstream message text so
// callers can classify them.
func (o *OpenAILLMProvider) Generate(ctx context.Context, prompt string) (string, error) {
	maxRetries := o.config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(time.Second) * (float64(int(1)<<attempt) + rand.Float64()))
			log.Printf("[LLM-%s] Retry %d/%d after %v: %v", o.name, attempt, maxRetries, delay.Round(time.Millisecond), lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		content, err := o.callChatCompletion(ctx, prompt)
		if err == nil {
			return content, nil
		}
		lastErr = err

		// Context cancellation is not retryable
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	return "", fmt.Errorf("LLM call failed after %d retries: %w", maxRetries, lastErr)
}

// GenerateJSON calls the LLM and decodes its structured output into out.
// The payload may be wrapped in <result> tags or prose; a malformed
// payload is sent back to the model for repair up to maxJSONRepairDepth
// times.
func (o *OpenAILLMProvider) GenerateJSON(ctx context.Context, prompt string, out any) error {
	content, err := o.Generate(ctx, prompt)
	if err != nil {
		return err
	}

	payload := ExtractJSONPayload(content)
	if err := json.Unmarshal([]byte(payload), out); err == nil {
		return nil
	}

	for depth := 1; depth <= maxJSONRepairDepth; depth++ {
		log.Printf("[LLM-%s] Malformed JSON payload, requesting fix (depth %d/%d)", o.name, depth, maxJSONRepairDepth)
		fixPrompt := fmt.Sprintf(
			"The following is intended to be valid JSON but is malformed. Return ONLY the corrected JSON, no explanation:\n%s",
			payload)
		content, err = o.Generate(ctx, fixPrompt)
		if err != nil {
			return err
		}
		payload = ExtractJSONPayload(content)
		if err := json.Unmarshal([]byte(payload), out); err == nil {
			return nil
		}
	}

	return fmt.Errorf("LLM returned unparseable JSON after %d fix attempts: %s", maxJSONRepairDepth, truncateForLog(payload, 200))
}

func (o *OpenAILLMProvider) Close() error {
	// Close HTTP client connections
	o.httpClient.CloseIdleConnections()
	return nil
}

// ExtractJSONPayload pulls the structured payload out of a model
// response: prefer an explicit <result> block, otherwise the widest
// JSON array or object span, otherwise the trimmed text itself.
func ExtractJSONPayload(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "<result>"); start != -1 {
		if end := strings.Index(response[start:], "</result>"); end != -1 {
			return strings.TrimSpace(response[start+len("<result>") : start+end])
		}
	}

	for _, pair := range [][2]string{{"[", "]"}, {"{", "}"}} {
		startIdx := strings.Index(response, pair[0])
		endIdx := strings.LastIndex(response, pair[1])
		if startIdx != -1 && endIdx != -1 && startIdx < endIdx {
			return response[startIdx : endIdx+1]
		}
	}

	return response
}

// OpenAI API structures
type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
	Usage   usage    `json:"usage"`
}

type choice struct {
	Index        int     `json:"index"`
	Message      message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// callChatCompletion calls the OpenAI-compatible chat completion endpoint
func (o *OpenAILLMProvider) callChatCompletion(ctx context.Context, prompt string) (string, error) {
	reqBody := chatCompletionRequest{
		Model: o.config.Model,
		Messages: []message{
			{
				Role:    "user",
				Content: prompt,
			},
		},
	}

	// Only set temperature if explicitly configured
	if o.config.Temperature > 0 {
		reqBody.Temperature = o.config.Temperature
	}

	// Encode request
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	// Create HTTP request
	endpoint := o.config.Endpoint
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	endpoint += "chat/completions"

	// Log request details
	log.Printf("[LLM-%s] Request: POST %s", o.name, endpoint)
	log.Printf("[LLM-%s] Request payload: model=%s, prompt_length=%d chars", o.name, o.config.Model, len(prompt))
	log.Printf("[LLM-%s] Request prompt (truncated): %s", o.name, truncateForLog(prompt, 500))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		log.Printf("[LLM-%s] Failed to create request: %v", o.name, err)
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers
	httpReq.Header.Set("Content-Type", "application/json")
	if o.config.APIKey != "" {
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", o.config.APIKey))
	}

	// Execute request
	startTime := time.Now()
	resp, err := o.httpClient.Do(httpReq)
	duration := time.Since(startTime)
	if err != nil {
		log.Printf("[LLM-%s] Request failed after %v: %v", o.name, duration, err)
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	log.Printf("[LLM-%s] Response: %d %s (took %v)", o.name, resp.StatusCode, resp.Status, duration)

	// Read response
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[LLM-%s] Failed to read response body: %v", o.name, err)
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	// Check for errors
	if resp.StatusCode != http.StatusOK {
		var errResp apiErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			log.Printf("[LLM-%s] API error: %s (type: %s, code: %s)", o.name, errResp.Error.Message, errResp.Error.Type, errResp.Error.Code)
			return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, errResp.Error.Message)
		}
		log.Printf("[LLM-%s] API request failed: %s", o.name, truncateForLog(string(body), 500))
		return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	// Parse response
	var apiResp chatCompletionResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		log.Printf("[LLM-%s] Failed to parse response JSON: %v", o.name, err)
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(apiResp.Choices) == 0 {
		log.Printf("[LLM-%s] No choices in API response", o.name)
		return "", fmt.Errorf("no choices in API response")
	}

	content := apiResp.Choices[0].Message.Content
	log.Printf("[LLM-%s] Response payload: tokens(prompt=%d, completion=%d, total=%d), finish_reason=%s",
		o.name, apiResp.Usage.PromptTokens, apiResp.Usage.CompletionTokens, apiResp.Usage.TotalTokens, apiResp.Choices[0].FinishReason)
	log.Printf("[LLM-%s] Response content (truncated): %s", o.name, truncateForLog(content, 500))

	return content, nil
}

// truncateForLog truncates a string for logging purposes
func truncateForLog(s string, maxLen int) string {
	// Remove newlines for cleaner logs
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
