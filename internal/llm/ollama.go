package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/aletheia-memory-sidecar/internal/jsonx"
)

// OllamaClient runs completions against a local Ollama server.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaClient builds a chat client for the given model.
func NewOllamaClient(baseURL, model string) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaClient{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Complete calls /api/chat and strips any thinking tags from the
// answer. Local models routinely leak them.
func (c *OllamaClient) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]map[string]string, 0, 2)
	if req.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	body := map[string]interface{}{
		"model":    c.model,
		"messages": messages,
		"stream":   false,
		"options": map[string]interface{}{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}

	content, err := makeRequest(ctx, c.httpClient, c.baseURL+"/api/chat", body, map[string]string{
		"Content-Type": "application/json",
	})
	if err != nil {
		return "", err
	}
	return StripThinkingTags(content), nil
}

// Model returns the detected model name.
func (c *OllamaClient) Model() string { return c.model }

// Close is a no-op; the HTTP client owns no resources.
func (c *OllamaClient) Close() error { return nil }

// makeRequest posts a JSON body and extracts the completion text from
// whichever response shape came back.
func makeRequest(ctx context.Context, client *http.Client, url string, body map[string]interface{}, headers map[string]string) (string, error) {
	jsonBody, err := jsonx.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result map[string]interface{}
	if err := jsonx.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	return extractContent(result)
}

// extractContent walks the known completion response shapes.
func extractContent(result map[string]interface{}) (string, error) {
	// OpenAI-compatible format
	if choices, ok := result["choices"].([]interface{}); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]interface{}); ok {
			if message, ok := choice["message"].(map[string]interface{}); ok {
				if content, ok := message["content"].(string); ok {
					return content, nil
				}
			}
		}
	}

	// Anthropic format
	if content, ok := result["content"].([]interface{}); ok && len(content) > 0 {
		if block, ok := content[0].(map[string]interface{}); ok {
			if text, ok := block["text"].(string); ok {
				return text, nil
			}
		}
	}

	// Ollama format
	if message, ok := result["message"].(map[string]interface{}); ok {
		if content, ok := message["content"].(string); ok {
			return content, nil
		}
	}

	// Direct content field
	if content, ok := result["content"].(string); ok {
		return content, nil
	}

	return "", fmt.Errorf("could not extract content from response")
}

var thinkTags = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinkingTags removes <think> blocks from model output.
func StripThinkingTags(content string) string {
	return strings.TrimSpace(thinkTags.ReplaceAllString(content, ""))
}
