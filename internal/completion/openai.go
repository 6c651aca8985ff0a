package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultModel is used when OpenAIConfig.Model is empty.
const DefaultModel = "gpt-4o-mini"

// OpenAIConfig configures an OpenAI-compatible chat completions client.
type OpenAIConfig struct {
	// Endpoint is the full chat completions URL, for example
	// https://api.openai.com/v1/chat/completions.
	Endpoint    string
	Model       string
	APIKey      string
	MaxTokens   int
	Temperature float64
}

// OpenAI talks to any server implementing the OpenAI chat completions wire
// format (OpenAI, OpenRouter, vLLM, Ollama, llama.cpp).
type OpenAI struct {
	httpClient *http.Client
	cfg        OpenAIConfig
}

// NewOpenAI returns a client. A nil httpClient uses http.DefaultClient; the
// per-call deadline comes from the context passed to Complete.
func NewOpenAI(httpClient *http.Client, cfg OpenAIConfig) *OpenAI {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.8
	}
	return &OpenAI{httpClient: httpClient, cfg: cfg}
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Choices []struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
}

// ProviderError is a non-200 answer from the completion server.
type ProviderError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("completion/openai: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("completion/openai: HTTP %d: %s: %s", e.StatusCode, e.Type, e.Message)
}

// Complete sends one chat completion with the personality's system prompt.
func (o *OpenAI) Complete(ctx context.Context, prompt, personality string) (string, error) {
	p, _ := LookupPersonality(personality)
	body, err := json.Marshal(openaiRequest{
		Model: o.cfg.Model,
		Messages: []openaiMessage{
			{Role: "system", Content: p.SystemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("completion/openai: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("completion/openai: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		if ctxErr := contextError(ctx, "completion/openai"); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("completion/openai: sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", readProviderError(resp)
	}

	var wire openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		if ctxErr := contextError(ctx, "completion/openai"); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("completion/openai: decoding response: %w", err)
	}
	if len(wire.Choices) == 0 {
		return "", fmt.Errorf("completion/openai: response has no choices")
	}
	return strings.TrimSpace(wire.Choices[0].Message.Content), nil
}

// readProviderError parses {"error":{"type":"...","message":"..."}} and falls
// back to the raw body.
func readProviderError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var wire struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wire) == nil && wire.Error.Message != "" {
		return &ProviderError{StatusCode: resp.StatusCode, Type: wire.Error.Type, Message: wire.Error.Message}
	}
	return &ProviderError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
