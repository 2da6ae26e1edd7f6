package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/gliksbot/dexter/internal/infrastructure/llm"
)

func init() {
	llm.RegisterBackend(llm.ProviderOpenAI, func(client *http.Client, logger *zap.Logger) llm.Backend {
		return New(client, logger)
	})
}

// Backend speaks the OpenAI chat-completions wire shape. Compatible
// with OpenAI, vLLM, DeepSeek, and any /chat/completions clone.
type Backend struct {
	client *http.Client
	logger *zap.Logger
}

// New creates the OpenAI-compatible backend.
func New(client *http.Client, logger *zap.Logger) *Backend {
	return &Backend{
		client: client,
		logger: logger.With(zap.String("provider", "openai-compatible")),
	}
}

var _ llm.Backend = (*Backend)(nil)

// Complete implements llm.Backend.
func (b *Backend) Complete(ctx context.Context, req llm.Request, apiKey string) (string, error) {
	apiReq := Request{
		Model: req.Model,
		Messages: []Message{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		Temperature:      req.Params.Temperature,
		TopP:             req.Params.TopP,
		MaxTokens:        req.Params.MaxTokens,
		FrequencyPenalty: req.Params.FrequencyPenalty,
		PresencePenalty:  req.Params.PresencePenalty,
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(req.Endpoint, "/")
	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &llm.CallError{Class: llm.ClassConfig, Slot: req.Slot, Reason: "bad endpoint", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", err // classified by the client
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", llm.StatusError(req.Slot, resp.StatusCode, string(respBody))
	}

	var apiResp Response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", &llm.CallError{Class: llm.ClassDecode, Slot: req.Slot, Reason: "malformed response", Cause: err}
	}
	if len(apiResp.Choices) == 0 {
		return "", &llm.CallError{Class: llm.ClassDecode, Slot: req.Slot, Reason: "empty response: no choices"}
	}

	return apiResp.Choices[0].Message.Content, nil
}
