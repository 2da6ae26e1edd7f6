package anthropic

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

const anthropicVersion = "2023-06-01"

func init() {
	llm.RegisterBackend(llm.ProviderAnthropic, func(client *http.Client, logger *zap.Logger) llm.Backend {
		return New(client, logger)
	})
}

// Backend speaks the Anthropic Messages API.
type Backend struct {
	client *http.Client
	logger *zap.Logger
}

// New creates the Anthropic backend.
func New(client *http.Client, logger *zap.Logger) *Backend {
	return &Backend{
		client: client,
		logger: logger.With(zap.String("provider", "anthropic")),
	}
}

var _ llm.Backend = (*Backend)(nil)

// Complete implements llm.Backend.
func (b *Backend) Complete(ctx context.Context, req llm.Request, apiKey string) (string, error) {
	maxTokens := req.Params.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024 // the Messages API requires explicit max_tokens
	}

	apiReq := Request{
		Model:     req.Model,
		System:    req.SystemPrompt,
		MaxTokens: maxTokens,
		Messages: []Message{
			{Role: "user", Content: req.UserPrompt},
		},
		Temperature: req.Params.Temperature,
		TopP:        req.Params.TopP,
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(req.Endpoint, "/")
	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", &llm.CallError{Class: llm.ClassConfig, Slot: req.Slot, Reason: "bad endpoint", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", err
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
	if len(apiResp.Content) == 0 {
		return "", &llm.CallError{Class: llm.ClassDecode, Slot: req.Slot, Reason: "empty response: no content blocks"}
	}

	var text strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}
