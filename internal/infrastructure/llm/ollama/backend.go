package ollama

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
	llm.RegisterBackend(llm.ProviderOllama, func(client *http.Client, logger *zap.Logger) llm.Backend {
		return New(client, logger)
	})
}

// Backend speaks the Ollama chat API. No authentication is sent.
type Backend struct {
	client *http.Client
	logger *zap.Logger
}

// New creates the Ollama backend.
func New(client *http.Client, logger *zap.Logger) *Backend {
	return &Backend{
		client: client,
		logger: logger.With(zap.String("provider", "ollama")),
	}
}

var _ llm.Backend = (*Backend)(nil)

// Complete implements llm.Backend.
func (b *Backend) Complete(ctx context.Context, req llm.Request, _ string) (string, error) {
	messages := make([]Message, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: req.UserPrompt})

	apiReq := Request{
		Model:    req.Model,
		Messages: messages,
		Stream:   false,
		Options: Options{
			Temperature: req.Params.Temperature,
			TopP:        req.Params.TopP,
			NumCtx:      req.Params.ContextLength,
			NumPredict:  req.Params.MaxTokens,
		},
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(req.Endpoint, "/")
	if endpoint == "" {
		endpoint = llm.DefaultLocalEndpoint
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", &llm.CallError{Class: llm.ClassConfig, Slot: req.Slot, Reason: "bad endpoint", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

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
	// An empty reply is a valid completion; the caller records it as-is.
	return apiResp.Message.Content, nil
}
