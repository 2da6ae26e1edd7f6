package llm_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gliksbot/dexter/internal/infrastructure/llm"
	_ "github.com/gliksbot/dexter/internal/infrastructure/llm/anthropic"
	_ "github.com/gliksbot/dexter/internal/infrastructure/llm/ollama"
	_ "github.com/gliksbot/dexter/internal/infrastructure/llm/openai"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func openAIBody(text string) string {
	return `{"choices":[{"message":{"role":"assistant","content":` + jsonString(text) + `}}]}`
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func baseRequest(endpoint string) llm.Request {
	return llm.Request{
		Slot:       "alpha",
		Provider:   llm.ProviderOpenAI,
		Endpoint:   endpoint,
		Model:      "test-model",
		APIKeyEnv:  "TEST_ALPHA_KEY",
		UserPrompt: "hello",
	}
}

// === Call ===

func TestCallSuccess(t *testing.T) {
	t.Setenv("TEST_ALPHA_KEY", "sk-test")

	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		w.Write([]byte(openAIBody("hi there")))
	}))
	defer server.Close()

	client := llm.NewClient(testLogger())
	result, err := client.Call(context.Background(), baseRequest(server.URL))
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result.Text != "hi there" {
		t.Errorf("Text = %q, want %q", result.Text, "hi there")
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q, want Bearer sk-test", gotAuth)
	}
	if result.Meta["retry_count"] != "0" {
		t.Errorf("retry_count = %q, want 0", result.Meta["retry_count"])
	}
	if result.Meta["provider"] != llm.ProviderOpenAI {
		t.Errorf("provider = %q", result.Meta["provider"])
	}
}

func TestCallRetriesServerError(t *testing.T) {
	t.Setenv("TEST_ALPHA_KEY", "sk-test")

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream overloaded", http.StatusBadGateway)
			return
		}
		w.Write([]byte(openAIBody("recovered")))
	}))
	defer server.Close()

	client := llm.NewClient(testLogger(), llm.WithRetry(3, time.Millisecond))
	result, err := client.Call(context.Background(), baseRequest(server.URL))
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result.Text != "recovered" {
		t.Errorf("Text = %q, want recovered", result.Text)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
	if result.Meta["retry_count"] != "2" {
		t.Errorf("retry_count = %q, want 2", result.Meta["retry_count"])
	}
}

func TestCallExhaustsRetries(t *testing.T) {
	t.Setenv("TEST_ALPHA_KEY", "sk-test")

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := llm.NewClient(testLogger(), llm.WithRetry(2, time.Millisecond))
	_, err := client.Call(context.Background(), baseRequest(server.URL))
	if err == nil {
		t.Fatal("expected error")
	}
	if llm.ClassOf(err) != llm.ClassProvider5xx {
		t.Errorf("class = %s, want provider_5xx", llm.ClassOf(err))
	}
	// 1 initial attempt plus 2 retries.
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestCallClientErrorFailsFast(t *testing.T) {
	t.Setenv("TEST_ALPHA_KEY", "sk-test")

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client := llm.NewClient(testLogger(), llm.WithRetry(3, time.Millisecond))
	_, err := client.Call(context.Background(), baseRequest(server.URL))
	if err == nil {
		t.Fatal("expected error")
	}
	if llm.ClassOf(err) != llm.ClassProvider4xx {
		t.Errorf("class = %s, want provider_4xx", llm.ClassOf(err))
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1 (no retries on 4xx)", got)
	}
}

func TestCallRateLimitRetries(t *testing.T) {
	t.Setenv("TEST_ALPHA_KEY", "sk-test")

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(openAIBody("ok")))
	}))
	defer server.Close()

	client := llm.NewClient(testLogger(), llm.WithRetry(2, time.Millisecond))
	result, err := client.Call(context.Background(), baseRequest(server.URL))
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result.Text != "ok" {
		t.Errorf("Text = %q", result.Text)
	}
}

func TestCallDecodeErrorNotRetried(t *testing.T) {
	t.Setenv("TEST_ALPHA_KEY", "sk-test")

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("not json at all"))
	}))
	defer server.Close()

	client := llm.NewClient(testLogger(), llm.WithRetry(3, time.Millisecond))
	_, err := client.Call(context.Background(), baseRequest(server.URL))
	if err == nil {
		t.Fatal("expected error")
	}
	if llm.ClassOf(err) != llm.ClassDecode {
		t.Errorf("class = %s, want decode", llm.ClassOf(err))
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestCallCanceled(t *testing.T) {
	t.Setenv("TEST_ALPHA_KEY", "sk-test")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	client := llm.NewClient(testLogger())
	_, err := client.Call(ctx, baseRequest(server.URL))
	if err == nil {
		t.Fatal("expected error")
	}
	if llm.ClassOf(err) != llm.ClassCanceled {
		t.Errorf("class = %s, want canceled", llm.ClassOf(err))
	}
}

// === Config validation ===

func TestCallMissingAPIKey(t *testing.T) {
	t.Setenv("TEST_ALPHA_KEY", "")

	client := llm.NewClient(testLogger())
	_, err := client.Call(context.Background(), baseRequest("http://localhost:1"))
	if err == nil {
		t.Fatal("expected error")
	}
	if llm.ClassOf(err) != llm.ClassConfig {
		t.Errorf("class = %s, want config", llm.ClassOf(err))
	}
	// The message names the env var, never a key value.
	if got := err.Error(); !strings.Contains(got, "TEST_ALPHA_KEY") {
		t.Errorf("error %q should name the env var", got)
	}
}

func TestCallUnknownProvider(t *testing.T) {
	client := llm.NewClient(testLogger())
	req := baseRequest("http://localhost:1")
	req.Provider = "mystery"
	_, err := client.Call(context.Background(), req)
	if err == nil {
		t.Fatal("expected error")
	}
	if llm.ClassOf(err) != llm.ClassConfig {
		t.Errorf("class = %s, want config", llm.ClassOf(err))
	}
}

func TestCallMissingEndpoint(t *testing.T) {
	t.Setenv("TEST_ALPHA_KEY", "sk-test")

	client := llm.NewClient(testLogger())
	req := baseRequest("")
	_, err := client.Call(context.Background(), req)
	if llm.ClassOf(err) != llm.ClassConfig {
		t.Errorf("class = %v, want config", llm.ClassOf(err))
	}
}

// === Provider wire shapes ===

func TestAnthropicWireShape(t *testing.T) {
	t.Setenv("TEST_ALPHA_KEY", "sk-ant-test")

	var gotKey, gotVersion string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		json.NewDecoder(r.Body).Decode(&gotBody)
		if r.URL.Path != "/messages" {
			t.Errorf("path = %s, want /messages", r.URL.Path)
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"claude says hi"}]}`))
	}))
	defer server.Close()

	req := baseRequest(server.URL)
	req.Provider = llm.ProviderAnthropic
	req.SystemPrompt = "be brief"
	req.Params.MaxTokens = 2048

	client := llm.NewClient(testLogger())
	result, err := client.Call(context.Background(), req)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result.Text != "claude says hi" {
		t.Errorf("Text = %q", result.Text)
	}
	if gotKey != "sk-ant-test" {
		t.Errorf("x-api-key = %q", gotKey)
	}
	if gotVersion != "2023-06-01" {
		t.Errorf("anthropic-version = %q", gotVersion)
	}
	if gotBody["system"] != "be brief" {
		t.Errorf("system = %v, want top-level field", gotBody["system"])
	}
	if gotBody["max_tokens"] != float64(2048) {
		t.Errorf("max_tokens = %v", gotBody["max_tokens"])
	}
}

func TestOllamaWireShape(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s, want /api/chat", r.URL.Path)
		}
		w.Write([]byte(`{"model":"local","message":{"role":"assistant","content":"local says hi"},"done":true}`))
	}))
	defer server.Close()

	req := llm.Request{
		Slot:       "local",
		Provider:   llm.ProviderOllama,
		Endpoint:   server.URL,
		Model:      "local-model",
		LocalModel: true,
		UserPrompt: "hello",
		Params: llm.Params{
			Temperature:   0.7,
			ContextLength: 8192,
		},
	}

	client := llm.NewClient(testLogger())
	result, err := client.Call(context.Background(), req)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result.Text != "local says hi" {
		t.Errorf("Text = %q", result.Text)
	}
	if gotAuth != "" {
		t.Errorf("Authorization = %q, want none for ollama", gotAuth)
	}
	if gotBody["stream"] != false {
		t.Errorf("stream = %v, want false", gotBody["stream"])
	}
	if gotBody["model"] != "local-model" {
		t.Errorf("model = %v, want the configured model name", gotBody["model"])
	}
	opts, _ := gotBody["options"].(map[string]any)
	if opts["num_ctx"] != float64(8192) {
		t.Errorf("options.num_ctx = %v", opts["num_ctx"])
	}
}

func TestOllamaEmptyReplyOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"local","message":{"role":"assistant","content":""},"done":true}`))
	}))
	defer server.Close()

	client := llm.NewClient(testLogger())
	result, err := client.Call(context.Background(), llm.Request{
		Slot:       "local",
		Provider:   llm.ProviderOllama,
		Endpoint:   server.URL,
		Model:      "local-model",
		LocalModel: true,
		UserPrompt: "hello",
	})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result.Text != "" {
		t.Errorf("Text = %q, want empty", result.Text)
	}
}

// === Error classification ===

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  *llm.CallError
		want bool
	}{
		{"transport", &llm.CallError{Class: llm.ClassTransport}, true},
		{"5xx", &llm.CallError{Class: llm.ClassProvider5xx, Status: 502}, true},
		{"timeout", &llm.CallError{Class: llm.ClassTimeout}, true},
		{"429", &llm.CallError{Class: llm.ClassProvider4xx, Status: 429}, true},
		{"400", &llm.CallError{Class: llm.ClassProvider4xx, Status: 400}, false},
		{"config", &llm.CallError{Class: llm.ClassConfig}, false},
		{"decode", &llm.CallError{Class: llm.ClassDecode}, false},
		{"canceled", &llm.CallError{Class: llm.ClassCanceled}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.Retryable(); got != tc.want {
				t.Errorf("Retryable() = %v, want %v", got, tc.want)
			}
		})
	}
}
