package llm

import (
	"context"
	"crypto/tls"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Provider names accepted in slot configuration.
const (
	ProviderOpenAI       = "openai-compatible"
	ProviderCustomOpenAI = "custom-openai-compatible"
	ProviderAnthropic    = "anthropic"
	ProviderOllama       = "ollama"
)

// DefaultLocalEndpoint is used for local-model slots with no endpoint.
const DefaultLocalEndpoint = "http://localhost:11434"

// Params are the sampling knobs forwarded to the provider.
type Params struct {
	Temperature      float64
	TopP             float64
	MaxTokens        int
	FrequencyPenalty float64
	PresencePenalty  float64
	ContextLength    int
}

// Request is one single-shot chat completion against a slot's endpoint.
// The API key is resolved from APIKeyEnv at call time and never stored.
type Request struct {
	Slot         string
	Provider     string
	Endpoint     string
	Model        string
	APIKeyEnv    string
	LocalModel   bool
	SystemPrompt string
	UserPrompt   string
	Params       Params
}

// Result is a successful completion plus call metadata destined for the
// slot event's meta map.
type Result struct {
	Text string
	Meta map[string]string
}

// Backend implements one provider's wire shape. Backends are stateless;
// endpoint, model, and credentials arrive with each request.
type Backend interface {
	// Complete performs one chat call and returns the assistant text.
	Complete(ctx context.Context, req Request, apiKey string) (string, error)
}

// BackendFactory builds a Backend. Provider sub-packages register
// themselves in init(): adding a provider means
// implementing Backend and calling RegisterBackend.
type BackendFactory func(client *http.Client, logger *zap.Logger) Backend

var (
	factoryMu sync.RWMutex
	factories = map[string]BackendFactory{}
)

// RegisterBackend registers a backend factory for the provider name.
func RegisterBackend(provider string, factory BackendFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[provider] = factory
}

// Client is the provider-agnostic LLM caller: provider dispatch, API key
// resolution, per-call deadline, retry with backoff, and a per-slot
// in-flight cap.
type Client struct {
	http     *http.Client
	logger   *zap.Logger
	backends map[string]Backend

	maxRetries  int
	baseBackoff time.Duration
	jitter      time.Duration
	callTimeout time.Duration

	semMu       sync.Mutex
	slotSem     map[string]chan struct{}
	maxInFlight int
}

// Option tweaks client construction.
type Option func(*Client)

// WithRetry overrides the retry count and base backoff.
func WithRetry(maxRetries int, baseBackoff time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.baseBackoff = baseBackoff
	}
}

// WithCallTimeout overrides the default per-call deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

// WithMaxInFlight overrides the per-slot concurrent call cap.
func WithMaxInFlight(n int) Option {
	return func(c *Client) { c.maxInFlight = n }
}

// NewClient creates the LLM client with every registered backend.
func NewClient(logger *zap.Logger, opts ...Option) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	httpClient := &http.Client{Transport: transport}

	c := &Client{
		http:        httpClient,
		logger:      logger.With(zap.String("component", "llm-client")),
		backends:    make(map[string]Backend),
		maxRetries:  3,
		baseBackoff: 500 * time.Millisecond,
		jitter:      250 * time.Millisecond,
		callTimeout: 120 * time.Second,
		slotSem:     make(map[string]chan struct{}),
		maxInFlight: 4,
	}
	for _, opt := range opts {
		opt(c)
	}

	factoryMu.RLock()
	for name, factory := range factories {
		c.backends[name] = factory(httpClient, c.logger)
	}
	factoryMu.RUnlock()

	return c
}

// Call performs one chat completion with retries. Transient errors
// (transport, 5xx, timeout, 429) retry up to maxRetries times with
// exponential backoff plus jitter; everything else fails fast.
func (c *Client) Call(ctx context.Context, req Request) (Result, error) {
	backend, apiKey, cerr := c.resolve(req)
	if cerr != nil {
		return Result{}, cerr
	}

	if err := c.acquire(ctx, req.Slot); err != nil {
		return Result{}, &CallError{Class: ClassCanceled, Slot: req.Slot, Reason: "canceled while queued", Cause: err}
	}
	defer c.release(req.Slot)

	start := time.Now()
	var lastErr *CallError

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.baseBackoff * (1 << (attempt - 1))
			wait += time.Duration(rand.Int63n(int64(c.jitter)))

			c.logger.Info("Retrying LLM call",
				zap.String("slot", req.Slot),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", c.maxRetries),
				zap.Duration("wait", wait),
				zap.Error(lastErr),
			)

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return Result{}, &CallError{Class: ClassCanceled, Slot: req.Slot, Reason: "canceled between retries", Cause: ctx.Err()}
			}
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
		}

		text, err := backend.Complete(callCtx, req, apiKey)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			return Result{
				Text: text,
				Meta: map[string]string{
					"provider":    req.Provider,
					"model":       req.Model,
					"duration_ms": strconv.FormatInt(time.Since(start).Milliseconds(), 10),
					"retry_count": strconv.Itoa(attempt),
				},
			}, nil
		}

		lastErr = asCallError(req.Slot, err)

		// The parent being canceled outranks whatever the backend saw.
		if ctx.Err() != nil {
			if ctx.Err() == context.DeadlineExceeded {
				lastErr = &CallError{Class: ClassTimeout, Slot: req.Slot, Reason: "call deadline exceeded", Cause: ctx.Err()}
			} else {
				lastErr = &CallError{Class: ClassCanceled, Slot: req.Slot, Reason: "call canceled", Cause: ctx.Err()}
			}
			return Result{}, lastErr
		}

		if !lastErr.Retryable() {
			return Result{}, lastErr
		}

		c.logger.Warn("LLM call failed",
			zap.String("slot", req.Slot),
			zap.Int("attempt", attempt),
			zap.String("class", string(lastErr.Class)),
			zap.Error(lastErr),
		)
	}

	return Result{}, lastErr
}

// resolve picks the backend and reads the API key from the environment.
func (c *Client) resolve(req Request) (Backend, string, *CallError) {
	provider := req.Provider
	if provider == ProviderCustomOpenAI {
		provider = ProviderOpenAI // same wire shape, different endpoint
	}

	backend, ok := c.backends[provider]
	if !ok {
		return nil, "", &CallError{Class: ClassConfig, Slot: req.Slot, Reason: "unknown provider " + req.Provider}
	}
	if req.Endpoint == "" && !req.LocalModel {
		return nil, "", &CallError{Class: ClassConfig, Slot: req.Slot, Reason: "endpoint not configured"}
	}

	var apiKey string
	if !req.LocalModel && req.Provider != ProviderOllama {
		if req.APIKeyEnv == "" {
			return nil, "", &CallError{Class: ClassConfig, Slot: req.Slot, Reason: "api_key_env not configured"}
		}
		apiKey = os.Getenv(req.APIKeyEnv)
		if apiKey == "" {
			// Log the env var name, never a value.
			return nil, "", &CallError{Class: ClassConfig, Slot: req.Slot, Reason: "environment variable " + req.APIKeyEnv + " is unset"}
		}
	}
	return backend, apiKey, nil
}

func (c *Client) acquire(ctx context.Context, slot string) error {
	c.semMu.Lock()
	sem, ok := c.slotSem[slot]
	if !ok {
		sem = make(chan struct{}, c.maxInFlight)
		c.slotSem[slot] = sem
	}
	c.semMu.Unlock()

	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release(slot string) {
	c.semMu.Lock()
	sem := c.slotSem[slot]
	c.semMu.Unlock()
	<-sem
}

// asCallError coerces backend errors into classified form.
func asCallError(slot string, err error) *CallError {
	if ce, ok := err.(*CallError); ok {
		if ce.Slot == "" {
			ce.Slot = slot
		}
		return ce
	}
	return classifyTransport(slot, err)
}
