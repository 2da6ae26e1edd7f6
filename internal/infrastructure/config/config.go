package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/gliksbot/dexter/internal/infrastructure/llm"
)

// Config is the full typed application configuration. There is one
// struct for the whole process; hot reload swaps it atomically.
type Config struct {
	Server   ServerConfig          `mapstructure:"server" yaml:"server"`
	Log      LogConfig             `mapstructure:"log" yaml:"log"`
	Database DatabaseConfig        `mapstructure:"database" yaml:"database"`
	Collab   CollabConfig          `mapstructure:"collaboration" yaml:"collaboration"`
	Limits   LimitsConfig          `mapstructure:"limits" yaml:"limits"`
	Sandbox  SandboxConfig         `mapstructure:"sandbox" yaml:"sandbox"`
	Slots    map[string]SlotConfig `mapstructure:"slots" yaml:"slots"`
	Weights  map[string]float64    `mapstructure:"vote_weights" yaml:"vote_weights"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	Mode string `mapstructure:"mode" yaml:"mode"` // local, production
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	OutputPath string `mapstructure:"output_path" yaml:"output_path"`
}

// DatabaseConfig selects the skill library store.
type DatabaseConfig struct {
	Type string `mapstructure:"type" yaml:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn" yaml:"dsn"`
}

// CollabConfig controls collaboration log persistence.
type CollabConfig struct {
	PersistEnabled bool   `mapstructure:"persist_enabled" yaml:"persist_enabled"`
	Directory      string `mapstructure:"directory" yaml:"directory"`
}

// LimitsConfig carries the orchestration deadlines and caps.
type LimitsConfig struct {
	PhaseDeadline       time.Duration `mapstructure:"phase_deadline" yaml:"phase_deadline"`
	CallDeadline        time.Duration `mapstructure:"call_deadline" yaml:"call_deadline"`
	SessionDeadline     time.Duration `mapstructure:"session_deadline" yaml:"session_deadline"`
	MaxSessions         int           `mapstructure:"max_sessions" yaml:"max_sessions"`
	MaxInFlightPerSlot  int           `mapstructure:"max_in_flight_per_slot" yaml:"max_in_flight_per_slot"`
	BusQueueSize        int           `mapstructure:"bus_queue_size" yaml:"bus_queue_size"`
	MaxSubscribers      int           `mapstructure:"max_subscribers" yaml:"max_subscribers"`
	MaxEventsPerSession int           `mapstructure:"max_events_per_session" yaml:"max_events_per_session"`
	MaxCampaigns        int           `mapstructure:"max_campaigns" yaml:"max_campaigns"`
}

// SandboxConfig bounds skill validation runs.
type SandboxConfig struct {
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MemoryMiB   int           `mapstructure:"memory_mib" yaml:"memory_mib"`
	MaxStdout   int           `mapstructure:"max_stdout" yaml:"max_stdout"`
	Interpreter string        `mapstructure:"interpreter" yaml:"interpreter"`
	WorkDir     string        `mapstructure:"work_dir" yaml:"work_dir"`
}

// SlotParams are the sampling knobs for one slot.
type SlotParams struct {
	Temperature      float64 `mapstructure:"temperature" yaml:"temperature"`
	TopP             float64 `mapstructure:"top_p" yaml:"top_p"`
	MaxTokens        int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	FrequencyPenalty float64 `mapstructure:"frequency_penalty" yaml:"frequency_penalty"`
	PresencePenalty  float64 `mapstructure:"presence_penalty" yaml:"presence_penalty"`
	ContextLength    int     `mapstructure:"context_length" yaml:"context_length"`
}

// SlotConfig declares one LLM team member. The api_key_env field names
// an environment variable; the key value itself never appears in config
// or logs.
type SlotConfig struct {
	Name                 string     `mapstructure:"name" yaml:"name"`
	Enabled              bool       `mapstructure:"enabled" yaml:"enabled"`
	Provider             string     `mapstructure:"provider" yaml:"provider"`
	Endpoint             string     `mapstructure:"endpoint" yaml:"endpoint"`
	Model                string     `mapstructure:"model" yaml:"model"`
	APIKeyEnv            string     `mapstructure:"api_key_env" yaml:"api_key_env"`
	LocalModel           bool       `mapstructure:"local_model" yaml:"local_model"`
	Identity             string     `mapstructure:"identity" yaml:"identity"`
	Role                 string     `mapstructure:"role" yaml:"role"`
	Prompt               string     `mapstructure:"prompt" yaml:"prompt"`
	Params               SlotParams `mapstructure:"params" yaml:"params"`
	CollaborationEnabled bool       `mapstructure:"collaboration_enabled" yaml:"collaboration_enabled"`
	CollaborationDir     string     `mapstructure:"collaboration_directory" yaml:"collaboration_directory"`
}

// DexterSlot is the required chief-orchestrator slot name.
const DexterSlot = "dexter"

var slotNameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Load reads the config file, applies defaults and env overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".dexter"))
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("DEXTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return unmarshal(v)
}

// Parse decodes a full YAML config document with the same defaults and
// validation as Load. Env overrides are not applied; this is the path
// the config API uses for submitted documents.
func Parse(data []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = true // unknown fields are a config error
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 18650)
	v.SetDefault("server.mode", "local")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "dexter.db")

	v.SetDefault("collaboration.persist_enabled", true)
	v.SetDefault("collaboration.directory", "collaboration")

	v.SetDefault("limits.phase_deadline", "90s")
	v.SetDefault("limits.call_deadline", "120s")
	v.SetDefault("limits.session_deadline", "600s")
	v.SetDefault("limits.max_sessions", 32)
	v.SetDefault("limits.max_in_flight_per_slot", 4)
	v.SetDefault("limits.bus_queue_size", 1024)
	v.SetDefault("limits.max_subscribers", 64)
	v.SetDefault("limits.max_events_per_session", 1024)
	v.SetDefault("limits.max_campaigns", 10)

	v.SetDefault("sandbox.timeout", "10s")
	v.SetDefault("sandbox.memory_mib", 256)
	v.SetDefault("sandbox.max_stdout", 1<<20)
	v.SetDefault("sandbox.interpreter", "python3")
}

// normalize fills derived slot fields after unmarshal: map keys become
// slot names, local slots get the default endpoint.
func normalize(cfg *Config) {
	for key, slot := range cfg.Slots {
		if slot.Name == "" {
			slot.Name = key
		}
		if slot.LocalModel && slot.Endpoint == "" {
			slot.Endpoint = llm.DefaultLocalEndpoint
		}
		if slot.CollaborationDir == "" {
			slot.CollaborationDir = slot.Name
		}
		cfg.Slots[key] = slot
	}
}

var knownProviders = map[string]bool{
	llm.ProviderOpenAI:       true,
	llm.ProviderCustomOpenAI: true,
	llm.ProviderAnthropic:    true,
	llm.ProviderOllama:       true,
}

// Validate enforces the startup invariants: a usable dexter slot, no
// reserved names, known providers, sampling params in range.
func (c *Config) Validate() error {
	dexter, ok := c.Slots[DexterSlot]
	if !ok {
		return fmt.Errorf("config: slot %q must exist", DexterSlot)
	}
	if !dexter.Enabled {
		return fmt.Errorf("config: slot %q must be enabled", DexterSlot)
	}

	for key, slot := range c.Slots {
		if slot.Name != key {
			return fmt.Errorf("config: slot %q declares mismatched name %q", key, slot.Name)
		}
		if !slotNameRe.MatchString(slot.Name) {
			return fmt.Errorf("config: slot name %q must be lowercase [a-z0-9_-]", slot.Name)
		}
		if slot.Name == "session" {
			return fmt.Errorf("config: slot name %q is reserved", slot.Name)
		}
		if err := validateSlot(slot); err != nil {
			return err
		}
	}

	for name := range c.Weights {
		if name == "" {
			return fmt.Errorf("config: vote_weights contains an empty slot name")
		}
	}

	if c.Limits.MaxSessions <= 0 {
		return fmt.Errorf("config: limits.max_sessions must be positive")
	}
	if c.Limits.PhaseDeadline <= 0 || c.Limits.CallDeadline <= 0 || c.Limits.SessionDeadline <= 0 {
		return fmt.Errorf("config: limits deadlines must be positive")
	}
	switch c.Database.Type {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported database type %q", c.Database.Type)
	}
	return nil
}

func validateSlot(slot SlotConfig) error {
	if !slot.Enabled {
		return nil // disabled slots may be half-configured
	}
	if !knownProviders[slot.Provider] {
		return fmt.Errorf("config: slot %q has unknown provider %q", slot.Name, slot.Provider)
	}
	if slot.Endpoint == "" && !slot.LocalModel {
		return fmt.Errorf("config: slot %q has no endpoint", slot.Name)
	}
	if !slot.LocalModel && slot.Provider != llm.ProviderOllama && slot.APIKeyEnv == "" {
		return fmt.Errorf("config: slot %q has no api_key_env", slot.Name)
	}

	p := slot.Params
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("config: slot %q temperature %v out of [0,2]", slot.Name, p.Temperature)
	}
	if p.TopP < 0 || p.TopP > 1 {
		return fmt.Errorf("config: slot %q top_p %v out of [0,1]", slot.Name, p.TopP)
	}
	// Zero means "provider default" for the integer knobs.
	if p.MaxTokens < 0 {
		return fmt.Errorf("config: slot %q max_tokens must be positive", slot.Name)
	}
	if p.FrequencyPenalty < -2 || p.FrequencyPenalty > 2 {
		return fmt.Errorf("config: slot %q frequency_penalty %v out of [-2,2]", slot.Name, p.FrequencyPenalty)
	}
	if p.PresencePenalty < -2 || p.PresencePenalty > 2 {
		return fmt.Errorf("config: slot %q presence_penalty %v out of [-2,2]", slot.Name, p.PresencePenalty)
	}
	if p.ContextLength < 0 {
		return fmt.Errorf("config: slot %q context_length must be positive", slot.Name)
	}
	return nil
}

// EnabledSlots returns the slots dispatched during collaboration,
// dexter included, in deterministic name order.
func (c *Config) EnabledSlots() []SlotConfig {
	names := make([]string, 0, len(c.Slots))
	for name, slot := range c.Slots {
		if slot.Enabled && slot.CollaborationEnabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	slots := make([]SlotConfig, 0, len(names))
	for _, name := range names {
		slots = append(slots, c.Slots[name])
	}
	return slots
}

// Clone returns a deep copy safe to mutate without touching the
// snapshot other readers hold.
func (c *Config) Clone() *Config {
	next := *c
	next.Slots = make(map[string]SlotConfig, len(c.Slots))
	for name, slot := range c.Slots {
		next.Slots[name] = slot
	}
	next.Weights = make(map[string]float64, len(c.Weights))
	for name, w := range c.Weights {
		next.Weights[name] = w
	}
	return &next
}

// SetSlot installs or replaces one slot config, fills its derived
// fields, and revalidates the whole document.
func (c *Config) SetSlot(name string, slot SlotConfig) error {
	if c.Slots == nil {
		c.Slots = make(map[string]SlotConfig)
	}
	if slot.Name == "" {
		slot.Name = name
	}
	c.Slots[name] = slot
	normalize(c)
	return c.Validate()
}

// Weight returns the vote weight for a slot, defaulting to 1.0.
func (c *Config) Weight(slot string) float64 {
	if w, ok := c.Weights[slot]; ok {
		return w
	}
	return 1.0
}

// LLMRequest builds the provider-agnostic call request for a slot.
func (s SlotConfig) LLMRequest(systemPrompt, userPrompt string) llm.Request {
	return llm.Request{
		Slot:         s.Name,
		Provider:     s.Provider,
		Endpoint:     s.Endpoint,
		Model:        s.Model,
		APIKeyEnv:    s.APIKeyEnv,
		LocalModel:   s.LocalModel,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Params: llm.Params{
			Temperature:      s.Params.Temperature,
			TopP:             s.Params.TopP,
			MaxTokens:        s.Params.MaxTokens,
			FrequencyPenalty: s.Params.FrequencyPenalty,
			PresencePenalty:  s.Params.PresencePenalty,
			ContextLength:    s.Params.ContextLength,
		},
	}
}
