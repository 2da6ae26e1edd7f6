package config

import "gopkg.in/yaml.v3"

// Marshal renders the config as YAML, the same form Save writes.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// MarshalYAML renders deadlines in duration-string form ("90s") so a
// written-back file stays human-editable and loads identically.
func (l LimitsConfig) MarshalYAML() (interface{}, error) {
	return struct {
		PhaseDeadline       string `yaml:"phase_deadline"`
		CallDeadline        string `yaml:"call_deadline"`
		SessionDeadline     string `yaml:"session_deadline"`
		MaxSessions         int    `yaml:"max_sessions"`
		MaxInFlightPerSlot  int    `yaml:"max_in_flight_per_slot"`
		BusQueueSize        int    `yaml:"bus_queue_size"`
		MaxSubscribers      int    `yaml:"max_subscribers"`
		MaxEventsPerSession int    `yaml:"max_events_per_session"`
		MaxCampaigns        int    `yaml:"max_campaigns"`
	}{
		PhaseDeadline:       l.PhaseDeadline.String(),
		CallDeadline:        l.CallDeadline.String(),
		SessionDeadline:     l.SessionDeadline.String(),
		MaxSessions:         l.MaxSessions,
		MaxInFlightPerSlot:  l.MaxInFlightPerSlot,
		BusQueueSize:        l.BusQueueSize,
		MaxSubscribers:      l.MaxSubscribers,
		MaxEventsPerSession: l.MaxEventsPerSession,
		MaxCampaigns:        l.MaxCampaigns,
	}, nil
}

// MarshalYAML renders the sandbox timeout in duration-string form.
func (s SandboxConfig) MarshalYAML() (interface{}, error) {
	return struct {
		Timeout     string `yaml:"timeout"`
		MemoryMiB   int    `yaml:"memory_mib"`
		MaxStdout   int    `yaml:"max_stdout"`
		Interpreter string `yaml:"interpreter"`
		WorkDir     string `yaml:"work_dir"`
	}{
		Timeout:     s.Timeout.String(),
		MemoryMiB:   s.MemoryMiB,
		MaxStdout:   s.MaxStdout,
		Interpreter: s.Interpreter,
		WorkDir:     s.WorkDir,
	}, nil
}
