// Package config loads the core's runtime configuration: an optional
// JSON file overlaid with environment variables, matching spec.md §6's
// configuration surface. Secrets are env-only and never round-trip
// through the JSON file.
package config

import "sync"

// Config is the root configuration for the agentic core.
type Config struct {
	DataDir                string `json:"data_dir"`
	MCPMemoryEnabled       bool   `json:"mcp_memory_enabled"`
	MaxTurns               int    `json:"max_turns"`
	TaskTimeoutSec         int    `json:"task_timeout_sec"`
	DispatchModelRouting   bool   `json:"dispatch_model_routing"`
	DeploymentStagingPath  string `json:"deployment_staging_path,omitempty"`

	Providers ProvidersConfig `json:"providers"`
	Limits    LimitsConfig    `json:"limits"`
	Telemetry TelemetryConfig `json:"telemetry"`

	mu sync.RWMutex
}

// TelemetryConfig configures optional OTLP export of the trace spans
// internal/tracing records (turns, tool calls, dispatches). Spans are
// always written to data/TRACES.jsonl regardless of this config. The
// fields mirror tracing.TelemetryConfig, which tracing.NewOTLPSink
// (compiled only with the otel build tag) accepts; the serve command
// does not read this struct or build an OTLPSink, so setting Enabled
// forwards nothing to an OTLP collector.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"` // e.g. "localhost:4317", "https://otel.example.com:4318"
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// ProvidersConfig holds per-provider LLM credentials. Only Anthropic
// has a concrete Provider implementation wired in internal/providers;
// the other slots exist because spec.md §6 requires the config
// surface to carry "per-provider keys" generally — a second Provider
// plugs into the same interface without a config-shape change.
type ProvidersConfig struct {
	Anthropic ProviderCredentials `json:"anthropic"`
	OpenAI    ProviderCredentials `json:"openai,omitempty"`
	Gemini    ProviderCredentials `json:"gemini,omitempty"`
}

// ProviderCredentials is one provider's API key and optional base URL
// override, for self-hosted or proxy endpoints.
type ProviderCredentials struct {
	APIKey  string `json:"-"` // env only, never persisted to the config file
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
}

// LimitsConfig holds the numeric ceilings spec.md names throughout §2
// and §5: bash/skill timeouts, output caps, the global concurrency
// semaphore, and the circuit-breaker threshold.
type LimitsConfig struct {
	BashTimeoutSec        int `json:"bash_timeout_sec"`         // default 300 (hard cap)
	SkillTimeoutSec        int `json:"skill_timeout_sec"`        // default 120
	SkillTimeoutMaxSec     int `json:"skill_timeout_max_sec"`    // default 600 (override ceiling)
	BashOutputCapBytes     int `json:"bash_output_cap_bytes"`    // default 64*1024
	SkillOutputCapBytes    int `json:"skill_output_cap_bytes"`   // default 1024*1024
	SkillMaxFiles          int `json:"skill_max_files"`          // default 10
	SkillMaxFileBytes      int `json:"skill_max_file_bytes"`     // default 10*1024*1024
	GlobalSemaphore        int `json:"global_semaphore"`         // default 32
	CircuitBreakerRepeats  int `json:"circuit_breaker_repeats"`  // default 3; reported by doctor only, the agent loop guard trips at a fixed 3
}

// ReplaceFrom atomically swaps c's data fields for src's under c's
// lock. Nothing in this module watches the config file or calls it.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DataDir = src.DataDir
	c.MCPMemoryEnabled = src.MCPMemoryEnabled
	c.MaxTurns = src.MaxTurns
	c.TaskTimeoutSec = src.TaskTimeoutSec
	c.DispatchModelRouting = src.DispatchModelRouting
	c.DeploymentStagingPath = src.DeploymentStagingPath
	c.Providers = src.Providers
	c.Limits = src.Limits
	c.Telemetry = src.Telemetry
}

// Snapshot returns a copy of c safe for concurrent read without
// holding c's lock for the duration of use.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{
		DataDir:               c.DataDir,
		MCPMemoryEnabled:      c.MCPMemoryEnabled,
		MaxTurns:              c.MaxTurns,
		TaskTimeoutSec:        c.TaskTimeoutSec,
		DispatchModelRouting:  c.DispatchModelRouting,
		DeploymentStagingPath: c.DeploymentStagingPath,
		Providers:             c.Providers,
		Limits:                c.Limits,
		Telemetry:             c.Telemetry,
	}
}
