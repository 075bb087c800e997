package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Default returns a Config with the spec-mandated defaults (spec.md
// §2, §5, §6).
func Default() *Config {
	return &Config{
		MaxTurns:             12,
		TaskTimeoutSec:       600,
		DispatchModelRouting: true,
		Limits: LimitsConfig{
			BashTimeoutSec:        300,
			SkillTimeoutSec:       120,
			SkillTimeoutMaxSec:    600,
			BashOutputCapBytes:    64 * 1024,
			SkillOutputCapBytes:   1024 * 1024,
			SkillMaxFiles:         10,
			SkillMaxFileBytes:     10 * 1024 * 1024,
			GlobalSemaphore:       32,
			CircuitBreakerRepeats: 3,
		},
	}
}

// Load reads config from a JSON file (if present), then overlays
// environment variables, which always take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("config: DATA_DIR is required")
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("DATA_DIR", &c.DataDir)
	envBool("MCP_MEMORY_ENABLED", &c.MCPMemoryEnabled)
	envInt("MAX_TURNS", &c.MaxTurns)
	envInt("TASK_TIMEOUT", &c.TaskTimeoutSec)
	envBool("DISPATCH_MODEL_ROUTING", &c.DispatchModelRouting)
	envStr("X_DEPLOYMENT_STAGING_PATH", &c.DeploymentStagingPath)

	envStr("ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("ANTHROPIC_BASE_URL", &c.Providers.Anthropic.BaseURL)
	envStr("ANTHROPIC_MODEL", &c.Providers.Anthropic.Model)
	envStr("OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("GEMINI_API_KEY", &c.Providers.Gemini.APIKey)
}
