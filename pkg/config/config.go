package config

import (
	"path/filepath"
	"strings"
	"time"
)

// AppConfig is the process-wide configuration. It is read once at startup and
// treated as read-only afterwards.
type AppConfig struct {
	Workspace string         `json:"workspace" yaml:"workspace"`
	Gateway   GatewayBlock   `json:"gateway" yaml:"gateway"`
	Agent     AgentBlock     `json:"agent" yaml:"agent"`
	Providers ProvidersBlock `json:"providers" yaml:"providers"`
	Sandbox   SandboxBlock   `json:"sandbox" yaml:"sandbox"`
	Retry     RetryBlock     `json:"retry" yaml:"retry"`
	Mirror    *MirrorBlock   `json:"mirror,omitempty" yaml:"mirror,omitempty"`
	Skills    SkillsBlock    `json:"skills" yaml:"skills"`
	Telemetry TelemetryBlock `json:"telemetry" yaml:"telemetry"`
}

// GatewayBlock configures the HTTP ingestion gateway.
type GatewayBlock struct {
	Port int `json:"port" yaml:"port"`
}

// AgentBlock holds the generation defaults for the main loop.
type AgentBlock struct {
	Model       string  `json:"model" yaml:"model"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

// ProvidersBlock declares the configured model backends. The factory picks
// the first configured entry in order: OpenAI, OpenRouter, Anthropic.
type ProvidersBlock struct {
	OpenAI     *ProviderCredentials `json:"openai,omitempty" yaml:"openai,omitempty"`
	OpenRouter *ProviderCredentials `json:"openrouter,omitempty" yaml:"openrouter,omitempty"`
	Anthropic  *ProviderCredentials `json:"anthropic,omitempty" yaml:"anthropic,omitempty"`
}

// ProviderCredentials identifies one model backend.
type ProviderCredentials struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	APIBase string `json:"api_base,omitempty" yaml:"api_base,omitempty"`
}

// SandboxBlock constrains tool IO.
type SandboxBlock struct {
	ExecTimeout      Duration `json:"exec_timeout" yaml:"exec_timeout"`
	MaxOutputBytes   int      `json:"max_output_bytes" yaml:"max_output_bytes"`
	ExecEnabled      *bool    `json:"exec_enabled,omitempty" yaml:"exec_enabled,omitempty"`
	NetworkAllowlist []string `json:"network_allowlist" yaml:"network_allowlist"`
}

// RetryBlock tunes the provider reliability wrapper.
type RetryBlock struct {
	MaxRetries  int      `json:"max_retries" yaml:"max_retries"`
	BaseBackoff Duration `json:"base_backoff" yaml:"base_backoff"`
}

// MirrorBlock points at an optional remote session mirror.
type MirrorBlock struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	Token   string `json:"token,omitempty" yaml:"token,omitempty"`
}

// SkillsBlock gates individual skills.
type SkillsBlock struct {
	// MinVersions maps skill name to the lowest acceptable semver.
	MinVersions map[string]string `json:"min_versions,omitempty" yaml:"min_versions,omitempty"`
}

// TelemetryBlock configures the optional OTLP trace exporter.
type TelemetryBlock struct {
	OTLPEndpoint string `json:"otlp_endpoint,omitempty" yaml:"otlp_endpoint,omitempty"`
}

// Defaults mirrored from the sandbox and retry policies.
const (
	DefaultGatewayPort    = 8787
	DefaultMaxTokens      = 4096
	DefaultTemperature    = 0.7
	DefaultExecTimeout    = 30 * time.Second
	DefaultMaxOutputBytes = 64 * 1024
	DefaultMaxRetries     = 2
	DefaultBaseBackoff    = 250 * time.Millisecond
)

// Default returns a configuration that works with zero external services.
func Default() *AppConfig {
	enabled := true
	return &AppConfig{
		Workspace: "workspace",
		Gateway:   GatewayBlock{Port: DefaultGatewayPort},
		Agent: AgentBlock{
			Model:       "claude-3-5-sonnet-latest",
			MaxTokens:   DefaultMaxTokens,
			Temperature: DefaultTemperature,
		},
		Sandbox: SandboxBlock{
			ExecTimeout:    Duration(DefaultExecTimeout),
			MaxOutputBytes: DefaultMaxOutputBytes,
			ExecEnabled:    &enabled,
		},
		Retry: RetryBlock{
			MaxRetries:  DefaultMaxRetries,
			BaseBackoff: Duration(DefaultBaseBackoff),
		},
	}
}

// Normalize trims strings, cleans paths, and fills zero values with defaults.
func (c *AppConfig) Normalize() {
	if c == nil {
		return
	}
	c.Workspace = strings.TrimSpace(c.Workspace)
	if c.Workspace == "" {
		c.Workspace = "workspace"
	}
	c.Workspace = filepath.Clean(c.Workspace)

	if c.Gateway.Port <= 0 {
		c.Gateway.Port = DefaultGatewayPort
	}
	if c.Agent.MaxTokens <= 0 {
		c.Agent.MaxTokens = DefaultMaxTokens
	}
	if c.Agent.Temperature <= 0 {
		c.Agent.Temperature = DefaultTemperature
	}
	if c.Sandbox.ExecTimeout <= 0 {
		c.Sandbox.ExecTimeout = Duration(DefaultExecTimeout)
	}
	if c.Sandbox.MaxOutputBytes <= 0 {
		c.Sandbox.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if c.Sandbox.ExecEnabled == nil {
		enabled := true
		c.Sandbox.ExecEnabled = &enabled
	}
	for i := range c.Sandbox.NetworkAllowlist {
		c.Sandbox.NetworkAllowlist[i] = strings.ToLower(strings.TrimSpace(c.Sandbox.NetworkAllowlist[i]))
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = DefaultMaxRetries
	}
	if c.Retry.BaseBackoff <= 0 {
		c.Retry.BaseBackoff = Duration(DefaultBaseBackoff)
	}
	if c.Mirror != nil {
		c.Mirror.BaseURL = strings.TrimSpace(c.Mirror.BaseURL)
		if c.Mirror.BaseURL == "" {
			c.Mirror = nil
		}
	}
}

// ExecAllowed reports whether shell execution is enabled.
func (c *AppConfig) ExecAllowed() bool {
	return c.Sandbox.ExecEnabled != nil && *c.Sandbox.ExecEnabled
}
