// Package config loads and validates the daemon's YAML configuration,
// grounded on the teacher's internal/config package: env-var expansion,
// $include resolution, strict field decoding, default application, then
// validation, in that order.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	Version      int                `yaml:"version"`
	// Workspace is the root directory the shell/filesystem/git tools are
	// confined to (§4.4 "sandboxing here is workspace-root confinement").
	Workspace    string             `yaml:"workspace"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	Models       ModelsConfig       `yaml:"models"`
	Safety       SafetyConfig       `yaml:"safety"`
	Approvals    ApprovalsConfig    `yaml:"approvals"`
	Sessions     SessionsConfig     `yaml:"sessions"`
	Nodes        NodesConfig        `yaml:"nodes"`
	Logging      LoggingConfig      `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Audit        AuditConfig        `yaml:"audit"`
	Heartbeat    HeartbeatConfig    `yaml:"heartbeat"`
}

// GatewayConfig configures the WebSocket control-plane endpoint (§4.7).
type GatewayConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	AuthToken    string        `yaml:"auth_token"`
	AuthTokenFile string       `yaml:"auth_token_file"`
	AuthMode     string        `yaml:"auth_mode"` // "shared_token" (default) or "jwt"
	JWTSecret    string        `yaml:"jwt_secret"`
	TickInterval time.Duration `yaml:"tick_interval"`
}

// ModelsConfig configures the model candidates available to agent runs,
// keyed by routing tier (§4.6a).
type ModelsConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]ModelProviderConfig `yaml:"providers"`
	Routing         ModelRoutingConfig           `yaml:"routing"`
}

type ModelProviderConfig struct {
	Kind         string `yaml:"kind"` // "anthropic" or "openai"
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// ModelRoutingConfig maps a classifier tier to an ordered fallback chain of
// "provider/model" candidates the run engine walks on retriable failure.
type ModelRoutingConfig struct {
	Low      []string `yaml:"low"`
	Standard []string `yaml:"standard"`
	High     []string `yaml:"high"`
}

type SafetyConfig struct {
	Mode           string   `yaml:"mode"` // "permissive", "standard", "strict"
	DeniedPatterns []string `yaml:"denied_patterns"`
	AllowedRoots   []string `yaml:"allowed_roots"`
}

type ApprovalsConfig struct {
	Path    string `yaml:"path"`
	Backend string `yaml:"backend"` // "file" (default) or "sqlite"
	Watch   bool   `yaml:"watch"`
}

type SessionsConfig struct {
	Backend     string `yaml:"backend"` // "memory" (default) or "sqlite"
	SQLitePath  string `yaml:"sqlite_path"`
	HistoryLimit int   `yaml:"history_limit"`
}

type NodesConfig struct {
	PairingPath string `yaml:"pairing_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" (default) or "text"
}

// ObservabilityConfig configures OTel tracing and the Prometheus endpoint
// (§4.6a/§4.7a). Both are optional; a no-op tracer/registry is used when
// disabled so instrumentation calls are always safe.
type ObservabilityConfig struct {
	MetricsPort  int    `yaml:"metrics_port"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

type AuditConfig struct {
	Path string `yaml:"path"`
}

type HeartbeatConfig struct {
	IntervalMinutes int `yaml:"interval_minutes"`
}

// Load reads, expands, decodes, defaults, and validates the config at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}

	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Workspace == "" {
		cfg.Workspace = "."
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 8787
	}
	if cfg.Gateway.AuthMode == "" {
		cfg.Gateway.AuthMode = "shared_token"
	}
	if cfg.Gateway.TickInterval == 0 {
		cfg.Gateway.TickInterval = 15 * time.Second
	}
	if cfg.Safety.Mode == "" {
		cfg.Safety.Mode = "standard"
	}
	if cfg.Approvals.Path == "" {
		cfg.Approvals.Path = "approvals.json"
	}
	if cfg.Approvals.Backend == "" {
		cfg.Approvals.Backend = "file"
	}
	if cfg.Sessions.Backend == "" {
		cfg.Sessions.Backend = "memory"
	}
	if cfg.Sessions.HistoryLimit == 0 {
		cfg.Sessions.HistoryLimit = 20
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "agentgated"
	}
	if cfg.Audit.Path == "" {
		cfg.Audit.Path = "audit.log"
	}
	if cfg.Heartbeat.IntervalMinutes == 0 {
		cfg.Heartbeat.IntervalMinutes = 5
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("AGENTGATE_HOST")); v != "" {
		cfg.Gateway.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENTGATE_PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = parsed
		}
	}
	// Token precedence: flag (applied by the caller after Load) > env var >
	// file > config value, matching the teacher's resolution order (§6).
	if v := strings.TrimSpace(os.Getenv("AGENTGATE_AUTH_TOKEN")); v != "" {
		cfg.Gateway.AuthToken = v
	} else if cfg.Gateway.AuthTokenFile != "" {
		if data, err := os.ReadFile(cfg.Gateway.AuthTokenFile); err == nil {
			cfg.Gateway.AuthToken = strings.TrimSpace(string(data))
		}
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		if p, ok := cfg.Models.Providers["anthropic"]; ok {
			p.APIKey = v
			cfg.Models.Providers["anthropic"] = p
		}
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		if p, ok := cfg.Models.Providers["openai"]; ok {
			p.APIKey = v
			cfg.Models.Providers["openai"] = p
		}
	}
}

func validateConfig(cfg *Config) error {
	var issues []string
	if cfg.Gateway.Port <= 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, "gateway.port must be between 1 and 65535")
	}
	if cfg.Gateway.AuthMode != "shared_token" && cfg.Gateway.AuthMode != "jwt" {
		issues = append(issues, `gateway.auth_mode must be "shared_token" or "jwt"`)
	}
	if cfg.Gateway.AuthMode == "jwt" && cfg.Gateway.JWTSecret == "" {
		issues = append(issues, "gateway.jwt_secret is required when gateway.auth_mode is \"jwt\"")
	}
	switch cfg.Safety.Mode {
	case "permissive", "standard", "strict":
	default:
		issues = append(issues, `safety.mode must be "permissive", "standard", or "strict"`)
	}
	switch cfg.Approvals.Backend {
	case "file", "sqlite":
	default:
		issues = append(issues, `approvals.backend must be "file" or "sqlite"`)
	}
	switch cfg.Sessions.Backend {
	case "memory", "sqlite":
	default:
		issues = append(issues, `sessions.backend must be "memory" or "sqlite"`)
	}
	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// ValidationError reports every config issue found, not just the first.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration:\n  - %s", strings.Join(e.Issues, "\n  - "))
}
