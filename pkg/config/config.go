// Grinbot - plugin-driven conversational agent runtime
// License: MIT
//
// Copyright (c) 2026 Grinbot contributors

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads "30s" style strings from JSON and YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n float64
		if err2 := json.Unmarshal(data, &n); err2 != nil {
			return fmt.Errorf("duration must be a string like \"30s\": %w", err)
		}
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	return d.UnmarshalText([]byte(s))
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// UnmarshalText is used by env overrides.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

type ServerConfig struct {
	Host         string   `json:"host" yaml:"host" env:"GRINBOT_SERVER_HOST"`
	Port         int      `json:"port" yaml:"port" env:"GRINBOT_SERVER_PORT"`
	Path         string   `json:"path" yaml:"path" env:"GRINBOT_SERVER_PATH"`
	Workers      int      `json:"workers" yaml:"workers" env:"GRINBOT_SERVER_WORKERS"`
	PollInterval Duration `json:"poll_interval" yaml:"poll_interval" env:"GRINBOT_SERVER_POLL_INTERVAL"`
	AllowOrigins []string `json:"allow_origins" yaml:"allow_origins" env:"GRINBOT_SERVER_ALLOW_ORIGINS"`
}

type AgentConfig struct {
	MaxIterations int      `json:"max_iterations" yaml:"max_iterations" env:"GRINBOT_AGENT_MAX_ITERATIONS"`
	ModelTimeout  Duration `json:"model_timeout" yaml:"model_timeout" env:"GRINBOT_AGENT_MODEL_TIMEOUT"`
	ToolTimeout   Duration `json:"tool_timeout" yaml:"tool_timeout" env:"GRINBOT_AGENT_TOOL_TIMEOUT"`
	// ActionPolicy is "first" or "all".
	ActionPolicy string `json:"action_policy" yaml:"action_policy" env:"GRINBOT_AGENT_ACTION_POLICY"`
	// TimeZone is an IANA zone for the time tool. Empty means the host zone.
	TimeZone string `json:"time_zone" yaml:"time_zone" env:"GRINBOT_AGENT_TIME_ZONE"`
}

type LLMConfig struct {
	// Provider is "openai", "anthropic" or empty for the not-configured fallback.
	Provider    string  `json:"provider" yaml:"provider" env:"GRINBOT_LLM_PROVIDER"`
	Model       string  `json:"model" yaml:"model" env:"GRINBOT_LLM_MODEL"`
	APIKey      string  `json:"api_key" yaml:"api_key" env:"GRINBOT_LLM_API_KEY"`
	BaseURL     string  `json:"base_url" yaml:"base_url" env:"GRINBOT_LLM_BASE_URL"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" env:"GRINBOT_LLM_MAX_TOKENS"`
	Temperature float64 `json:"temperature" yaml:"temperature" env:"GRINBOT_LLM_TEMPERATURE"`
}

type MemoryConfig struct {
	// Path of the sqlite store. Empty disables recall.
	Path           string `json:"path" yaml:"path" env:"GRINBOT_MEMORY_PATH"`
	EmbeddingModel string `json:"embedding_model" yaml:"embedding_model" env:"GRINBOT_MEMORY_EMBEDDING_MODEL"`
	// EmbeddingAPIKey and EmbeddingBaseURL default to the llm section.
	EmbeddingAPIKey  string `json:"embedding_api_key" yaml:"embedding_api_key" env:"GRINBOT_MEMORY_EMBEDDING_API_KEY"`
	EmbeddingBaseURL string `json:"embedding_base_url" yaml:"embedding_base_url" env:"GRINBOT_MEMORY_EMBEDDING_BASE_URL"`
	CacheSize        int    `json:"cache_size" yaml:"cache_size" env:"GRINBOT_MEMORY_CACHE_SIZE"`
	HistoryTurns     int    `json:"history_turns" yaml:"history_turns" env:"GRINBOT_MEMORY_HISTORY_TURNS"`
}

type PluginsConfig struct {
	Disabled []string `json:"disabled" yaml:"disabled" env:"GRINBOT_PLUGINS_DISABLED"`
	// RemindersStore is the JSON file holding scheduled reminders.
	RemindersStore string       `json:"reminders_store" yaml:"reminders_store" env:"GRINBOT_PLUGINS_REMINDERS_STORE"`
	Policy         PolicyConfig `json:"policy" yaml:"policy"`
}

type PolicyConfig struct {
	BlockedTools         []string `json:"blocked_tools" yaml:"blocked_tools" env:"GRINBOT_POLICY_BLOCKED_TOOLS"`
	RedactPrefixes       []string `json:"redact_prefixes" yaml:"redact_prefixes" env:"GRINBOT_POLICY_REDACT_PREFIXES"`
	DenyOutboundPatterns []string `json:"deny_outbound_patterns" yaml:"deny_outbound_patterns" env:"GRINBOT_POLICY_DENY_OUTBOUND_PATTERNS"`
}

// MCPConfig lists Model Context Protocol servers whose tools are offered
// to the agent through the mcp plugin.
type MCPConfig struct {
	Servers []MCPServerConfig `json:"servers" yaml:"servers"`
}

type MCPServerConfig struct {
	Name    string `json:"name" yaml:"name"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
	// Transport is "command" (default), "streamable_http" or "sse".
	Transport      string            `json:"transport" yaml:"transport"`
	Command        string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args           []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL            string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	StartupTimeout Duration          `json:"startup_timeout,omitempty" yaml:"startup_timeout,omitempty"`
	CallTimeout    Duration          `json:"call_timeout,omitempty" yaml:"call_timeout,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" env:"GRINBOT_LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"GRINBOT_LOG_FORMAT"`
	File   string `json:"file" yaml:"file" env:"GRINBOT_LOG_FILE"`
}

type RateLimitsConfig struct {
	MessagesPerMinute int `json:"messages_per_minute" yaml:"messages_per_minute" env:"GRINBOT_RATE_LIMITS_MESSAGES_PER_MINUTE"`
	Burst             int `json:"burst" yaml:"burst" env:"GRINBOT_RATE_LIMITS_BURST"`
}

type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Agent      AgentConfig      `json:"agent" yaml:"agent"`
	LLM        LLMConfig        `json:"llm" yaml:"llm"`
	Memory     MemoryConfig     `json:"memory" yaml:"memory"`
	Plugins    PluginsConfig    `json:"plugins" yaml:"plugins"`
	MCP        MCPConfig        `json:"mcp" yaml:"mcp"`
	Log        LogConfig        `json:"log" yaml:"log"`
	RateLimits RateLimitsConfig `json:"rate_limits" yaml:"rate_limits"`
	mu         sync.RWMutex
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         1865,
			Path:         "/ws",
			Workers:      4,
			PollInterval: Duration(time.Second),
		},
		Agent: AgentConfig{
			MaxIterations: 5,
			ModelTimeout:  Duration(60 * time.Second),
			ToolTimeout:   Duration(30 * time.Second),
			ActionPolicy:  "first",
		},
		LLM: LLMConfig{
			MaxTokens: 1024,
		},
		Memory: MemoryConfig{
			Path:           "~/.grinbot/memory.db",
			EmbeddingModel: "text-embedding-3-small",
			CacheSize:      512,
			HistoryTurns:   10,
		},
		Plugins: PluginsConfig{
			RemindersStore: "~/.grinbot/reminders.json",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		RateLimits: RateLimitsConfig{
			MessagesPerMinute: 30,
			Burst:             5,
		},
	}
}

// LoadConfig reads path (JSON, or YAML by extension) over the defaults, then
// applies a .env file next to it and GRINBOT_* environment overrides. A
// missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := unmarshal(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, err
	}

	// Existing environment wins over .env.
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func unmarshal(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

// Validate rejects values the runtime cannot start with.
func (c *Config) Validate() error {
	switch c.Agent.ActionPolicy {
	case "", "first", "all":
	default:
		return fmt.Errorf("agent.action_policy must be \"first\" or \"all\", got %q", c.Agent.ActionPolicy)
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "", "none", "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider)
	}
	if c.Agent.TimeZone != "" {
		if _, err := time.LoadLocation(c.Agent.TimeZone); err != nil {
			return fmt.Errorf("agent.time_zone: %w", err)
		}
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	seen := make(map[string]bool, len(c.MCP.Servers))
	for i, srv := range c.MCP.Servers {
		if strings.TrimSpace(srv.Name) == "" {
			return fmt.Errorf("mcp.servers[%d]: name is required", i)
		}
		if seen[srv.Name] {
			return fmt.Errorf("mcp.servers: duplicate name %q", srv.Name)
		}
		seen[srv.Name] = true
	}
	return nil
}

// Location resolves agent.time_zone, or nil for the host zone.
func (c *Config) Location() *time.Location {
	if c.Agent.TimeZone == "" {
		return nil
	}
	loc, err := time.LoadLocation(c.Agent.TimeZone)
	if err != nil {
		return nil
	}
	return loc
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) RLock()   { c.mu.RLock() }
func (c *Config) RUnlock() { c.mu.RUnlock() }

// Addr is host:port for the HTTP listener.
func (c *Config) Addr() string {
	return c.Server.Addr()
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RemindersPath is the reminder store with ~ expanded.
func (c *Config) RemindersPath() string {
	return expandHome(c.Plugins.RemindersStore)
}

// MemoryPath is the sqlite path with ~ expanded, or "" when recall is disabled.
func (c *Config) MemoryPath() string {
	return expandHome(c.Memory.Path)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
