package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envConfigPath        = "COMMANDBOT_CONFIG"
	envJID               = "COMMANDBOT_JID"
	envPassword          = "COMMANDBOT_PASSWORD"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"

	DefaultReconnectDelay = 20 * time.Second
	DefaultConnectTimeout = 30 * time.Second
	DefaultPriority       = -1
)

// Config is the root runtime configuration loaded from config.json or
// config.yaml.
type Config struct {
	Connection ConnectionConfig `json:"connection" yaml:"connection"`
	Commands   []PluginConfig   `json:"commands" yaml:"commands"`
	Topics     []PluginConfig   `json:"topics" yaml:"topics"`
	Sessions   SessionsConfig   `json:"sessions" yaml:"sessions"`
	Assistant  AssistantConfig  `json:"assistant" yaml:"assistant"`
	Providers  ProvidersConfig  `json:"providers" yaml:"providers"`
	Channels   ChannelsConfig   `json:"channels" yaml:"channels"`
	Status     StatusConfig     `json:"status" yaml:"status"`
	Logging    LoggingConfig    `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// ConnectionConfig describes the account and how to reach its server.
type ConnectionConfig struct {
	JID         string `json:"jid" yaml:"jid"`
	Password    string `json:"password" yaml:"password"`
	PasswordEnv string `json:"password_env" yaml:"password_env"`
	// Host and Port override SRV resolution when set.
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
	// TLS connects with TLS from the first byte instead of STARTTLS.
	TLS                   bool   `json:"tls" yaml:"tls"`
	InsecureSkipVerify    bool   `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	Proxy                 string `json:"proxy" yaml:"proxy"`
	Priority              *int   `json:"priority" yaml:"priority"`
	ReconnectDelaySeconds int    `json:"reconnect_delay_seconds" yaml:"reconnect_delay_seconds"`
	ConnectTimeoutSeconds int    `json:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
	PacketLog             bool   `json:"packet_log" yaml:"packet_log"`
}

// ReconnectDelay is the fixed wait between failed sessions.
func (c ConnectionConfig) ReconnectDelay() time.Duration {
	if c.ReconnectDelaySeconds <= 0 {
		return DefaultReconnectDelay
	}
	return time.Duration(c.ReconnectDelaySeconds) * time.Second
}

// ConnectTimeout bounds dialing plus stream negotiation.
func (c ConnectionConfig) ConnectTimeout() time.Duration {
	if c.ConnectTimeoutSeconds <= 0 {
		return DefaultConnectTimeout
	}
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// PresencePriority is the priority announced once online. It defaults to a
// negative value so servers do not route bare-address messages here.
func (c ConnectionConfig) PresencePriority() int {
	if c.Priority == nil {
		return DefaultPriority
	}
	return *c.Priority
}

// ResolvePassword returns the inline password, or the value of the
// configured environment variable.
func (c ConnectionConfig) ResolvePassword() string {
	if envName := strings.TrimSpace(c.PasswordEnv); envName != "" {
		if value := os.Getenv(envName); value != "" {
			return value
		}
	}
	return c.Password
}

// PluginConfig selects one command or topic implementation by name and
// carries its opaque configuration block.
type PluginConfig struct {
	Name string `json:"name" yaml:"name"`
	// Alias is the topic name conversations switch to; it defaults to Name.
	Alias string `json:"alias,omitempty" yaml:"alias,omitempty"`
	// Default marks the topic new conversations start in.
	Default bool           `json:"default,omitempty" yaml:"default,omitempty"`
	Config  map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// TopicName is the name the configured topic is registered under.
func (p PluginConfig) TopicName() string {
	if alias := strings.TrimSpace(p.Alias); alias != "" {
		return alias
	}
	return p.Name
}

// SessionsConfig bounds the ad-hoc command session table.
type SessionsConfig struct {
	TTLSeconds  int `json:"ttl_seconds" yaml:"ttl_seconds"`
	MaxSessions int `json:"max_sessions" yaml:"max_sessions"`
}

func (s SessionsConfig) TTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}

// AssistantConfig configures the LLM-backed conversation topic.
type AssistantConfig struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
	Agent    string `json:"agent" yaml:"agent"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenCode OpenCodeProviderConfig `json:"opencode" yaml:"opencode"`
	OpenAI   OpenAIProviderConfig   `json:"openai" yaml:"openai"`
	Fantasy  FantasyProviderConfig  `json:"fantasy" yaml:"fantasy"`
}

// OpenCodeProviderConfig configures the OpenCode provider client.
type OpenCodeProviderConfig struct {
	BaseURL               string `json:"base_url" yaml:"base_url"`
	Username              string `json:"username" yaml:"username"`
	PasswordEnv           string `json:"password_env" yaml:"password_env"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// OpenAIProviderConfig configures the OpenAI provider client.
type OpenAIProviderConfig struct {
	BaseURL               string `json:"base_url" yaml:"base_url"`
	APIKeyEnv             string `json:"api_key_env" yaml:"api_key_env"`
	Organization          string `json:"organization" yaml:"organization"`
	Project               string `json:"project" yaml:"project"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// FantasyProviderConfig configures the in-process agent provider. It talks
// to OpenAI with the providers.openai credentials and keeps each dialogue's
// history locally.
type FantasyProviderConfig struct {
	SystemPrompt       string  `json:"system_prompt" yaml:"system_prompt"`
	MaxOutputTokens    int     `json:"max_output_tokens" yaml:"max_output_tokens"`
	Temperature        float64 `json:"temperature" yaml:"temperature"`
	MaxSessions        int     `json:"max_sessions" yaml:"max_sessions"`
	SessionTTLSeconds  int     `json:"session_ttl_seconds" yaml:"session_ttl_seconds"`
	MaxHistoryMessages int     `json:"max_history_messages" yaml:"max_history_messages"`
}

// ChannelsConfig stores optional bridge settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
}

// TelegramConfig configures the Telegram bridge into the conversation
// router.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Token     string   `json:"token" yaml:"token"`
	AllowFrom []string `json:"allow_from" yaml:"allow_from"`
}

// StatusConfig configures the HTTP status and metrics listener.
type StatusConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Host    string `json:"host" yaml:"host"`
	Port    int    `json:"port" yaml:"port"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty" yaml:"format,omitempty"`
	Level     string `json:"level,omitempty" yaml:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty" yaml:"add_source,omitempty"`
	File      string `json:"file,omitempty" yaml:"file,omitempty"`
}

// LoadConfig resolves the config file, unmarshals it, and applies environment
// overrides. An empty path falls back to COMMANDBOT_CONFIG and then to
// cwd-local defaults.
func LoadConfig(path string) (*Config, error) {
	configPath, err := findConfigPath(path)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg, err := Parse(content, filepath.Ext(configPath))
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// Parse decodes content as YAML when ext is .yaml or .yml, and as JSON
// otherwise.
func Parse(content []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	return &cfg, nil
}

// Validate reports configuration the bot cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Connection.JID) == "" {
		errs = append(errs, errors.New("connection.jid is required"))
	}
	if c.Connection.ResolvePassword() == "" {
		errs = append(errs, errors.New("connection.password or connection.password_env is required"))
	}
	if c.Connection.Port < 0 || c.Connection.Port > 65535 {
		errs = append(errs, fmt.Errorf("connection.port %d is out of range", c.Connection.Port))
	}
	for i, entry := range c.Commands {
		if strings.TrimSpace(entry.Name) == "" {
			errs = append(errs, fmt.Errorf("commands[%d].name is required", i))
		}
	}
	defaults := 0
	for i, entry := range c.Topics {
		if strings.TrimSpace(entry.Name) == "" {
			errs = append(errs, fmt.Errorf("topics[%d].name is required", i))
		}
		if entry.Default {
			defaults++
		}
	}
	if defaults > 1 {
		errs = append(errs, fmt.Errorf("%d topics are marked default, at most one may be", defaults))
	}
	return errors.Join(errs...)
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv(envJID)); value != "" {
		cfg.Connection.JID = value
	}
	if value := os.Getenv(envPassword); value != "" {
		cfg.Connection.Password = value
		cfg.Connection.PasswordEnv = ""
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is the explicit path, then COMMANDBOT_CONFIG, then cwd-local
// fallback paths.
func findConfigPath(explicit string) (string, error) {
	if value := strings.TrimSpace(explicit); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("config path does not point to a file: %s", value)
	}

	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
		filepath.Join(cwd, "config.yaml"),
		filepath.Join(cwd, "config.yml"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("no config file found (checked %s)", strings.Join(candidates, ", "))
}
