package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigFromEnvPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
	  "connection": {"jid": "bot@example.org/bot", "password": "secret", "reconnect_delay_seconds": 5},
	  "commands": [{"name": "calculator", "config": {"instructions": "Add."}}],
	  "topics": [{"name": "echo", "default": true}],
	  "status": {"enabled": true, "port": 18790},
	  "logging": {"format": "json", "level": "debug", "add_source": true}
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("COMMANDBOT_CONFIG", path)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Logging.Format != "json" {
		t.Fatalf("logging.format = %q, want %q", cfg.Logging.Format, "json")
	}
	if !cfg.Logging.AddSource {
		t.Fatal("logging.add_source = false, want true")
	}
	if cfg.Connection.ReconnectDelay() != 5*time.Second {
		t.Fatalf("reconnect delay = %v", cfg.Connection.ReconnectDelay())
	}
	if got := cfg.Commands[0].Config["instructions"]; got != "Add." {
		t.Fatalf("command config = %#v", cfg.Commands[0].Config)
	}
	if !cfg.Topics[0].Default || cfg.Topics[0].TopicName() != "echo" {
		t.Fatalf("topic = %#v", cfg.Topics[0])
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	t.Setenv("COMMANDBOT_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	if _, err := LoadConfig(""); err == nil {
		t.Fatal("expected error for missing config path")
	}
}

func TestLoadConfigYAMLExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.yaml")
	content := `
connection:
  jid: bot@example.org
  password_env: TEST_BOT_PASSWORD
  priority: 0
topics:
  - name: switchboard
    default: true
    config:
      routes:
        echo: echo
  - name: echo
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("TEST_BOT_PASSWORD", "from-env")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Connection.ResolvePassword() != "from-env" {
		t.Fatalf("password = %q", cfg.Connection.ResolvePassword())
	}
	if cfg.Connection.PresencePriority() != 0 {
		t.Fatalf("priority = %d", cfg.Connection.PresencePriority())
	}
	routes, ok := cfg.Topics[0].Config["routes"].(map[string]any)
	if !ok || routes["echo"] != "echo" {
		t.Fatalf("routes = %#v", cfg.Topics[0].Config["routes"])
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COMMANDBOT_JID", "other@example.org")
	t.Setenv("COMMANDBOT_PASSWORD", "override")
	t.Setenv("TELEGRAM_ALLOW_FROM", " 1, ,2 ")

	cfg := &Config{Connection: ConnectionConfig{JID: "bot@example.org", PasswordEnv: "UNSET_VAR"}}
	applyEnvOverrides(cfg)

	if cfg.Connection.JID != "other@example.org" || cfg.Connection.ResolvePassword() != "override" {
		t.Fatalf("connection = %#v", cfg.Connection)
	}
	if len(cfg.Channels.Telegram.AllowFrom) != 2 {
		t.Fatalf("allow_from = %#v", cfg.Channels.Telegram.AllowFrom)
	}
}

func TestDefaultsAndValidate(t *testing.T) {
	cfg := &Config{}
	if cfg.Connection.ReconnectDelay() != DefaultReconnectDelay {
		t.Fatalf("default delay = %v", cfg.Connection.ReconnectDelay())
	}
	if cfg.Connection.PresencePriority() != -1 {
		t.Fatalf("default priority = %d", cfg.Connection.PresencePriority())
	}

	cfg.Topics = []PluginConfig{{Name: "echo", Default: true}, {Name: "ignore", Default: true}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation errors")
	}
}
