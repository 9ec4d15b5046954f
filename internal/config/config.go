package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Config is the root configuration for the antlerbot process (config.json).
// Agent-level tunables live separately in <config_dir>/agent/settings.yaml so
// they can be edited and reloaded while the bot is running.
type Config struct {
	Transport TransportConfig `json:"transport"`
	ConfigDir string          `json:"config_dir,omitempty"` // settings.yaml, prompt.txt, tasks.json, permissions.yaml
	Log       LogConfig       `json:"log,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// TransportConfig configures the OneBot v11 WebSocket link to NapCat.
type TransportConfig struct {
	Mode        string `json:"mode"`               // "forward" (we dial NapCat) or "reverse" (NapCat dials us)
	WSURL       string `json:"ws_url,omitempty"`   // forward mode endpoint
	Bind        string `json:"bind,omitempty"`     // reverse mode listen address
	AccessToken string `json:"-"`                  // from env ANTLERBOT_ACCESS_TOKEN only
	SendRPM     int    `json:"send_rpm,omitempty"` // outbound sends per minute; 0 disables pacing
}

// LogConfig configures logging output.
type LogConfig struct {
	Level string `json:"level,omitempty"` // "debug", "info" (default), "warn", "error"
	Dir   string `json:"dir,omitempty"`   // when set, also append to <dir>/bot.log
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // skip TLS verification
	ServiceName string            `json:"service_name,omitempty"` // OTEL service name (default "antlerbot")
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers for cloud backends
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			Mode:    "forward",
			WSURL:   "ws://127.0.0.1:3001",
			Bind:    "127.0.0.1:8082",
			SendRPM: 20,
		},
		ConfigDir: "config",
		Log: LogConfig{
			Level: "info",
			Dir:   "logs",
		},
	}
}

// Load reads config from a JSON file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("ANTLERBOT_MODE", &c.Transport.Mode)
	envStr("ANTLERBOT_WS_URL", &c.Transport.WSURL)
	envStr("ANTLERBOT_BIND", &c.Transport.Bind)
	envStr("ANTLERBOT_ACCESS_TOKEN", &c.Transport.AccessToken)
	envStr("ANTLERBOT_CONFIG_DIR", &c.ConfigDir)
	envStr("ANTLERBOT_LOG_LEVEL", &c.Log.Level)
	envStr("ANTLERBOT_LOG_DIR", &c.Log.Dir)

	if v := os.Getenv("ANTLERBOT_SEND_RPM"); v != "" {
		if rpm, err := strconv.Atoi(v); err == nil && rpm > 0 {
			c.Transport.SendRPM = rpm
		}
	}

	envStr("ANTLERBOT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("ANTLERBOT_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("ANTLERBOT_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("ANTLERBOT_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("ANTLERBOT_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// Save writes the config to a JSON file. The access token is never persisted.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// AgentDir returns the directory holding settings.yaml, prompt.txt and tasks.json.
func (c *Config) AgentDir() string {
	return filepath.Join(ExpandHome(c.ConfigDir), "agent")
}

// SettingsPath returns the agent settings file path.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.AgentDir(), "settings.yaml")
}

// PromptPath returns the system prompt file path.
func (c *Config) PromptPath() string {
	return filepath.Join(c.AgentDir(), "prompt.txt")
}

// TasksPath returns the scheduled-task store path.
func (c *Config) TasksPath() string {
	return filepath.Join(c.AgentDir(), "tasks.json")
}

// PermissionsPath returns the role assignment file path.
func (c *Config) PermissionsPath() string {
	return filepath.Join(ExpandHome(c.ConfigDir), "permissions.yaml")
}

// LogFilePath returns the active log file path, or "" when file logging is off.
func (c *Config) LogFilePath() string {
	if c.Log.Dir == "" {
		return ""
	}
	return filepath.Join(ExpandHome(c.Log.Dir), "bot.log")
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
