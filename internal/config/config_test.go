package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport.Mode != "forward" {
		t.Errorf("Transport.Mode = %q, want %q", cfg.Transport.Mode, "forward")
	}
	if cfg.Transport.WSURL != "ws://127.0.0.1:3001" {
		t.Errorf("Transport.WSURL = %q, want default", cfg.Transport.WSURL)
	}
	if cfg.Transport.SendRPM != 20 {
		t.Errorf("Transport.SendRPM = %d, want 20", cfg.Transport.SendRPM)
	}
}

func TestLoad_JSON5CommentsAccepted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
  // transport block
  "transport": {
    "mode": "reverse",
    "bind": "0.0.0.0:9001",
  },
  "config_dir": "data/config",
}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport.Mode != "reverse" {
		t.Errorf("Transport.Mode = %q, want %q", cfg.Transport.Mode, "reverse")
	}
	if cfg.Transport.Bind != "0.0.0.0:9001" {
		t.Errorf("Transport.Bind = %q, want %q", cfg.Transport.Bind, "0.0.0.0:9001")
	}
	if cfg.ConfigDir != "data/config" {
		t.Errorf("ConfigDir = %q, want %q", cfg.ConfigDir, "data/config")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ANTLERBOT_WS_URL", "ws://napcat:3001")
	t.Setenv("ANTLERBOT_ACCESS_TOKEN", "secret")
	t.Setenv("ANTLERBOT_SEND_RPM", "5")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport.WSURL != "ws://napcat:3001" {
		t.Errorf("Transport.WSURL = %q, want env value", cfg.Transport.WSURL)
	}
	if cfg.Transport.AccessToken != "secret" {
		t.Errorf("Transport.AccessToken = %q, want %q", cfg.Transport.AccessToken, "secret")
	}
	if cfg.Transport.SendRPM != 5 {
		t.Errorf("Transport.SendRPM = %d, want 5", cfg.Transport.SendRPM)
	}
}

func TestSave_DoesNotPersistAccessToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Transport.AccessToken = "secret"

	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("empty config written")
	}
	if strings.Contains(string(data), "secret") {
		t.Errorf("saved config contains access token: %s", data)
	}
}

func TestConfigPaths(t *testing.T) {
	cfg := Default()
	cfg.ConfigDir = "config"

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"settings", cfg.SettingsPath(), filepath.Join("config", "agent", "settings.yaml")},
		{"prompt", cfg.PromptPath(), filepath.Join("config", "agent", "prompt.txt")},
		{"tasks", cfg.TasksPath(), filepath.Join("config", "agent", "tasks.json")},
		{"permissions", cfg.PermissionsPath(), filepath.Join("config", "permissions.yaml")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("path = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := []struct {
		in   string
		want string
	}{
		{"~/data", home + "/data"},
		{"~", home},
		{"/abs/path", "/abs/path"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExpandHome(tt.in); got != tt.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
