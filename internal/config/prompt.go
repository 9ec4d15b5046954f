package config

import (
	"log/slog"
	"os"
	"path/filepath"
)

// DefaultPrompt seeds prompt.txt on first run.
const DefaultPrompt = "你是一个QQ机器人"

// LoadPrompt returns the system prompt. A missing file is created with the
// default; an existing empty file disables the system prompt entirely.
func LoadPrompt(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("prompt file not found, creating with default", "path", path)
			if err := os.MkdirAll(filepath.Dir(path), 0755); err == nil {
				if err := os.WriteFile(path, []byte(DefaultPrompt), 0644); err != nil {
					slog.Warn("write default prompt", "path", path, "error", err)
				}
			}
			return DefaultPrompt
		}
		slog.Warn("read prompt", "path", path, "error", err)
		return ""
	}
	if len(data) == 0 {
		slog.Warn("prompt file is empty", "path", path)
		return ""
	}
	return string(data)
}
