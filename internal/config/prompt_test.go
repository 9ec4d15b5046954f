package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPrompt_MissingFileSeedsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent", "prompt.txt")

	got := LoadPrompt(path)
	if got != DefaultPrompt {
		t.Errorf("LoadPrompt() = %q, want %q", got, DefaultPrompt)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("seeded prompt file not written: %v", err)
	}
	if string(data) != DefaultPrompt {
		t.Errorf("seeded file = %q, want %q", data, DefaultPrompt)
	}
}

func TestLoadPrompt_EmptyFileReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if got := LoadPrompt(path); got != "" {
		t.Errorf("LoadPrompt() = %q, want empty", got)
	}
}

func TestLoadPrompt_ReturnsContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte("你好机器人"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := LoadPrompt(path); got != "你好机器人" {
		t.Errorf("LoadPrompt() = %q, want %q", got, "你好机器人")
	}
}
