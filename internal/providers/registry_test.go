package providers

import (
	"strings"
	"testing"
)

// clearProviderEnv blanks every env var the registry consults so tests are
// hermetic regardless of the host environment.
func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LLM_PROVIDER", "LLM_MODEL",
		"OPENAI_API_KEY", "OPENAI_BASE_URL",
		"ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL",
		"DASHSCOPE_API_KEY", "DASHSCOPE_BASE_URL",
		"DEEPSEEK_API_KEY", "DEEPSEEK_BASE_URL",
		"TRANSCRIPTION_MODEL", "TRANSCRIPTION_PROVIDER",
		"TRANSCRIPTION_API_KEY", "TRANSCRIPTION_BASE_URL",
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnv_MissingProvider(t *testing.T) {
	clearProviderEnv(t)
	_, err := FromEnv()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "LLM_PROVIDER") {
		t.Errorf("expected error to mention LLM_PROVIDER, got: %v", err)
	}
	if !strings.Contains(err.Error(), ".env.example") {
		t.Errorf("expected error to point at .env.example, got: %v", err)
	}
}

func TestFromEnv_MissingModel(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("LLM_PROVIDER", "openai")
	_, err := FromEnv()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "LLM_MODEL") {
		t.Errorf("expected error to mention LLM_MODEL, got: %v", err)
	}
}

func TestFromEnv_OpenAI(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("LLM_MODEL", "gpt-4o-mini")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	p, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("Name() = %q, want openai", p.Name())
	}
	if p.DefaultModel() != "gpt-4o-mini" {
		t.Errorf("DefaultModel() = %q, want gpt-4o-mini", p.DefaultModel())
	}
}

func TestNew_AnthropicRequiresKey(t *testing.T) {
	clearProviderEnv(t)
	_, err := New("anthropic", "claude-sonnet-4-5")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "ANTHROPIC_API_KEY") {
		t.Errorf("expected error to mention ANTHROPIC_API_KEY, got: %v", err)
	}

	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	p, err := New("anthropic", "claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("Name() = %q, want anthropic", p.Name())
	}
}

func TestNew_DashScope(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("DASHSCOPE_API_KEY", "sk-ds")

	p, err := New("dashscope", "qwen3-max")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "dashscope" {
		t.Errorf("Name() = %q, want dashscope", p.Name())
	}
}

// TestNew_KnownBase verifies a known OpenAI-compatible provider picks up its
// default base URL without any env override.
func TestNew_KnownBase(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("DEEPSEEK_API_KEY", "sk-deep")

	p, err := New("deepseek", "deepseek-chat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	oai, ok := p.(*OpenAIProvider)
	if !ok {
		t.Fatalf("expected *OpenAIProvider, got %T", p)
	}
	if oai.apiBase != "https://api.deepseek.com/v1" {
		t.Errorf("apiBase = %q, want deepseek default", oai.apiBase)
	}
}

// TestNew_OpenAIKeyFallback verifies OPENAI_API_KEY serves OpenAI-compatible
// providers without a dedicated key.
func TestNew_OpenAIKeyFallback(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-shared")
	t.Setenv("OPENAI_BASE_URL", "https://proxy.example.com/v1")

	p, err := New("deepseek", "deepseek-chat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	oai := p.(*OpenAIProvider)
	if oai.apiKey != "sk-shared" {
		t.Errorf("apiKey = %q, want sk-shared", oai.apiKey)
	}
	if oai.apiBase != "https://proxy.example.com/v1" {
		t.Errorf("apiBase = %q, want proxy base", oai.apiBase)
	}
}

func TestNew_MissingKey(t *testing.T) {
	clearProviderEnv(t)
	_, err := New("groq", "llama-3.3-70b")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "GROQ_API_KEY") {
		t.Errorf("expected error to mention GROQ_API_KEY, got: %v", err)
	}
}

func TestNewTranscription(t *testing.T) {
	t.Run("unconfigured returns nil", func(t *testing.T) {
		clearProviderEnv(t)
		p, err := NewTranscription("", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p != nil {
			t.Errorf("expected nil provider, got %T", p)
		}
	})

	t.Run("model without provider returns nil", func(t *testing.T) {
		clearProviderEnv(t)
		p, err := NewTranscription("whisper-1", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p != nil {
			t.Errorf("expected nil provider, got %T", p)
		}
	})

	t.Run("settings values used", func(t *testing.T) {
		clearProviderEnv(t)
		t.Setenv("OPENAI_API_KEY", "sk-main")

		p, err := NewTranscription("qwen3-omni-flash", "dashscope")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p == nil {
			t.Fatal("expected provider, got nil")
		}
		if p.Name() != "dashscope" {
			t.Errorf("Name() = %q, want dashscope", p.Name())
		}
		if p.DefaultModel() != "qwen3-omni-flash" {
			t.Errorf("DefaultModel() = %q, want qwen3-omni-flash", p.DefaultModel())
		}
	})

	t.Run("env overrides settings", func(t *testing.T) {
		clearProviderEnv(t)
		t.Setenv("TRANSCRIPTION_MODEL", "whisper-1")
		t.Setenv("TRANSCRIPTION_PROVIDER", "openai")
		t.Setenv("TRANSCRIPTION_API_KEY", "sk-stt")
		t.Setenv("TRANSCRIPTION_BASE_URL", "https://stt.example.com/v1")

		p, err := NewTranscription("other-model", "dashscope")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		oai, ok := p.(*OpenAIProvider)
		if !ok {
			t.Fatalf("expected *OpenAIProvider, got %T", p)
		}
		if oai.defaultModel != "whisper-1" {
			t.Errorf("model = %q, want whisper-1", oai.defaultModel)
		}
		if oai.apiKey != "sk-stt" {
			t.Errorf("apiKey = %q, want sk-stt", oai.apiKey)
		}
		if oai.apiBase != "https://stt.example.com/v1" {
			t.Errorf("apiBase = %q, want stt base", oai.apiBase)
		}
	})
}
