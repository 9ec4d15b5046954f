package providers

import (
	"fmt"
	"os"
	"strings"
)

// Base URLs for OpenAI-compatible providers that need no explicit override.
var knownBases = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"deepseek":   "https://api.deepseek.com/v1",
	"moonshot":   "https://api.moonshot.cn/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"openrouter": "https://openrouter.ai/api/v1",
}

// FromEnv builds the main provider from LLM_PROVIDER and LLM_MODEL.
// Both are required; the process should not start without them.
func FromEnv() (Provider, error) {
	for _, key := range []string{"LLM_PROVIDER", "LLM_MODEL"} {
		if os.Getenv(key) == "" {
			return nil, fmt.Errorf("%s is not set. Copy .env.example to .env and configure it", key)
		}
	}
	return New(os.Getenv("LLM_PROVIDER"), os.Getenv("LLM_MODEL"))
}

// New builds a provider by name. The API key comes from <NAME>_API_KEY with
// OPENAI_API_KEY as fallback for OpenAI-compatible backends; the base URL from
// <NAME>_BASE_URL with OPENAI_BASE_URL as fallback.
func New(name, model string) (Provider, error) {
	name = strings.ToLower(name)
	envPrefix := strings.ToUpper(name)

	apiKey := os.Getenv(envPrefix + "_API_KEY")
	baseURL := os.Getenv(envPrefix + "_BASE_URL")

	switch name {
	case "anthropic":
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
		}
		return NewAnthropicProvider(apiKey, baseURL, model), nil

	case "dashscope":
		if apiKey == "" {
			return nil, fmt.Errorf("DASHSCOPE_API_KEY is not set")
		}
		return NewDashScopeProvider(apiKey, baseURL, model), nil

	default:
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if baseURL == "" {
			baseURL = os.Getenv("OPENAI_BASE_URL")
		}
		if baseURL == "" {
			baseURL = knownBases[name]
		}
		if apiKey == "" {
			return nil, fmt.Errorf("%s_API_KEY is not set (OPENAI_API_KEY fallback also empty)", envPrefix)
		}
		return NewOpenAIProvider(name, apiKey, baseURL, model), nil
	}
}

// NewTranscription builds the transcription provider for the media sidecar.
// Env vars override the settings values; when no dedicated model and provider
// are configured, it returns (nil, nil) and the caller uses the main provider.
// The API key falls back to OPENAI_API_KEY and the base URL to OPENAI_BASE_URL.
func NewTranscription(model, providerName string) (Provider, error) {
	if v := os.Getenv("TRANSCRIPTION_MODEL"); v != "" {
		model = v
	}
	if v := os.Getenv("TRANSCRIPTION_PROVIDER"); v != "" {
		providerName = v
	}
	if model == "" || providerName == "" {
		return nil, nil
	}

	apiKey := os.Getenv("TRANSCRIPTION_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	baseURL := os.Getenv("TRANSCRIPTION_BASE_URL")
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_BASE_URL")
	}

	providerName = strings.ToLower(providerName)
	switch providerName {
	case "anthropic":
		return NewAnthropicProvider(apiKey, baseURL, model), nil
	case "dashscope":
		return NewDashScopeProvider(apiKey, baseURL, model), nil
	default:
		if baseURL == "" {
			baseURL = knownBases[providerName]
		}
		return NewOpenAIProvider(providerName, apiKey, baseURL, model), nil
	}
}
