package bot

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/antlerlab/antlerbot/internal/agent"
	"github.com/antlerlab/antlerbot/internal/config"
	"github.com/antlerlab/antlerbot/internal/dispatch"
	"github.com/antlerlab/antlerbot/internal/providers"
	"github.com/antlerlab/antlerbot/internal/tasks"
)

func setProviderEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("LLM_MODEL", "gpt-4o-mini")
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("TRANSCRIPTION_MODEL", "")
	t.Setenv("TRANSCRIPTION_PROVIDER", "")
}

// TestNewRequiresProvider verifies construction fails fast when the LLM env
// is missing.
func TestNewRequiresProvider(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("LLM_MODEL", "")

	cfg := config.Default()
	cfg.ConfigDir = t.TempDir()
	if _, err := New(cfg); err == nil {
		t.Fatal("New() = nil error, want missing-provider error")
	} else if !strings.Contains(err.Error(), "LLM_PROVIDER") {
		t.Errorf("New() error = %q, want mention of LLM_PROVIDER", err)
	}
}

// TestNewWiresComponents verifies forward-mode construction assembles every
// component and seeds the default prompt.
func TestNewWiresComponents(t *testing.T) {
	setProviderEnv(t)
	cfg := config.Default()
	cfg.ConfigDir = t.TempDir()
	cfg.Log.Dir = t.TempDir()

	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	t.Cleanup(b.dispatcher.Close)
	t.Cleanup(b.scheduler.Close)

	if b.client == nil || b.agent == nil || b.dispatcher == nil || b.scheduler == nil ||
		b.contacts == nil || b.parser == nil || b.media == nil || b.commands == nil {
		t.Fatal("New() left a component nil")
	}
	if b.server != nil {
		t.Error("forward mode built a reverse server")
	}
	if got := b.agent.SystemPrompt(); got != config.DefaultPrompt {
		t.Errorf("system prompt = %q, want seeded default %q", got, config.DefaultPrompt)
	}
	if _, err := os.Stat(cfg.PromptPath()); err != nil {
		t.Errorf("prompt file not seeded: %v", err)
	}
}

// TestNewReverseMode verifies reverse transport configuration builds the
// accepting server.
func TestNewReverseMode(t *testing.T) {
	setProviderEnv(t)
	cfg := config.Default()
	cfg.ConfigDir = t.TempDir()
	cfg.Transport.Mode = "reverse"
	cfg.Transport.Bind = "127.0.0.1:0"

	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	t.Cleanup(b.dispatcher.Close)
	t.Cleanup(b.scheduler.Close)

	if b.server == nil {
		t.Error("reverse mode built no server")
	}
}

// TestReloadConfigAppliesPrompt verifies /reload config re-reads the prompt
// file into the running agent.
func TestReloadConfigAppliesPrompt(t *testing.T) {
	cfg := config.Default()
	cfg.ConfigDir = t.TempDir()
	if err := os.MkdirAll(cfg.AgentDir(), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.PromptPath(), []byte("你是鹿角"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.SettingsPath(), []byte("context_limit_tokens: 4000\n"), 0644); err != nil {
		t.Fatal(err)
	}

	b := &Bot{
		cfg:        cfg,
		agent:      agent.New(agent.Config{SystemPrompt: "旧提示"}),
		dispatcher: dispatch.New(dispatch.Config{Agent: newQueueRecorder()}),
	}
	b.settings = func() *config.Settings {
		s, err := config.LoadSettings(cfg.SettingsPath())
		if err != nil {
			t.Fatalf("LoadSettings() = %v", err)
		}
		return s
	}
	t.Cleanup(b.dispatcher.Close)

	if err := b.reloadConfig(); err != nil {
		t.Fatalf("reloadConfig() = %v", err)
	}
	if got := b.agent.SystemPrompt(); got != "你是鹿角" {
		t.Errorf("system prompt after reload = %q, want %q", got, "你是鹿角")
	}
}

// probeInvoker asks the bot for its current source at dispatch time, the way
// the create_task tool does when defaulting the task source.
type probeInvoker struct {
	bot *Bot
	got chan probeResult
}

type probeResult struct {
	src tasks.Source
	ok  bool
}

func (p *probeInvoker) Invoke(context.Context, agent.Reason, string, []providers.ImageContent, func(string)) error {
	src, ok := p.bot.currentSource()
	p.got <- probeResult{src: src, ok: ok}
	return nil
}

func (p *probeInvoker) HasHistory() bool { return false }

func (p *probeInvoker) Clear() {}

// TestCurrentSource verifies the dispatching chat is visible during an
// invocation and absent when idle.
func TestCurrentSource(t *testing.T) {
	probe := &probeInvoker{got: make(chan probeResult, 1)}
	b := &Bot{dispatcher: dispatch.New(dispatch.Config{Agent: probe})}
	probe.bot = b
	t.Cleanup(b.dispatcher.Close)

	if _, ok := b.currentSource(); ok {
		t.Error("currentSource() reported a source while idle")
	}

	b.dispatcher.Enqueue(dispatch.Item{
		Priority:  dispatch.PriorityUser,
		SourceKey: dispatch.SourceKey("group", "42"),
		Kind:      dispatch.ItemMessage,
		Text:      "hi",
	})

	var res probeResult
	select {
	case res = <-probe.got:
	case <-time.After(2 * time.Second):
		t.Fatal("no invocation dispatched within 2s")
	}
	if !res.ok {
		t.Fatal("currentSource() not set during dispatch")
	}
	if res.src.Type != "group" || res.src.ID != "42" {
		t.Errorf("currentSource() = %+v, want group:42", res.src)
	}
}
