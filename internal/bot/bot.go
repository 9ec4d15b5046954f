// Package bot is the composition root: it wires transport, parser, commands,
// dispatcher, scheduler and the media sidecar into the running QQ bot.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/antlerlab/antlerbot/internal/agent"
	"github.com/antlerlab/antlerbot/internal/commands"
	"github.com/antlerlab/antlerbot/internal/config"
	"github.com/antlerlab/antlerbot/internal/contacts"
	"github.com/antlerlab/antlerbot/internal/dispatch"
	"github.com/antlerlab/antlerbot/internal/media"
	"github.com/antlerlab/antlerbot/internal/onebot"
	"github.com/antlerlab/antlerbot/internal/parser"
	"github.com/antlerlab/antlerbot/internal/providers"
	"github.com/antlerlab/antlerbot/internal/tasks"
	"github.com/antlerlab/antlerbot/internal/telemetry"
)

const eventBuffer = 256

// Bot holds every long-lived component of the process.
type Bot struct {
	cfg      *config.Config
	settings func() *config.Settings

	client     *onebot.Client
	server     *onebot.Server // reverse mode only
	agent      *agent.Agent
	dispatcher *dispatch.Dispatcher
	scheduler  *tasks.Scheduler
	contacts   *contacts.Cache
	parser     *parser.Parser
	media      *media.Processor
	commands   *commands.Handler

	events chan onebot.Event
}

// New assembles a Bot from config. It fails fast on a missing provider
// configuration; everything else degrades at runtime with logged warnings.
func New(cfg *config.Config) (*Bot, error) {
	provider, err := providers.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("bot: %w", err)
	}
	provider = telemetry.WrapProvider(provider)

	b := &Bot{
		cfg:    cfg,
		events: make(chan onebot.Event, eventBuffer),
	}

	settingsPath := cfg.SettingsPath()
	b.settings = func() *config.Settings {
		s, err := config.LoadSettings(settingsPath)
		if err != nil {
			slog.Warn("settings load failed, using defaults", "error", err)
		}
		return s
	}
	settings := b.settings()

	var transport onebot.Transport
	switch cfg.Transport.Mode {
	case "reverse":
		b.server = onebot.NewServer(cfg.Transport.Bind, cfg.Transport.AccessToken)
		transport = b.server
	default:
		transport = &onebot.Dialer{URL: cfg.Transport.WSURL, Token: cfg.Transport.AccessToken}
	}

	b.client = onebot.NewClient(onebot.ClientConfig{
		Transport: transport,
		SendRPM:   cfg.Transport.SendRPM,
		OnEvent: func(ev onebot.Event) {
			select {
			case b.events <- ev:
			default:
				slog.Warn("event queue full, dropping", "post_type", ev.PostType)
			}
		},
	})

	b.contacts = contacts.New(b.client)

	b.agent = agent.New(agent.Config{
		Provider:           provider,
		SystemPrompt:       config.LoadPrompt(cfg.PromptPath()),
		ContextLimitTokens: settings.ContextLimitTokens,
	})

	transcriber, err := providers.NewTranscription(
		settings.Media.TranscriptionModel, settings.Media.TranscriptionProvider)
	if err != nil {
		slog.Warn("transcription provider unavailable, using main provider", "error", err)
	}
	if transcriber == nil {
		transcriber = provider
	} else {
		transcriber = telemetry.WrapProvider(transcriber)
	}
	b.media = media.New(media.Config{
		Provider: transcriber,
		API:      b.client,
		Settings: b.settings,
		Client:   &http.Client{Timeout: 60 * time.Second},
	})

	b.parser = parser.New(parser.Config{
		API:      b.client,
		Contacts: b.contacts,
		Media:    b.media,
		Settings: b.settings,
	})

	b.dispatcher = dispatch.New(dispatch.Config{
		Agent: &tracedInvoker{inner: b.agent},
		OnClear: func() {
			go b.refreshContacts(context.Background())
		},
		SummarizeAfter: time.Duration(settings.TimeoutSummarizeSeconds) * time.Second,
		ClearAfter:     time.Duration(settings.TimeoutClearSeconds) * time.Second,
	})

	b.scheduler = tasks.New(tasks.Config{
		Store:   tasks.NewStore(cfg.TasksPath()),
		Enqueue: b.dispatcher.Enqueue,
		Decider: b.agent,
		Send: func(src tasks.Source, text string) {
			if err := b.client.SendToSource(context.Background(), src.Type, src.ID, text); err != nil {
				slog.Warn("task reply failed", "source", src.Type+":"+src.ID, "error", err)
			}
		},
	})
	b.agent.Tools().Register(tasks.NewCreateTool(b.scheduler, b.currentSource))
	b.agent.Tools().Register(tasks.NewCancelTool(b.scheduler))

	b.commands = commands.New(commands.Config{
		PermissionsPath: cfg.PermissionsPath(),
		PromptPath:      cfg.PromptPath(),
		LogDir:          config.ExpandHome(cfg.Log.Dir),
		Agent:           b.agent,
		Tasks:           b.scheduler,
		Queue:           b.dispatcher,
		Messenger:       b.client,
		Summarize: func(ctx context.Context) error {
			return b.agent.Invoke(ctx, agent.ReasonSessionTimeout, "", nil, nil)
		},
		ReloadConfig:    b.reloadConfig,
		RefreshContacts: b.contacts.RefreshAll,
	})

	return b, nil
}

// Run starts every component and blocks until ctx is cancelled or the
// transport permanently fails.
func (b *Bot) Run(ctx context.Context) error {
	defer b.dispatcher.Close()
	defer b.scheduler.Close()

	if err := b.scheduler.Start(); err != nil {
		return fmt.Errorf("bot: scheduler start: %w", err)
	}

	if err := config.Watch(ctx, b.cfg.AgentDir(), b.onConfigChange); err != nil {
		slog.Warn("config watcher unavailable", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	if b.server != nil {
		g.Go(func() error { return b.server.Start(ctx) })
	}
	g.Go(func() error { return b.client.Run(ctx) })
	g.Go(func() error {
		b.consumeEvents(ctx)
		return nil
	})
	g.Go(func() error {
		b.refreshContactsWithRetry(ctx)
		return nil
	})

	return g.Wait()
}

// currentSource reports the chat the dispatcher is serving, for the
// create_task tool's source default. Synthetic sources (the recovery
// report) are not chats and resolve to none.
func (b *Bot) currentSource() (tasks.Source, bool) {
	key := b.dispatcher.Status().CurrentSource
	if key == "" {
		return tasks.Source{}, false
	}
	src, err := dispatch.ParseSourceKey(key)
	if err != nil || (src.Type != "group" && src.Type != "private") {
		return tasks.Source{}, false
	}
	return tasks.Source{Type: src.Type, ID: src.ID}, true
}

// reloadConfig re-reads the prompt and settings-derived knobs. Settings
// themselves are read per use, so only cached state needs a push.
func (b *Bot) reloadConfig() error {
	b.agent.SetSystemPrompt(config.LoadPrompt(b.cfg.PromptPath()))
	s := b.settings()
	b.agent.SetContextLimit(s.ContextLimitTokens)
	b.dispatcher.SetTimeouts(
		time.Duration(s.TimeoutSummarizeSeconds)*time.Second,
		time.Duration(s.TimeoutClearSeconds)*time.Second,
	)
	return nil
}

func (b *Bot) onConfigChange(path string) {
	if err := b.reloadConfig(); err != nil {
		slog.Warn("config reload failed", "path", path, "error", err)
		return
	}
	slog.Info("config reloaded", "path", path)
}

func (b *Bot) refreshContacts(ctx context.Context) {
	if err := b.contacts.RefreshAll(ctx); err != nil {
		slog.Warn("contact refresh failed", "error", err)
	}
}

// refreshContactsWithRetry covers startup, when the transport may not be
// connected yet.
func (b *Bot) refreshContactsWithRetry(ctx context.Context) {
	for attempt := 0; attempt < 10; attempt++ {
		if err := b.contacts.RefreshAll(ctx); err == nil {
			return
		}
		select {
		case <-time.After(3 * time.Second):
		case <-ctx.Done():
			return
		}
	}
	slog.Warn("contact refresh failed after retries; caches stay empty until /reload contact")
}
