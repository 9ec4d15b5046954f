// Package commands is the operator surface: slash commands gated by the
// permissions file. Replies always go to the invoker's private chat, even
// when the command arrived in a group.
package commands

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/antlerlab/antlerbot/internal/dispatch"
	"github.com/antlerlab/antlerbot/internal/providers"
	"github.com/antlerlab/antlerbot/internal/tasks"
)

// Conversation is the agent surface the commands inspect and reset.
type Conversation interface {
	HasHistory() bool
	History() []providers.Message
	TokenUsage() int
	Clear()
}

// TaskLister reports the stored scheduled tasks.
type TaskLister interface {
	List() ([]tasks.Task, error)
}

// QueueStatus reports the dispatch queue snapshot.
type QueueStatus interface {
	Status() dispatch.Status
}

// Messenger delivers command output.
type Messenger interface {
	SendPrivateMsg(ctx context.Context, userID int64, text string) (int64, error)
	UploadPrivateFile(ctx context.Context, userID int64, path, name string) error
}

// Config wires a Handler.
type Config struct {
	PermissionsPath string
	PromptPath      string
	LogDir          string

	Agent     Conversation
	Tasks     TaskLister
	Queue     QueueStatus
	Messenger Messenger

	// Summarize runs a summarization pass and returns once it finished.
	Summarize func(ctx context.Context) error
	// ReloadConfig drops cached configuration (prompt, limits).
	ReloadConfig func() error
	// RefreshContacts rebuilds the friend and group caches.
	RefreshContacts func(ctx context.Context) error
}

type command struct {
	name    string
	minRole int
	desc    string
	usage   string
	run     func(ctx context.Context, inv *invocation) error
}

type invocation struct {
	userID int64
	role   int
	args   string
}

// Handler parses and runs operator commands.
type Handler struct {
	cfg    Config
	order  []*command
	byName map[string]*command
}

func New(cfg Config) *Handler {
	h := &Handler{cfg: cfg, byName: map[string]*command{}}

	h.register("help", RoleDeveloper, "列出可用指令或查看指令详情", "/help [指令名]", h.cmdHelp)
	h.register("token", RoleDeveloper, "显示当前上下文token数", "", h.cmdToken)
	h.register("raw", RoleDeveloper, "显示最后一轮对话", "", h.cmdRaw)
	h.register("status", RoleDeveloper, "显示Bot状态", "", h.cmdStatus)
	h.register("tasks", RoleDeveloper, "列出活跃的定时任务", "", h.cmdTasks)
	h.register("context", RoleDeveloper, "导出当前上下文历史", "", h.cmdContext)
	h.register("prompt", RoleDeveloper, "导出当前系统提示词", "", h.cmdPrompt)
	h.register("log", RoleDeveloper, "导出日志文件", "/log [YYYY-MM-DD]", h.cmdLog)
	h.register("reload", RoleAdmin, "重载配置", "/reload <config|contact>", h.cmdReload)
	h.register("summarize", RoleAdmin, "立即总结上下文", "", h.cmdSummarize)
	h.register("clear_context", RoleAdmin, "清空上下文历史", "", h.cmdClearContext)

	return h
}

func (h *Handler) register(name string, minRole int, desc, usage string, run func(context.Context, *invocation) error) {
	cmd := &command{name: name, minRole: minRole, desc: desc, usage: usage, run: run}
	h.order = append(h.order, cmd)
	h.byName[name] = cmd
}

// Handle runs text as a command when it is one. It returns false when the
// text is not a slash command or the sender holds no role, in which case the
// message flows on to the normal queue.
func (h *Handler) Handle(ctx context.Context, userID int64, text string) bool {
	if !strings.HasPrefix(text, "/") {
		return false
	}
	role := LoadRoles(h.cfg.PermissionsPath)[strconv.FormatInt(userID, 10)]
	if role == RoleUser {
		return false
	}

	name, args, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	args = strings.TrimSpace(args)
	if name == "" {
		name = "help"
	}

	cmd, ok := h.byName[name]
	if !ok {
		h.reply(ctx, userID, "未知指令: /"+name)
		return true
	}
	if role < cmd.minRole {
		h.reply(ctx, userID, "权限不足")
		return true
	}
	slog.Info("command", "name", cmd.name, "user_id", userID)
	if err := cmd.run(ctx, &invocation{userID: userID, role: role, args: args}); err != nil {
		slog.Warn("command failed", "name", cmd.name, "error", err)
	}
	return true
}

func (h *Handler) reply(ctx context.Context, userID int64, text string) {
	if _, err := h.cfg.Messenger.SendPrivateMsg(ctx, userID, text); err != nil {
		slog.Warn("command reply failed", "user_id", userID, "error", err)
	}
}
