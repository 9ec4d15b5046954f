package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/antlerlab/antlerbot/internal/agent"
)

func (h *Handler) cmdHelp(ctx context.Context, inv *invocation) error {
	if inv.args != "" {
		name := strings.Trim(inv.args, "/")
		cmd, ok := h.byName[name]
		if !ok {
			h.reply(ctx, inv.userID, "未知指令: /"+name)
			return nil
		}
		usage := cmd.usage
		if usage == "" {
			usage = "无参数"
		}
		h.reply(ctx, inv.userID, fmt.Sprintf("/%s - %s\n用法: %s", cmd.name, cmd.desc, usage))
		return nil
	}

	var lines []string
	for _, cmd := range h.order {
		if inv.role >= cmd.minRole {
			lines = append(lines, fmt.Sprintf("/%s - %s", cmd.name, cmd.desc))
		}
	}
	h.reply(ctx, inv.userID, strings.Join(lines, "\n"))
	return nil
}

func (h *Handler) cmdToken(ctx context.Context, inv *invocation) error {
	count := h.cfg.Agent.TokenUsage()
	if count == 0 {
		count = agent.EstimateTokens(h.cfg.Agent.History())
	}
	h.reply(ctx, inv.userID, fmt.Sprintf("当前上下文token估算: %d", count))
	return nil
}

func (h *Handler) cmdRaw(ctx context.Context, inv *invocation) error {
	history := h.cfg.Agent.History()
	if len(history) == 0 {
		h.reply(ctx, inv.userID, "该轮对话在上下文历史中已被清除")
		return nil
	}
	var human, ai string
	var haveHuman, haveAI bool
	for i := len(history) - 1; i >= 0 && !(haveHuman && haveAI); i-- {
		switch history[i].Role {
		case "user":
			if !haveHuman {
				human, haveHuman = history[i].Content, true
			}
		case "assistant":
			if !haveAI {
				ai, haveAI = history[i].Content, true
			}
		}
	}
	var parts []string
	if haveHuman {
		parts = append(parts, "[Human] "+human)
	}
	if haveAI {
		parts = append(parts, "[AI] "+ai)
	}
	out := strings.Join(parts, "\n")
	if out == "" {
		out = "该轮对话在上下文历史中已被清除"
	}
	h.reply(ctx, inv.userID, out)
	return nil
}

func (h *Handler) cmdStatus(ctx context.Context, inv *invocation) error {
	st := h.cfg.Queue.Status()

	taskCount := 0
	if list, err := h.cfg.Tasks.List(); err == nil {
		taskCount = len(list)
	} else {
		slog.Warn("task list failed", "error", err)
	}

	active := "否"
	if h.cfg.Agent.HasHistory() {
		active = "是"
	}
	timeout := "N/A"
	if st.SummarizeArmed {
		if st.SummarizeRemaining > 0 {
			timeout = fmt.Sprintf("%ds", int(st.SummarizeRemaining.Seconds()))
		} else {
			timeout = "即将触发"
		}
	}

	lines := []string{
		"会话活跃: " + active,
		fmt.Sprintf("上下文消息数: %d", len(h.cfg.Agent.History())),
		fmt.Sprintf("活跃任务数: %d", taskCount),
		"超时倒计时: " + timeout,
		fmt.Sprintf("队列深度: %d", st.Depth),
	}
	h.reply(ctx, inv.userID, strings.Join(lines, "\n"))
	return nil
}

func (h *Handler) cmdTasks(ctx context.Context, inv *invocation) error {
	list, err := h.cfg.Tasks.List()
	if err != nil {
		return fmt.Errorf("commands: task list: %w", err)
	}
	if len(list) == 0 {
		h.reply(ctx, inv.userID, "无活跃任务")
		return nil
	}
	lines := make([]string, 0, len(list))
	for _, t := range list {
		lines = append(lines, fmt.Sprintf("%s [%s] trigger=%s runs=%d", t.Name, t.Kind, t.Trigger, t.RunCount))
	}
	h.reply(ctx, inv.userID, strings.Join(lines, "\n"))
	return nil
}

func (h *Handler) cmdContext(ctx context.Context, inv *invocation) error {
	history := h.cfg.Agent.History()
	lines := make([]string, 0, len(history))
	for _, m := range history {
		lines = append(lines, fmt.Sprintf("[%s] %s", roleLabel(m.Role), m.Content))
	}

	f, err := os.CreateTemp("", "context-*.txt")
	if err != nil {
		return fmt.Errorf("commands: context export: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)
	if _, err := f.WriteString(strings.Join(lines, "\n")); err != nil {
		f.Close()
		return fmt.Errorf("commands: context export: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("commands: context export: %w", err)
	}
	return h.cfg.Messenger.UploadPrivateFile(ctx, inv.userID, path, "context.txt")
}

func roleLabel(role string) string {
	switch role {
	case "user":
		return "Human"
	case "assistant":
		return "AI"
	case "system":
		return "System"
	case "tool":
		return "Tool"
	}
	return role
}

func (h *Handler) cmdPrompt(ctx context.Context, inv *invocation) error {
	return h.cfg.Messenger.UploadPrivateFile(ctx, inv.userID, h.cfg.PromptPath, "prompt.txt")
}

func (h *Handler) cmdLog(ctx context.Context, inv *invocation) error {
	name := "bot.log"
	if inv.args != "" {
		name = "bot.log." + strings.ReplaceAll(inv.args, "-", "_")
	}
	path := filepath.Join(h.cfg.LogDir, name)
	if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		h.reply(ctx, inv.userID, "未找到日志: "+path)
		return nil
	}
	return h.cfg.Messenger.UploadPrivateFile(ctx, inv.userID, path, filepath.Base(path))
}

func (h *Handler) cmdReload(ctx context.Context, inv *invocation) error {
	switch inv.args {
	case "config":
		if h.cfg.ReloadConfig != nil {
			if err := h.cfg.ReloadConfig(); err != nil {
				slog.Warn("config reload failed", "error", err)
			}
		}
		h.reply(ctx, inv.userID, "配置已重载")
	case "contact":
		if h.cfg.RefreshContacts != nil {
			if err := h.cfg.RefreshContacts(ctx); err != nil {
				slog.Warn("contact refresh failed", "error", err)
			}
		}
		h.reply(ctx, inv.userID, "联系人缓存已刷新")
	default:
		h.reply(ctx, inv.userID, "用法: /reload <config|contact>")
	}
	return nil
}

func (h *Handler) cmdSummarize(ctx context.Context, inv *invocation) error {
	if h.cfg.Summarize != nil {
		if err := h.cfg.Summarize(ctx); err != nil {
			slog.Warn("summarize failed", "error", err)
		}
	}
	h.reply(ctx, inv.userID, "上下文已总结")
	return nil
}

func (h *Handler) cmdClearContext(ctx context.Context, inv *invocation) error {
	h.cfg.Agent.Clear()
	h.reply(ctx, inv.userID, "上下文已清空")
	return nil
}
