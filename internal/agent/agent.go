package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/antlerlab/antlerbot/internal/providers"
)

// Reason selects the entry node of an invocation.
type Reason string

const (
	ReasonUserMessage       Reason = "user_message"
	ReasonScheduledTask     Reason = "scheduled_task"
	ReasonSessionTimeout    Reason = "session_timeout"
	ReasonComplexReschedule Reason = "complex_reschedule"
)

const (
	summarizePrompt = "请总结以下对话，保留关键信息："
	timeLayout      = "2006-01-02 15:04:05"
)

// Agent owns the conversation history and runs the LLM graph over it:
// generate ↔ tools until a plain reply, then summarize when the reported
// prompt tokens exceed the context limit. Invocations are single flight;
// concurrent callers serialize on the run lock.
type Agent struct {
	runMu sync.Mutex   // held across a whole invocation, tool rounds included
	mu    sync.RWMutex // guards history, tokenUsage, systemPrompt, contextLimit

	provider providers.Provider
	model    string
	tools    *ToolRegistry

	history      []providers.Message
	tokenUsage   int
	systemPrompt string
	contextLimit int

	maxIterations int
	now           func() time.Time
}

type Config struct {
	Provider           providers.Provider
	Model              string
	Tools              *ToolRegistry
	SystemPrompt       string
	ContextLimitTokens int
	MaxIterations      int
}

func New(cfg Config) *Agent {
	if cfg.Tools == nil {
		cfg.Tools = NewToolRegistry()
	}
	if cfg.ContextLimitTokens <= 0 {
		cfg.ContextLimitTokens = 8000
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 20
	}
	return &Agent{
		provider:      cfg.Provider,
		model:         cfg.Model,
		tools:         cfg.Tools,
		systemPrompt:  cfg.SystemPrompt,
		contextLimit:  cfg.ContextLimitTokens,
		maxIterations: cfg.MaxIterations,
		now:           time.Now,
	}
}

func (a *Agent) Tools() *ToolRegistry { return a.tools }

// Invoke runs one graph invocation. Streamed reply segments are delivered
// through emit; reasons that produce no reply never call it.
func (a *Agent) Invoke(ctx context.Context, reason Reason, text string, blocks []providers.ImageContent, emit func(string)) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	slog.Info("agent invoke", "reason", reason)

	var err error
	switch reason {
	case ReasonUserMessage, ReasonScheduledTask:
		err = a.generate(ctx, text, blocks, emit)
	case ReasonSessionTimeout:
		err = a.summarize(ctx, false)
	default:
		err = fmt.Errorf("agent: invalid invoke reason %q", reason)
	}
	if err != nil {
		return err
	}

	slog.Info("agent done", "reason", reason)
	return nil
}

// Decide runs a single schema-constrained LLM call over caller-supplied
// messages. History and token accounting are untouched.
func (a *Agent) Decide(ctx context.Context, msgs []providers.Message, format *providers.ResponseFormat) (string, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	slog.Info("agent invoke", "reason", ReasonComplexReschedule)

	resp, err := a.provider.Chat(ctx, providers.ChatRequest{
		Messages:       msgs,
		Model:          a.model,
		ResponseFormat: format,
	})
	if err != nil {
		return "", fmt.Errorf("agent: decide: %w", err)
	}

	slog.Info("agent done", "reason", ReasonComplexReschedule)
	return resp.Content, nil
}

func (a *Agent) generate(ctx context.Context, text string, blocks []providers.ImageContent, emit func(string)) error {
	if emit == nil {
		emit = func(string) {}
	}

	a.mu.RLock()
	msgs := copyMessages(a.history)
	a.mu.RUnlock()

	msgs = append(msgs, providers.Message{Role: "user", Content: text, Images: blocks})

	// One segmenter spans all generate rounds of the invocation; it flushes
	// only when the final reply is complete.
	seg := NewSegmenter(emit)

	for iteration := 1; iteration <= a.maxIterations; iteration++ {
		resp, err := a.provider.ChatStream(ctx, a.buildRequest(msgs), func(c providers.StreamChunk) {
			if c.Content != "" {
				seg.Write(c.Content)
			}
		})
		if err != nil {
			return fmt.Errorf("agent: llm call failed (iteration %d): %w", iteration, err)
		}

		msgs = append(msgs, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
			Usage:     resp.Usage,
		})

		if len(resp.ToolCalls) > 0 {
			for _, tc := range resp.ToolCalls {
				slog.Info("tool call", "tool", tc.Name)
				out := a.tools.Execute(ctx, tc.Name, tc.Arguments)
				msgs = append(msgs, providers.Message{Role: "tool", Content: out, ToolCallID: tc.ID})
			}
			continue
		}

		seg.Flush()

		a.mu.Lock()
		a.history = msgs
		promptTokens := 0
		if resp.Usage != nil {
			a.tokenUsage = resp.Usage.TotalTokens
			promptTokens = resp.Usage.PromptTokens
		} else {
			a.tokenUsage = EstimateTokens(msgs)
		}
		limit := a.contextLimit
		a.mu.Unlock()

		if promptTokens > limit {
			return a.summarize(ctx, true)
		}
		return nil
	}

	return fmt.Errorf("agent: tool loop exceeded %d iterations", a.maxIterations)
}

// buildRequest assembles the wire messages: system prompt first, then the
// working history, then a current-time note unless the tail is a tool result
// (mid-loop rounds answer tools, not the clock).
func (a *Agent) buildRequest(msgs []providers.Message) providers.ChatRequest {
	a.mu.RLock()
	sys := a.systemPrompt
	a.mu.RUnlock()

	out := make([]providers.Message, 0, len(msgs)+2)
	if sys != "" {
		out = append(out, providers.Message{Role: "system", Content: sys})
	}
	out = append(out, msgs...)
	if n := len(msgs); n == 0 || msgs[n-1].Role != "tool" {
		out = append(out, providers.Message{
			Role:    "system",
			Content: "当前时间：" + a.now().Format(timeLayout),
		})
	}

	return providers.ChatRequest{Messages: out, Tools: a.tools.Defs(), Model: a.model}
}

// summarize folds history into a <context-summary> system note. With
// keepTail, everything from the last user/system anchor onward survives
// verbatim; without it the whole history is folded (session timeout).
func (a *Agent) summarize(ctx context.Context, keepTail bool) error {
	a.mu.RLock()
	msgs := copyMessages(a.history)
	a.mu.RUnlock()

	anchor := len(msgs)
	if keepTail {
		if i := anchorIndex(msgs); i >= 0 {
			anchor = i
		}
	}

	head := stripDanglingToolCalls(msgs[:anchor])
	if len(head) == 0 {
		return nil
	}

	reqMsgs := make([]providers.Message, 0, len(head)+1)
	reqMsgs = append(reqMsgs, providers.Message{Role: "user", Content: summarizePrompt})
	reqMsgs = append(reqMsgs, head...)

	resp, err := a.provider.Chat(ctx, providers.ChatRequest{Messages: reqMsgs, Model: a.model})
	if err != nil {
		return fmt.Errorf("agent: summarize: %w", err)
	}

	summary := providers.Message{
		Role: "system",
		Content: fmt.Sprintf("<context-summary summary_time=%s>\n%s\n</context-summary>",
			a.now().Format(timeLayout), resp.Content),
	}

	a.mu.Lock()
	newHist := make([]providers.Message, 0, 1+len(msgs)-anchor)
	newHist = append(newHist, summary)
	newHist = append(newHist, msgs[anchor:]...)
	a.history = newHist
	if resp.Usage != nil {
		a.tokenUsage = a.tokenUsage - resp.Usage.PromptTokens + resp.Usage.CompletionTokens
		if a.tokenUsage < 0 {
			a.tokenUsage = 0
		}
	}
	a.mu.Unlock()

	slog.Info("history summarized", "kept", len(newHist), "folded", len(head))
	return nil
}

// Clear drops the conversation history and resets token accounting.
func (a *Agent) Clear() {
	a.mu.Lock()
	a.history = nil
	a.tokenUsage = 0
	a.mu.Unlock()
	slog.Info("history cleared")
}

func (a *Agent) HasHistory() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.history) > 0
}

// History returns a copy of the conversation history.
func (a *Agent) History() []providers.Message {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return copyMessages(a.history)
}

func (a *Agent) TokenUsage() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tokenUsage
}

func (a *Agent) SystemPrompt() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.systemPrompt
}

// SetSystemPrompt swaps the system prompt; the next invocation uses it.
func (a *Agent) SetSystemPrompt(p string) {
	a.mu.Lock()
	a.systemPrompt = p
	a.mu.Unlock()
}

// SetContextLimit swaps the summarization threshold; the next invocation uses it.
func (a *Agent) SetContextLimit(n int) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	a.contextLimit = n
	a.mu.Unlock()
}
