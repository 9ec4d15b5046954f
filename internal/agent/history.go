package agent

import (
	"log/slog"
	"unicode/utf8"

	"github.com/antlerlab/antlerbot/internal/providers"
)

// anchorIndex returns the index of the most recent user or system message,
// or -1. Summarization keeps everything from the anchor onward verbatim.
func anchorIndex(msgs []providers.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" || msgs[i].Role == "system" {
			return i
		}
	}
	return -1
}

// stripDanglingToolCalls removes incomplete tool-call sequences from a slice:
// assistant messages whose tool results were cut off by the slice boundary,
// and tool results with no preceding matching assistant message. Complete
// clusters pass through untouched, so the result is always safe to send.
func stripDanglingToolCalls(msgs []providers.Message) []providers.Message {
	var result []providers.Message
	for i := 0; i < len(msgs); i++ {
		msg := msgs[i]

		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			expected := make(map[string]bool, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				expected[tc.ID] = true
			}

			cluster := []providers.Message{msg}
			for i+1 < len(msgs) && msgs[i+1].Role == "tool" {
				i++
				if expected[msgs[i].ToolCallID] {
					cluster = append(cluster, msgs[i])
					delete(expected, msgs[i].ToolCallID)
				}
			}

			if len(expected) > 0 {
				slog.Debug("dropping incomplete tool cluster", "missing", len(expected))
				continue
			}
			result = append(result, cluster...)
			continue
		}

		if msg.Role == "tool" {
			slog.Debug("dropping orphaned tool result", "tool_call_id", msg.ToolCallID)
			continue
		}

		result = append(result, msg)
	}
	return result
}

// EstimateTokens is the fallback when the provider reports no usage:
// roughly one token per two characters of content.
func EstimateTokens(msgs []providers.Message) int {
	total := 0
	for _, m := range msgs {
		total += utf8.RuneCountInString(m.Content) / 2
	}
	return total
}

func copyMessages(msgs []providers.Message) []providers.Message {
	out := make([]providers.Message, len(msgs))
	copy(out, msgs)
	return out
}
