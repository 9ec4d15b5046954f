package dispatch

import (
	"fmt"
	"strings"

	"github.com/antlerlab/antlerbot/internal/providers"
)

// Priorities; lower dispatches first. Ties resolve by arrival order.
const (
	PriorityScheduled = 0
	PriorityUser      = 1
	PriorityAuto      = 2
)

// ItemKind discriminates queue items. Timer expirations enqueue items rather
// than acting inline, so everything the bot does flows through one queue.
type ItemKind int

const (
	ItemMessage ItemKind = iota
	ItemSummarize
	ItemClear
)

func (k ItemKind) String() string {
	switch k {
	case ItemMessage:
		return "message"
	case ItemSummarize:
		return "summarize"
	case ItemClear:
		return "clear"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Item is one unit of work. Seq is assigned by the dispatcher on enqueue.
// Done, when set, is called once after the item's batch finishes dispatching,
// with the invocation error if it failed.
type Item struct {
	Priority  int
	Seq       uint64
	SourceKey string
	Kind      ItemKind
	Text      string
	Blocks    []providers.ImageContent
	Reply     func(segment string)
	Done      func(err error)
}

// Source identifies a chat endpoint.
type Source struct {
	Type string // "group" or "private"
	ID   string
}

// SourceKey builds the canonical "type:id" key.
func SourceKey(kind, id string) string {
	return kind + ":" + id
}

// ParseSourceKey splits a source key on the first colon.
func ParseSourceKey(key string) (Source, error) {
	kind, id, ok := strings.Cut(key, ":")
	if !ok || kind == "" || id == "" {
		return Source{}, fmt.Errorf("dispatch: malformed source key %q", key)
	}
	return Source{Type: kind, ID: id}, nil
}
