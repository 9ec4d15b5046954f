package dispatch

import (
	"container/heap"
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/antlerlab/antlerbot/internal/agent"
	"github.com/antlerlab/antlerbot/internal/providers"
)

const (
	timerSummarize = "summarize"
	timerClear     = "clear"
)

// Invoker is the slice of the agent the dispatcher drives.
type Invoker interface {
	Invoke(ctx context.Context, reason agent.Reason, text string, blocks []providers.ImageContent, emit func(string)) error
	HasHistory() bool
	Clear()
}

// Dispatcher serializes all bot work through one priority queue. A single
// worker goroutine drains it; enqueueing while the worker runs just queues.
// Inactivity is handled by keyed timers whose expirations enqueue summarize
// and clear items at auto priority.
type Dispatcher struct {
	mu            sync.Mutex
	queue         itemHeap
	seq           uint64
	running       bool
	currentSource string

	agent   Invoker
	onClear func()
	timers  *timerSet

	summarizeAfter time.Duration
	clearAfter     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

type Config struct {
	Agent          Invoker
	OnClear        func() // extra work on context clear (contact refresh)
	SummarizeAfter time.Duration
	ClearAfter     time.Duration
}

func New(cfg Config) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		agent:          cfg.Agent,
		onClear:        cfg.OnClear,
		timers:         newTimerSet(),
		summarizeAfter: cfg.SummarizeAfter,
		clearAfter:     cfg.ClearAfter,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Close stops the idle timers and cancels in-flight work.
func (d *Dispatcher) Close() {
	d.cancel()
	d.timers.StopAll()
}

// SetTimeouts swaps the idle timeouts; already-armed timers keep their old
// deadline until next re-arm.
func (d *Dispatcher) SetTimeouts(summarizeAfter, clearAfter time.Duration) {
	d.mu.Lock()
	d.summarizeAfter = summarizeAfter
	d.clearAfter = clearAfter
	d.mu.Unlock()
}

// Enqueue adds an item and wakes the worker if idle. Safe to call from
// anywhere, including tool callbacks running inside the worker itself.
func (d *Dispatcher) Enqueue(item Item) {
	d.mu.Lock()
	d.seq++
	item.Seq = d.seq
	heap.Push(&d.queue, &item)
	depth := d.queue.Len()
	if d.running {
		d.mu.Unlock()
		slog.Info("queued", "source", item.SourceKey, "priority", item.Priority, "depth", depth)
		return
	}
	d.running = true
	d.mu.Unlock()

	go d.work()
}

// Status is a snapshot for the operator surface.
type Status struct {
	Depth              int
	Running            bool
	CurrentSource      string
	SummarizeRemaining time.Duration
	SummarizeArmed     bool
}

func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	s := Status{
		Depth:         d.queue.Len(),
		Running:       d.running,
		CurrentSource: d.currentSource,
	}
	d.mu.Unlock()
	s.SummarizeRemaining, s.SummarizeArmed = d.timers.Remaining(timerSummarize)
	return s
}

func (d *Dispatcher) work() {
	for {
		d.mu.Lock()
		items := d.drainLocked()
		if len(items) == 0 {
			d.running = false
			d.currentSource = ""
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()

		if !d.process(items) {
			return
		}
	}
}

// drainLocked pops every queued item in dispatch order. Caller holds mu.
func (d *Dispatcher) drainLocked() []*Item {
	items := make([]*Item, 0, d.queue.Len())
	for d.queue.Len() > 0 {
		items = append(items, heap.Pop(&d.queue).(*Item))
	}
	return items
}

// process handles one drained batch. Returns false when the pass aborted on
// an invocation error; queued items then wait for the next enqueue.
func (d *Dispatcher) process(items []*Item) bool {
	var messages []*Item
	for _, item := range items {
		switch item.Kind {
		case ItemSummarize:
			if !d.handleSummarize() {
				return d.abort("", nil)
			}
		case ItemClear:
			d.handleClear()
		default:
			messages = append(messages, item)
		}
	}

	// Group by source, first-seen order; items inside a group keep arrival order.
	var order []string
	groups := make(map[string][]*Item)
	for _, item := range messages {
		if _, seen := groups[item.SourceKey]; !seen {
			order = append(order, item.SourceKey)
		}
		groups[item.SourceKey] = append(groups[item.SourceKey], item)
	}

	for _, key := range order {
		if err := d.processGroup(key, groups[key]); err != nil {
			return d.abort(key, err)
		}
	}

	if len(order) > 0 && d.agent.HasHistory() {
		d.timers.Arm(timerSummarize, d.summarizeDelay(), func() {
			d.Enqueue(Item{Priority: PriorityAuto, Kind: ItemSummarize})
		})
		d.timers.Cancel(timerClear)
	}

	return true
}

func (d *Dispatcher) processGroup(key string, group []*Item) error {
	d.mu.Lock()
	d.currentSource = key
	d.mu.Unlock()

	slog.Info("processing", "source", key, "batch", len(group))

	texts := make([]string, 0, len(group))
	var blocks []providers.ImageContent
	scheduled := true
	for _, item := range group {
		texts = append(texts, item.Text)
		blocks = append(blocks, item.Blocks...)
		if item.Priority != PriorityScheduled {
			scheduled = false
		}
	}

	reason := agent.ReasonUserMessage
	if scheduled {
		reason = agent.ReasonScheduledTask
	}

	reply := group[len(group)-1].Reply
	emit := func(segment string) {
		if reply != nil {
			reply(segment)
		}
	}

	err := d.agent.Invoke(d.ctx, reason, strings.Join(texts, "\n"), blocks, emit)
	for _, item := range group {
		if item.Done != nil {
			item.Done(err)
		}
	}
	return err
}

// handleSummarize runs the idle summarization and arms the clear timer.
func (d *Dispatcher) handleSummarize() bool {
	if !d.agent.HasHistory() {
		return true
	}
	if err := d.agent.Invoke(d.ctx, agent.ReasonSessionTimeout, "", nil, nil); err != nil {
		slog.Error("dispatch failed", "source", "", "error", err)
		return false
	}
	d.timers.Arm(timerClear, d.clearDelay(), func() {
		d.Enqueue(Item{Priority: PriorityAuto, Kind: ItemClear})
	})
	return true
}

func (d *Dispatcher) handleClear() {
	d.agent.Clear()
	if d.onClear != nil {
		d.onClear()
	}
}

func (d *Dispatcher) abort(source string, err error) bool {
	if err != nil {
		slog.Error("dispatch failed", "source", source, "error", err)
	}
	d.mu.Lock()
	d.running = false
	d.currentSource = ""
	d.mu.Unlock()
	return false
}

func (d *Dispatcher) summarizeDelay() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.summarizeAfter
}

func (d *Dispatcher) clearDelay() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clearAfter
}
