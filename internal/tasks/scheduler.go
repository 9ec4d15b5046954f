// Package tasks persists scheduled tasks and turns their trigger times into
// dispatch queue items.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antlerlab/antlerbot/internal/dispatch"
	"github.com/antlerlab/antlerbot/internal/providers"
)

// ErrNotFound is returned when a task lookup by id or name matches nothing.
var ErrNotFound = errors.New("task not found")

const (
	lastRunLayout = "2006-01-02T15:04:05"
	dateLayout    = "2006-01-02"
)

// cronRecoverFloor anchors missed-run detection for cron tasks that never ran.
var cronRecoverFloor = time.Date(2000, 1, 1, 0, 0, 0, 0, time.Local)

// Decider runs a structured single-shot LLM call outside the conversation.
// *agent.Agent satisfies it.
type Decider interface {
	Decide(ctx context.Context, msgs []providers.Message, format *providers.ResponseFormat) (string, error)
}

type Config struct {
	Store   *Store
	Enqueue func(dispatch.Item)              // hands fired tasks to the dispatch queue
	Decider Decider                          // complex_repeat rescheduling; may be nil
	Send    func(source Source, text string) // reply delivery for fired tasks
	Now     func() time.Time
}

// Scheduler owns one timer per stored task and converts expirations into
// dispatch queue items. All store mutations go through its mutex.
type Scheduler struct {
	mu      sync.Mutex
	store   *Store
	timers  map[string]*time.Timer
	enqueue func(dispatch.Item)
	decider Decider
	send    func(Source, string)
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		store:   cfg.Store,
		timers:  make(map[string]*time.Timer),
		enqueue: cfg.Enqueue,
		decider: cfg.Decider,
		send:    cfg.Send,
		now:     cfg.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Close stops all timers and cancels in-flight reschedule calls.
func (s *Scheduler) Close() {
	s.cancel()
	s.mu.Lock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
}

// Start loads the store, reports runs missed while the process was down,
// and arms timers for everything retained.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	stored, err := s.store.Load()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	kept, missed := s.recoverMissed(stored)
	if err := s.store.Save(kept); err != nil {
		s.mu.Unlock()
		return err
	}
	for _, t := range kept {
		s.armLocked(t)
	}
	s.mu.Unlock()

	slog.Info("task scheduler started", "tasks", len(kept), "missed", len(missed))

	if len(missed) > 0 {
		s.enqueue(dispatch.Item{
			Priority:  dispatch.PriorityScheduled,
			SourceKey: "system:recovery",
			Kind:      dispatch.ItemMessage,
			Text:      missedReport(missed),
		})
	}
	return nil
}

// Create validates, dedups the name, persists, and arms a new task. The
// returned copy carries the assigned id and final name.
func (s *Scheduler) Create(t Task) (Task, error) {
	if !t.Kind.valid() {
		return Task{}, fmt.Errorf("tasks: unknown task type %q", t.Kind)
	}
	if t.Name == "" {
		return Task{}, errors.New("tasks: name is required")
	}
	if t.Content == "" {
		return Task{}, errors.New("tasks: content is required")
	}
	if t.Source.Type == "" || t.Source.ID == "" {
		return Task{}, errors.New("tasks: source is required")
	}
	if err := ValidateTrigger(t.Trigger); err != nil {
		return Task{}, err
	}
	if t.Kind == KindOnce && IsCron(t.Trigger) {
		return Task{}, errors.New("tasks: once task needs a datetime trigger")
	}
	if t.Kind == KindRepeat && !IsCron(t.Trigger) {
		return Task{}, errors.New("tasks: repeat task needs a cron trigger")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.Load()
	if err != nil {
		return Task{}, err
	}
	t.ID = uuid.NewString()
	t.Name = uniqueName(t.Name, existing)
	t.RunCount = 0
	t.LastRun = ""
	if err := s.store.Save(append(existing, t)); err != nil {
		return Task{}, err
	}
	s.armLocked(t)
	slog.Info("task created", "name", t.Name, "type", string(t.Kind), "trigger", t.Trigger)
	return t, nil
}

// Cancel removes a task, matching key as an id first and a name second.
func (s *Scheduler) Cancel(key string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.store.Load()
	if err != nil {
		return Task{}, err
	}
	idx := findByID(stored, key)
	if idx < 0 {
		idx = findByName(stored, key)
	}
	if idx < 0 {
		return Task{}, ErrNotFound
	}
	t := stored[idx]
	stored = append(stored[:idx], stored[idx+1:]...)
	if err := s.store.Save(stored); err != nil {
		return Task{}, err
	}
	s.disarmLocked(t.ID)
	slog.Info("task cancelled", "name", t.Name)
	return t, nil
}

// List returns the stored tasks.
func (s *Scheduler) List() ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Load()
}

// onTrigger fires when a task's timer expires. The store is reloaded first
// so edits made since arming win; a task cancelled meanwhile is a no-op.
func (s *Scheduler) onTrigger(taskID string) {
	s.mu.Lock()
	delete(s.timers, taskID)

	stored, err := s.store.Load()
	if err != nil {
		s.mu.Unlock()
		slog.Error("task store load failed", "error", err)
		return
	}
	idx := findByID(stored, taskID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}

	stored[idx].RunCount++
	stored[idx].LastRun = s.now().Format(lastRunLayout)
	task := stored[idx]
	expired := task.expired(s.now())
	if expired {
		stored = append(stored[:idx], stored[idx+1:]...)
	}
	if err := s.store.Save(stored); err != nil {
		slog.Error("task store save failed", "name", task.Name, "error", err)
	}
	if !expired && task.Kind == KindRepeat {
		s.armLocked(task)
	}
	s.mu.Unlock()

	slog.Info("task fired", "name", task.Name, "run", task.RunCount, "expired", expired)

	item := dispatch.Item{
		Priority:  dispatch.PriorityScheduled,
		SourceKey: dispatch.SourceKey(task.Source.Type, task.Source.ID),
		Kind:      dispatch.ItemMessage,
		Text:      task.header() + "\n" + task.Content,
	}
	if s.send != nil {
		source := task.Source
		item.Reply = func(segment string) { s.send(source, segment) }
	}
	if task.Kind == KindComplex && !expired {
		item.Done = func(err error) {
			if err != nil {
				return
			}
			go s.reschedule(task.ID)
		}
	}
	s.enqueue(item)
}

// reschedule asks the model for the next trigger of a complex_repeat task
// after a run. The task may have been cancelled while the call ran, so
// existence is re-checked before applying the decision.
func (s *Scheduler) reschedule(taskID string) {
	if s.decider == nil {
		return
	}

	s.mu.Lock()
	stored, err := s.store.Load()
	if err != nil {
		s.mu.Unlock()
		slog.Error("task store load failed", "error", err)
		return
	}
	idx := findByID(stored, taskID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	task := stored[idx]
	s.mu.Unlock()

	decision, err := s.decide(task)
	if err != nil {
		slog.Error("task reschedule failed", "name", task.Name, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err = s.store.Load()
	if err != nil {
		slog.Error("task store load failed", "error", err)
		return
	}
	idx = findByID(stored, taskID)
	if idx < 0 {
		return
	}

	switch decision.Action {
	case "cancel":
		name := stored[idx].Name
		stored = append(stored[:idx], stored[idx+1:]...)
		if err := s.store.Save(stored); err != nil {
			slog.Error("task store save failed", "name", name, "error", err)
			return
		}
		s.disarmLocked(taskID)
		slog.Info("task cancelled by scheduler", "name", name)
	case "reschedule":
		t := &stored[idx]
		if decision.Trigger != "" {
			if err := ValidateTrigger(decision.Trigger); err != nil {
				slog.Error("task reschedule failed", "name", t.Name, "error", err)
				return
			}
			t.Trigger = decision.Trigger
		}
		if decision.Name != "" && decision.Name != t.Name {
			others := append(append([]Task{}, stored[:idx]...), stored[idx+1:]...)
			t.Name = uniqueName(decision.Name, others)
		}
		if decision.Content != "" {
			t.Content = decision.Content
		}
		if decision.OriginalPrompt != "" {
			t.OriginalPrompt = decision.OriginalPrompt
		}
		if err := s.store.Save(stored); err != nil {
			slog.Error("task store save failed", "name", t.Name, "error", err)
			return
		}
		s.armLocked(*t)
		slog.Info("task rescheduled", "name", t.Name, "trigger", t.Trigger)
	default:
		slog.Error("task reschedule failed", "name", task.Name, "error", fmt.Errorf("unknown action %q", decision.Action))
	}
}

type rescheduleDecision struct {
	Action         string `json:"action"`
	Trigger        string `json:"trigger"`
	Name           string `json:"name"`
	Content        string `json:"content"`
	OriginalPrompt string `json:"original_prompt"`
}

// rescheduleSchema constrains the decision to a flat JSON object. Fields
// other than action are nullable; null keeps the current value.
func rescheduleSchema() *providers.ResponseFormat {
	return &providers.ResponseFormat{
		Name: "task_reschedule",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"action": map[string]interface{}{
					"type": "string",
					"enum": []string{"reschedule", "cancel"},
				},
				"trigger":         map[string]interface{}{"type": []string{"string", "null"}},
				"name":            map[string]interface{}{"type": []string{"string", "null"}},
				"content":         map[string]interface{}{"type": []string{"string", "null"}},
				"original_prompt": map[string]interface{}{"type": []string{"string", "null"}},
			},
			"required":             []string{"action", "trigger", "name", "content", "original_prompt"},
			"additionalProperties": false,
		},
	}
}

func (s *Scheduler) decide(t Task) (rescheduleDecision, error) {
	system := fmt.Sprintf(
		"你是一个定时任务调度器。今天是%s。根据任务信息决定下次触发时间或取消任务。reschedule时提供trigger（ISO datetime或cron:表达式），其余字段如需更新则填写否则为null；cancel时其余字段为null。",
		s.now().Format(dateLayout),
	)
	user := fmt.Sprintf(
		"任务名称：%s\n已执行次数：%d\n原始提示：%s\n当前内容：%s\n当前触发器：%s",
		t.Name, t.RunCount, t.OriginalPrompt, t.Content, t.Trigger,
	)

	raw, err := s.decider.Decide(s.ctx, []providers.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, rescheduleSchema())
	if err != nil {
		return rescheduleDecision{}, err
	}

	var d rescheduleDecision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return rescheduleDecision{}, fmt.Errorf("tasks: parse decision %q: %w", raw, err)
	}
	return d, nil
}

// recoverMissed partitions stored tasks into the retained set and those
// whose runs were missed while the process was down. Missed once tasks are
// dropped; cron tasks are always retained.
func (s *Scheduler) recoverMissed(stored []Task) (kept, missed []Task) {
	now := s.now()
	for _, t := range stored {
		if IsCron(t.Trigger) {
			ref := cronRecoverFloor
			if t.LastRun != "" {
				if lr, err := time.ParseInLocation(lastRunLayout, t.LastRun, time.Local); err == nil {
					ref = lr
				}
			}
			next, err := NextCronAfter(t.Trigger, ref)
			if err == nil && next.Before(now) {
				missed = append(missed, t)
			}
			kept = append(kept, t)
			continue
		}

		at, err := ParseTriggerTime(t.Trigger)
		if err != nil {
			slog.Warn("task trigger invalid", "name", t.Name, "trigger", t.Trigger)
			kept = append(kept, t)
			continue
		}
		if at.Before(now) && t.LastRun == "" {
			missed = append(missed, t)
			if t.Kind == KindOnce {
				continue
			}
		}
		kept = append(kept, t)
	}
	return kept, missed
}

func missedReport(missed []Task) string {
	var b strings.Builder
	b.WriteString("以下定时任务在离线期间已到期：\n")
	for i, t := range missed {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s (原定时间：%s): %s", t.Name, t.Trigger, t.Content)
	}
	return b.String()
}

// armLocked schedules the task's next fire. Caller holds mu.
func (s *Scheduler) armLocked(t Task) {
	delay, ok := s.nextDelay(t)
	if !ok {
		return
	}
	if old := s.timers[t.ID]; old != nil {
		old.Stop()
	}
	id := t.ID
	s.timers[id] = time.AfterFunc(delay, func() { s.onTrigger(id) })
	slog.Info("task armed", "name", t.Name, "trigger", t.Trigger, "in", delay.Round(time.Second))
}

// nextDelay computes the time until the next fire. A datetime already in
// the past fires immediately for a never-run task and stays dormant for one
// that has run before.
func (s *Scheduler) nextDelay(t Task) (time.Duration, bool) {
	now := s.now()
	if IsCron(t.Trigger) {
		next, err := NextCronAfter(t.Trigger, now)
		if err != nil {
			slog.Warn("task trigger invalid", "name", t.Name, "trigger", t.Trigger, "error", err)
			return 0, false
		}
		return next.Sub(now), true
	}
	at, err := ParseTriggerTime(t.Trigger)
	if err != nil {
		slog.Warn("task trigger invalid", "name", t.Name, "trigger", t.Trigger, "error", err)
		return 0, false
	}
	delay := at.Sub(now)
	if delay < 0 {
		if t.LastRun != "" {
			return 0, false
		}
		delay = 0
	}
	return delay, true
}

func (s *Scheduler) disarmLocked(id string) {
	if timer := s.timers[id]; timer != nil {
		timer.Stop()
		delete(s.timers, id)
	}
}
