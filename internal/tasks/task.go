package tasks

import (
	"fmt"
	"time"
)

// Kind is the task repetition model.
type Kind string

const (
	KindOnce    Kind = "once"           // datetime trigger, removed after firing
	KindRepeat  Kind = "repeat"         // cron trigger, fixed schedule
	KindComplex Kind = "complex_repeat" // next trigger decided by the LLM after each run
)

func (k Kind) valid() bool {
	switch k {
	case KindOnce, KindRepeat, KindComplex:
		return true
	}
	return false
}

// Source is the chat a task was created from and replies to.
type Source struct {
	Type string `json:"type"` // "group" or "private"
	ID   string `json:"id"`
}

// Task is one scheduled task as persisted in tasks.json. Older files may
// carry JSON nulls in the optional fields; those decode to zero values.
type Task struct {
	ID             string `json:"task_id"`
	Kind           Kind   `json:"type"`
	Name           string `json:"name"`
	Content        string `json:"content"`
	Trigger        string `json:"trigger"`
	Source         Source `json:"source"`
	RunCount       int    `json:"run_count"`
	LastRun        string `json:"last_run,omitempty"`
	MaxRuns        int    `json:"max_runs,omitempty"`
	EndDate        string `json:"end_date,omitempty"` // "2006-01-02", runs on that day still allowed
	OriginalPrompt string `json:"original_prompt,omitempty"`
}

// expired reports whether the task has no further runs after the one that
// just happened.
func (t *Task) expired(now time.Time) bool {
	if t.Kind == KindOnce {
		return true
	}
	if t.MaxRuns > 0 && t.RunCount >= t.MaxRuns {
		return true
	}
	if t.EndDate != "" && now.Format("2006-01-02") > t.EndDate {
		return true
	}
	return false
}

// header is the tag prepended to the task content on each run.
func (t *Task) header() string {
	if t.Kind == KindOnce {
		return fmt.Sprintf("<scheduled_task>%s</scheduled_task>", t.Name)
	}
	return fmt.Sprintf("<scheduled_task>%s-第%d次</scheduled_task>", t.Name, t.RunCount)
}

// uniqueName resolves name collisions deterministically: a taken name N
// becomes N(1), N(2), ... first free.
func uniqueName(name string, existing []Task) string {
	taken := make(map[string]bool, len(existing))
	for _, t := range existing {
		taken[t.Name] = true
	}
	if !taken[name] {
		return name
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s(%d)", name, i)
		if !taken[candidate] {
			return candidate
		}
	}
}

func findByID(tasks []Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func findByName(tasks []Task, name string) int {
	for i := range tasks {
		if tasks[i].Name == name {
			return i
		}
	}
	return -1
}
