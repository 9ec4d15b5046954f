package tasks

import (
	"testing"
	"time"
)

func TestUniqueName(t *testing.T) {
	existing := []Task{{Name: "提醒"}, {Name: "提醒(1)"}}
	tests := []struct {
		name string
		want string
	}{
		{"新任务", "新任务"},
		{"提醒", "提醒(2)"},
		{"提醒(1)", "提醒(1)(1)"},
	}
	for _, tt := range tests {
		if got := uniqueName(tt.name, existing); got != tt.want {
			t.Errorf("uniqueName(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestTaskExpired(t *testing.T) {
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.Local)
	tests := []struct {
		name string
		task Task
		want bool
	}{
		{"once always expires", Task{Kind: KindOnce, RunCount: 1}, true},
		{"repeat open ended", Task{Kind: KindRepeat, RunCount: 5}, false},
		{"max runs hit", Task{Kind: KindRepeat, RunCount: 3, MaxRuns: 3}, true},
		{"max runs remaining", Task{Kind: KindRepeat, RunCount: 2, MaxRuns: 3}, false},
		{"end date passed", Task{Kind: KindComplex, RunCount: 1, EndDate: "2026-03-01"}, true},
		{"end date today", Task{Kind: KindComplex, RunCount: 1, EndDate: "2026-03-02"}, false},
	}
	for _, tt := range tests {
		if got := tt.task.expired(now); got != tt.want {
			t.Errorf("%s: expired = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestTaskHeader(t *testing.T) {
	once := Task{Kind: KindOnce, Name: "提醒", RunCount: 1}
	if got := once.header(); got != "<scheduled_task>提醒</scheduled_task>" {
		t.Errorf("once header = %q", got)
	}
	repeat := Task{Kind: KindRepeat, Name: "晨报", RunCount: 3}
	if got := repeat.header(); got != "<scheduled_task>晨报-第3次</scheduled_task>" {
		t.Errorf("repeat header = %q", got)
	}
}
