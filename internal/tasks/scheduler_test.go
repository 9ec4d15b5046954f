package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/antlerlab/antlerbot/internal/dispatch"
	"github.com/antlerlab/antlerbot/internal/providers"
)

// queueRecorder captures enqueued items in place of a live dispatcher.
type queueRecorder struct {
	mu    sync.Mutex
	items []dispatch.Item
}

func (q *queueRecorder) enqueue(item dispatch.Item) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

func (q *queueRecorder) recorded() []dispatch.Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]dispatch.Item, len(q.items))
	copy(out, q.items)
	return out
}

func (q *queueRecorder) wait(t *testing.T, n int) []dispatch.Item {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if items := q.recorded(); len(items) >= n {
			return items
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d queue items, have %+v", n, q.recorded())
	return nil
}

type sendRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *sendRecorder) send(source Source, text string) {
	r.mu.Lock()
	r.calls = append(r.calls, source.Type+":"+source.ID+"|"+text)
	r.mu.Unlock()
}

type fakeDecider struct {
	mu       sync.Mutex
	response string
	err      error
	requests [][]providers.Message
	formats  []*providers.ResponseFormat
}

func (f *fakeDecider) Decide(_ context.Context, msgs []providers.Message, format *providers.ResponseFormat) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, msgs)
	f.formats = append(f.formats, format)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

// TestCreateAndFire verifies a once task fires immediately when its time has
// passed, enqueues at scheduled priority with the run header, replies to its
// source, and is removed from the store afterwards.
func TestCreateAndFire(t *testing.T) {
	q := &queueRecorder{}
	sends := &sendRecorder{}
	s := New(Config{
		Store:   NewStore(filepath.Join(t.TempDir(), "tasks.json")),
		Enqueue: q.enqueue,
		Send:    sends.send,
	})
	t.Cleanup(s.Close)

	created, err := s.Create(Task{
		Kind:    KindOnce,
		Name:    "提醒",
		Content: "该喝水了",
		Trigger: "2000-01-01T00:00:00", // already due
		Source:  Source{Type: "private", ID: "7"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" || created.Name != "提醒" {
		t.Fatalf("Create = %+v, want assigned id and name", created)
	}

	items := q.wait(t, 1)
	item := items[0]
	if item.Priority != dispatch.PriorityScheduled {
		t.Errorf("priority = %d, want %d", item.Priority, dispatch.PriorityScheduled)
	}
	if item.SourceKey != "private:7" {
		t.Errorf("source = %q, want private:7", item.SourceKey)
	}
	if want := "<scheduled_task>提醒</scheduled_task>\n该喝水了"; item.Text != want {
		t.Errorf("text = %q, want %q", item.Text, want)
	}

	item.Reply("好的")
	sends.mu.Lock()
	got := append([]string{}, sends.calls...)
	sends.mu.Unlock()
	if len(got) != 1 || got[0] != "private:7|好的" {
		t.Errorf("sends = %v, want one reply to private:7", got)
	}

	left, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("List = %+v, want empty after a once task fires", left)
	}
}

func TestCreateDedupsName(t *testing.T) {
	q := &queueRecorder{}
	s := New(Config{Store: NewStore(filepath.Join(t.TempDir(), "tasks.json")), Enqueue: q.enqueue})
	t.Cleanup(s.Close)

	for _, want := range []string{"晨报", "晨报(1)", "晨报(2)"} {
		created, err := s.Create(Task{
			Kind: KindRepeat, Name: "晨报", Content: "播报新闻",
			Trigger: "cron:0 9 * * *", Source: Source{Type: "group", ID: "1"},
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if created.Name != want {
			t.Errorf("Create name = %q, want %q", created.Name, want)
		}
	}
}

func TestCreateValidation(t *testing.T) {
	s := New(Config{Store: NewStore(filepath.Join(t.TempDir(), "tasks.json")), Enqueue: func(dispatch.Item) {}})
	t.Cleanup(s.Close)

	tests := []struct {
		name string
		task Task
	}{
		{"unknown kind", Task{Kind: "hourly", Name: "a", Content: "c", Trigger: "cron:* * * * *", Source: Source{Type: "group", ID: "1"}}},
		{"bad trigger", Task{Kind: KindOnce, Name: "a", Content: "c", Trigger: "tomorrow", Source: Source{Type: "group", ID: "1"}}},
		{"once with cron", Task{Kind: KindOnce, Name: "a", Content: "c", Trigger: "cron:0 9 * * *", Source: Source{Type: "group", ID: "1"}}},
		{"repeat with datetime", Task{Kind: KindRepeat, Name: "a", Content: "c", Trigger: "2999-01-01T00:00:00", Source: Source{Type: "group", ID: "1"}}},
		{"missing source", Task{Kind: KindOnce, Name: "a", Content: "c", Trigger: "2999-01-01T00:00:00"}},
		{"missing content", Task{Kind: KindOnce, Name: "a", Trigger: "2999-01-01T00:00:00", Source: Source{Type: "group", ID: "1"}}},
		{"missing name", Task{Kind: KindOnce, Content: "c", Trigger: "2999-01-01T00:00:00", Source: Source{Type: "group", ID: "1"}}},
	}
	for _, tt := range tests {
		if _, err := s.Create(tt.task); err == nil {
			t.Errorf("%s: Create succeeded, want error", tt.name)
		}
	}
}

func TestCancelByIDAndByName(t *testing.T) {
	q := &queueRecorder{}
	s := New(Config{Store: NewStore(filepath.Join(t.TempDir(), "tasks.json")), Enqueue: q.enqueue})
	t.Cleanup(s.Close)

	a, err := s.Create(Task{Kind: KindRepeat, Name: "甲", Content: "c", Trigger: "cron:0 9 * * *", Source: Source{Type: "group", ID: "1"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create(Task{Kind: KindRepeat, Name: "乙", Content: "c", Trigger: "cron:0 10 * * *", Source: Source{Type: "group", ID: "1"}}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	cancelled, err := s.Cancel(a.ID)
	if err != nil {
		t.Fatalf("Cancel by id: %v", err)
	}
	if cancelled.Name != "甲" {
		t.Errorf("Cancel by id = %+v, want 甲", cancelled)
	}

	cancelled, err = s.Cancel("乙")
	if err != nil {
		t.Fatalf("Cancel by name: %v", err)
	}
	if cancelled.Name != "乙" {
		t.Errorf("Cancel by name = %+v, want 乙", cancelled)
	}

	if _, err := s.Cancel("丙"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Cancel missing = %v, want ErrNotFound", err)
	}

	left, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("List = %+v, want empty", left)
	}
}

// TestRepeatFiresAndExpires drives an every-second cron with max_runs 2
// through both runs: numbered headers, re-arming between runs, removal at
// the limit.
func TestRepeatFiresAndExpires(t *testing.T) {
	q := &queueRecorder{}
	s := New(Config{Store: NewStore(filepath.Join(t.TempDir(), "tasks.json")), Enqueue: q.enqueue})
	t.Cleanup(s.Close)

	_, err := s.Create(Task{
		Kind: KindRepeat, Name: "滴答", Content: "c", Trigger: "cron:* * * * * *",
		MaxRuns: 2, Source: Source{Type: "group", ID: "1"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	items := q.wait(t, 2)
	if !strings.Contains(items[0].Text, "滴答-第1次") {
		t.Errorf("first run text = %q, want 第1次 header", items[0].Text)
	}
	if !strings.Contains(items[1].Text, "滴答-第2次") {
		t.Errorf("second run text = %q, want 第2次 header", items[1].Text)
	}

	left, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("List = %+v, want empty after max runs", left)
	}
}

// TestComplexReschedule verifies a complex_repeat run asks the decider for
// the next trigger once reply delivery finishes, and applies the returned
// updates.
func TestComplexReschedule(t *testing.T) {
	q := &queueRecorder{}
	dec := &fakeDecider{response: `{"action":"reschedule","trigger":"2999-01-01T09:00:00","name":null,"content":"新内容","original_prompt":null}`}
	s := New(Config{
		Store:   NewStore(filepath.Join(t.TempDir(), "tasks.json")),
		Enqueue: q.enqueue,
		Decider: dec,
		Now:     func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local) },
	})
	t.Cleanup(s.Close)

	_, err := s.Create(Task{
		Kind: KindComplex, Name: "跟进", Content: "检查库存",
		Trigger: "2026-03-01T09:00:00", OriginalPrompt: "库存低的时候提醒我",
		Source: Source{Type: "group", ID: "9"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	items := q.wait(t, 1)
	if !strings.Contains(items[0].Text, "跟进-第1次") {
		t.Errorf("text = %q, want 第1次 header", items[0].Text)
	}
	if items[0].Done == nil {
		t.Fatal("complex run item has no completion hook")
	}
	items[0].Done(nil)

	var got Task
	deadline := time.Now().Add(2 * time.Second)
	for {
		list, err := s.List()
		if err == nil && len(list) == 1 && list[0].Trigger == "2999-01-01T09:00:00" {
			got = list[0]
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("reschedule not applied, store = %+v", list)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got.Content != "新内容" || got.Name != "跟进" {
		t.Errorf("task after reschedule = %+v", got)
	}

	dec.mu.Lock()
	defer dec.mu.Unlock()
	if len(dec.requests) != 1 {
		t.Fatalf("decider called %d times, want 1", len(dec.requests))
	}
	msgs := dec.requests[0]
	if len(msgs) != 2 || msgs[0].Role != "system" || msgs[1].Role != "user" {
		t.Fatalf("decide messages = %+v", msgs)
	}
	if !strings.Contains(msgs[0].Content, "定时任务调度器") || !strings.Contains(msgs[0].Content, "2026-03-01") {
		t.Errorf("system prompt = %q", msgs[0].Content)
	}
	for _, want := range []string{"任务名称：跟进", "已执行次数：1", "原始提示：库存低的时候提醒我", "当前触发器：2026-03-01T09:00:00"} {
		if !strings.Contains(msgs[1].Content, want) {
			t.Errorf("decide context %q missing %q", msgs[1].Content, want)
		}
	}
	if dec.formats[0] == nil || dec.formats[0].Name != "task_reschedule" {
		t.Errorf("format = %+v, want the task_reschedule schema", dec.formats[0])
	}
}

// TestComplexCancelDecision verifies a cancel decision removes the task.
func TestComplexCancelDecision(t *testing.T) {
	q := &queueRecorder{}
	dec := &fakeDecider{response: `{"action":"cancel","trigger":null,"name":null,"content":null,"original_prompt":null}`}
	s := New(Config{
		Store:   NewStore(filepath.Join(t.TempDir(), "tasks.json")),
		Enqueue: q.enqueue,
		Decider: dec,
	})
	t.Cleanup(s.Close)

	_, err := s.Create(Task{
		Kind: KindComplex, Name: "跟进", Content: "c",
		Trigger: "2000-01-01T00:00:00", Source: Source{Type: "private", ID: "3"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	items := q.wait(t, 1)
	if items[0].Done == nil {
		t.Fatal("complex run item has no completion hook")
	}
	items[0].Done(nil)

	deadline := time.Now().Add(2 * time.Second)
	for {
		list, err := s.List()
		if err == nil && len(list) == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("task not removed after cancel decision, store = %+v", list)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestComplexRescheduleSkippedOnError verifies a failed dispatch suppresses
// the reschedule call.
func TestComplexRescheduleSkippedOnError(t *testing.T) {
	q := &queueRecorder{}
	dec := &fakeDecider{response: `{"action":"cancel"}`}
	s := New(Config{
		Store:   NewStore(filepath.Join(t.TempDir(), "tasks.json")),
		Enqueue: q.enqueue,
		Decider: dec,
	})
	t.Cleanup(s.Close)

	_, err := s.Create(Task{
		Kind: KindComplex, Name: "跟进", Content: "c",
		Trigger: "2000-01-01T00:00:00", Source: Source{Type: "private", ID: "3"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	items := q.wait(t, 1)
	items[0].Done(errors.New("llm down"))

	time.Sleep(50 * time.Millisecond)
	dec.mu.Lock()
	calls := len(dec.requests)
	dec.mu.Unlock()
	if calls != 0 {
		t.Errorf("decider called %d times after failed dispatch, want 0", calls)
	}
}

// TestStartRecovery verifies runs missed while offline are reported in one
// scheduled queue item, missed once tasks are dropped, and cron tasks
// retained.
func TestStartRecovery(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "tasks.json"))
	seed := []Task{
		{ID: "a", Kind: KindOnce, Name: "过期提醒", Content: "提醒内容", Trigger: "2026-02-28T09:00:00", Source: Source{Type: "private", ID: "1"}},
		{ID: "b", Kind: KindRepeat, Name: "晨报", Content: "播报", Trigger: "cron:0 9 * * *", LastRun: "2026-02-27T09:00:00", Source: Source{Type: "group", ID: "2"}},
		{ID: "c", Kind: KindOnce, Name: "未来提醒", Content: "c", Trigger: "2999-01-01T00:00:00", Source: Source{Type: "private", ID: "1"}},
	}
	if err := store.Save(seed); err != nil {
		t.Fatal(err)
	}

	q := &queueRecorder{}
	s := New(Config{
		Store:   store,
		Enqueue: q.enqueue,
		Now:     func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.Local) },
	})
	t.Cleanup(s.Close)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	items := q.recorded()
	if len(items) != 1 {
		t.Fatalf("items = %+v, want one recovery report", items)
	}
	report := items[0]
	if report.Priority != dispatch.PriorityScheduled {
		t.Errorf("priority = %d, want scheduled", report.Priority)
	}
	wantLines := []string{
		"以下定时任务在离线期间已到期：",
		"- 过期提醒 (原定时间：2026-02-28T09:00:00): 提醒内容",
		"- 晨报 (原定时间：cron:0 9 * * *): 播报",
	}
	for _, line := range wantLines {
		if !strings.Contains(report.Text, line) {
			t.Errorf("report %q missing %q", report.Text, line)
		}
	}

	left, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	names := make([]string, 0, len(left))
	for _, task := range left {
		names = append(names, task.Name)
	}
	if len(names) != 2 || names[0] != "晨报" || names[1] != "未来提醒" {
		t.Errorf("retained = %v, want 晨报 and 未来提醒", names)
	}
}

// TestStartNothingMissed verifies a clean start enqueues nothing.
func TestStartNothingMissed(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "tasks.json"))
	seed := []Task{
		{ID: "a", Kind: KindRepeat, Name: "晨报", Content: "c", Trigger: "cron:0 9 * * *", LastRun: "2026-03-01T09:00:05", Source: Source{Type: "group", ID: "2"}},
	}
	if err := store.Save(seed); err != nil {
		t.Fatal(err)
	}

	q := &queueRecorder{}
	s := New(Config{
		Store:   store,
		Enqueue: q.enqueue,
		Now:     func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local) },
	})
	t.Cleanup(s.Close)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if items := q.recorded(); len(items) != 0 {
		t.Errorf("items = %+v, want none", items)
	}
}
