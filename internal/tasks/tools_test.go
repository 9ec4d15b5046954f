package tasks

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
)

// TestCreateToolDefaultsToActiveChat verifies the tool fills in the chat
// being dispatched when no source argument is given.
func TestCreateToolDefaultsToActiveChat(t *testing.T) {
	q := &queueRecorder{}
	s := New(Config{Store: NewStore(filepath.Join(t.TempDir(), "tasks.json")), Enqueue: q.enqueue})
	t.Cleanup(s.Close)

	tool := NewCreateTool(s, func() (Source, bool) {
		return Source{Type: "group", ID: "42"}, true
	})
	if tool.Name != "create_task" {
		t.Errorf("tool name = %q, want create_task", tool.Name)
	}

	out, err := tool.Run(context.Background(), map[string]interface{}{
		"type":     "repeat",
		"name":     "晨报",
		"content":  "播报新闻",
		"trigger":  "cron:0 9 * * *",
		"max_runs": float64(3),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var created map[string]string
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("Run output %q: %v", out, err)
	}
	if created["task_id"] == "" || created["name"] != "晨报" {
		t.Errorf("Run output = %v, want task_id and name", created)
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("List = %+v, want one task", list)
	}
	if list[0].Source != (Source{Type: "group", ID: "42"}) {
		t.Errorf("source = %+v, want the active chat", list[0].Source)
	}
	if list[0].MaxRuns != 3 {
		t.Errorf("max runs = %d, want 3", list[0].MaxRuns)
	}
}

func TestCreateToolExplicitSource(t *testing.T) {
	q := &queueRecorder{}
	s := New(Config{Store: NewStore(filepath.Join(t.TempDir(), "tasks.json")), Enqueue: q.enqueue})
	t.Cleanup(s.Close)

	tool := NewCreateTool(s, func() (Source, bool) {
		return Source{Type: "group", ID: "42"}, true
	})
	_, err := tool.Run(context.Background(), map[string]interface{}{
		"type":    "repeat",
		"name":    "晚报",
		"content": "播报新闻",
		"trigger": "cron:0 21 * * *",
		"source":  map[string]interface{}{"type": "private", "id": "8"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	list, err := s.List()
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %+v, %v", list, err)
	}
	if list[0].Source != (Source{Type: "private", ID: "8"}) {
		t.Errorf("source = %+v, want the explicit one", list[0].Source)
	}
}

func TestCreateToolNoActiveChat(t *testing.T) {
	q := &queueRecorder{}
	s := New(Config{Store: NewStore(filepath.Join(t.TempDir(), "tasks.json")), Enqueue: q.enqueue})
	t.Cleanup(s.Close)

	tool := NewCreateTool(s, func() (Source, bool) { return Source{}, false })
	_, err := tool.Run(context.Background(), map[string]interface{}{
		"type": "repeat", "name": "晨报", "content": "c", "trigger": "cron:0 9 * * *",
	})
	if err == nil {
		t.Error("Run succeeded without an active chat, want error")
	}
}

func TestCancelTool(t *testing.T) {
	q := &queueRecorder{}
	s := New(Config{Store: NewStore(filepath.Join(t.TempDir(), "tasks.json")), Enqueue: q.enqueue})
	t.Cleanup(s.Close)

	created, err := s.Create(Task{
		Kind: KindRepeat, Name: "晨报", Content: "c",
		Trigger: "cron:0 9 * * *", Source: Source{Type: "group", ID: "1"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	tool := NewCancelTool(s)
	out, err := tool.Run(context.Background(), map[string]interface{}{"task": created.ID})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := `{"cancelled":"晨报"}`; out != want {
		t.Errorf("Run = %q, want %q", out, want)
	}

	out, err = tool.Run(context.Background(), map[string]interface{}{"task": "晨报"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := `{"error": "Task not found"}`; out != want {
		t.Errorf("Run on missing task = %q, want %q", out, want)
	}
}
