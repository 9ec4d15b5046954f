package tasks

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent", "tasks.json")
	s := NewStore(path)

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("Load on missing file = %+v, want empty", loaded)
	}

	tasks := []Task{{
		ID: "t1", Kind: KindRepeat, Name: "晨报", Content: "播报天气",
		Trigger: "cron:0 9 * * *", Source: Source{Type: "group", ID: "42"},
	}}
	if err := s.Save(tasks); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err = s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 1 || loaded[0] != tasks[0] {
		t.Errorf("Load = %+v, want %+v", loaded, tasks)
	}
}

// TestStoreLegacyNulls verifies files carrying JSON nulls in the optional
// fields still load, with the nulls reading as zero values.
func TestStoreLegacyNulls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	raw := `[{"task_id":"t1","type":"once","name":"提醒","content":"喝水",
"trigger":"2026-03-01T10:00:00","source":{"type":"private","id":"7"},
"run_count":0,"last_run":null,"max_runs":null,"end_date":null,"original_prompt":null}]`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	loaded, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("Load = %+v, want one task", loaded)
	}
	if got := loaded[0]; got.LastRun != "" || got.MaxRuns != 0 || got.Name != "提醒" {
		t.Errorf("Load = %+v, want zero-valued optionals", got)
	}
}

func TestStoreSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "tasks.json"))
	if err := s.Save([]Task{{ID: "a", Kind: KindOnce, Name: "n", Content: "c", Trigger: "2026-01-01T00:00:00"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "tasks.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("dir contents = %v, want only tasks.json", names)
	}
}

func TestStoreSaveNilAsEmptyArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	s := NewStore(path)
	if err := s.Save(nil); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "[]" {
		t.Errorf("file contents = %q, want empty array", got)
	}
}
