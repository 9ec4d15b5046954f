package tasks

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/antlerlab/antlerbot/internal/agent"
)

// NewCreateTool exposes task creation to the LLM. current resolves the chat
// being dispatched so created tasks default to replying there.
func NewCreateTool(s *Scheduler, current func() (Source, bool)) agent.Tool {
	return agent.Tool{
		Name: "create_task",
		Description: "创建定时任务。once任务使用ISO datetime触发器（如2026-03-01T10:00:00），" +
			"repeat任务使用cron触发器（如cron:0 9 * * *），complex_repeat任务由调度器在每次执行后决定下次触发时间。",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"type": map[string]interface{}{
					"type": "string",
					"enum": []string{"once", "repeat", "complex_repeat"},
				},
				"name":    map[string]interface{}{"type": "string", "description": "任务名称"},
				"content": map[string]interface{}{"type": "string", "description": "任务触发时执行的提示"},
				"trigger": map[string]interface{}{"type": "string", "description": "ISO datetime或cron:表达式"},
				"source": map[string]interface{}{
					"type":        "object",
					"description": "目标会话，缺省为当前会话",
					"properties": map[string]interface{}{
						"type": map[string]interface{}{"type": "string", "enum": []string{"group", "private"}},
						"id":   map[string]interface{}{"type": "string"},
					},
				},
				"max_runs":        map[string]interface{}{"type": "integer", "description": "最大执行次数，0表示不限"},
				"end_date":        map[string]interface{}{"type": "string", "description": "截止日期 YYYY-MM-DD，含当天"},
				"original_prompt": map[string]interface{}{"type": "string", "description": "complex_repeat任务的原始用户请求"},
			},
			"required": []string{"type", "name", "content", "trigger"},
		},
		Run: func(_ context.Context, args map[string]interface{}) (string, error) {
			t := Task{
				Kind:           Kind(stringArg(args, "type")),
				Name:           stringArg(args, "name"),
				Content:        stringArg(args, "content"),
				Trigger:        stringArg(args, "trigger"),
				MaxRuns:        intArg(args, "max_runs"),
				EndDate:        stringArg(args, "end_date"),
				OriginalPrompt: stringArg(args, "original_prompt"),
			}
			if m, ok := args["source"].(map[string]interface{}); ok {
				t.Source = Source{Type: stringArg(m, "type"), ID: stringArg(m, "id")}
			}
			if t.Source.Type == "" || t.Source.ID == "" {
				source, ok := current()
				if !ok {
					return "", errors.New("no active chat to attach the task to")
				}
				t.Source = source
			}

			created, err := s.Create(t)
			if err != nil {
				return "", err
			}
			out, _ := json.Marshal(map[string]string{"task_id": created.ID, "name": created.Name})
			return string(out), nil
		},
	}
}

// NewCancelTool exposes task cancellation to the LLM. The identifier is
// matched as a task id first, then as a name.
func NewCancelTool(s *Scheduler) agent.Tool {
	return agent.Tool{
		Name:        "cancel_task",
		Description: "取消定时任务。",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"task": map[string]interface{}{"type": "string", "description": "任务ID或任务名称"},
			},
			"required": []string{"task"},
		},
		Run: func(_ context.Context, args map[string]interface{}) (string, error) {
			cancelled, err := s.Cancel(stringArg(args, "task"))
			if errors.Is(err, ErrNotFound) {
				return `{"error": "Task not found"}`, nil
			}
			if err != nil {
				return "", err
			}
			out, _ := json.Marshal(map[string]string{"cancelled": cancelled.Name})
			return string(out), nil
		},
	}
}

func stringArg(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
