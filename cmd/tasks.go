package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/antlerlab/antlerbot/internal/config"
	"github.com/antlerlab/antlerbot/internal/tasks"
)

func tasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List the stored scheduled tasks",
		Run: func(cmd *cobra.Command, args []string) {
			runTasks()
		},
	}
}

func runTasks() {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	stored, err := tasks.NewStore(cfg.TasksPath()).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load tasks: %v\n", err)
		os.Exit(1)
	}
	if len(stored) == 0 {
		fmt.Println("No scheduled tasks.")
		return
	}
	fmt.Print(renderTaskTable(stored))
}

// renderTaskTable lays the tasks out in columns sized by display width, so
// CJK task names keep the table aligned.
func renderTaskTable(stored []tasks.Task) string {
	headers := []string{"NAME", "TYPE", "TRIGGER", "RUNS", "SOURCE"}
	rows := make([][]string, 0, len(stored))
	for _, t := range stored {
		rows = append(rows, []string{
			t.Name,
			string(t.Kind),
			t.Trigger,
			strconv.Itoa(t.RunCount),
			t.Source.Type + ":" + t.Source.ID,
		})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = runewidth.FillRight(cell, widths[i])
		}
		b.WriteString(strings.TrimRight(strings.Join(parts, "  "), " "))
		b.WriteByte('\n')
	}
	writeRow(headers)
	for _, row := range rows {
		writeRow(row)
	}
	return b.String()
}
