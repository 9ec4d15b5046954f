package tasks

import (
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

const cronPrefix = "cron:"

// Datetime triggers are timezone-naive local times, seconds optional.
var triggerLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04"}

// IsCron reports whether the trigger string is a cron expression.
func IsCron(trigger string) bool {
	return strings.HasPrefix(trigger, cronPrefix)
}

// cronExpr extracts and normalizes the expression behind the cron: prefix.
// Question marks are an any-value alias in several cron dialects.
func cronExpr(trigger string) string {
	expr := strings.TrimSpace(strings.TrimPrefix(trigger, cronPrefix))
	return strings.ReplaceAll(expr, "?", "*")
}

// ValidateTrigger checks a trigger is a well-formed 5- or 6-field cron
// expression or a local datetime.
func ValidateTrigger(trigger string) error {
	if IsCron(trigger) {
		expr := cronExpr(trigger)
		if n := len(strings.Fields(expr)); n != 5 && n != 6 {
			return fmt.Errorf("tasks: cron expression needs 5 or 6 fields, got %d", n)
		}
		if !gronx.New().IsValid(expr) {
			return fmt.Errorf("tasks: invalid cron expression %q", expr)
		}
		return nil
	}
	_, err := ParseTriggerTime(trigger)
	return err
}

// ParseTriggerTime parses a datetime trigger in local time.
func ParseTriggerTime(trigger string) (time.Time, error) {
	for _, layout := range triggerLayouts {
		if t, err := time.ParseInLocation(layout, trigger, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("tasks: invalid trigger %q (want cron:EXPR or 2006-01-02T15:04:05)", trigger)
}

// NextCronAfter returns the first fire time strictly after ref.
func NextCronAfter(trigger string, ref time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(cronExpr(trigger), ref, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("tasks: cron next tick: %w", err)
	}
	return next, nil
}
