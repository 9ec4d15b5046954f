package tasks

import (
	"testing"
	"time"
)

func TestValidateTrigger(t *testing.T) {
	tests := []struct {
		trigger string
		wantErr bool
	}{
		{"2026-03-01T10:00:00", false},
		{"2026-03-01T10:00", false},
		{"cron:0 9 * * *", false},
		{"cron:0 9 * * ?", false},
		{"cron:*/5 * * * * *", false}, // six fields, second precision
		{"cron:0 9 * *", true},        // four fields
		{"cron:0 9 * * * * 2026", true},
		{"2026-03-01", true},
		{"tomorrow", true},
		{"", true},
	}
	for _, tt := range tests {
		err := ValidateTrigger(tt.trigger)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateTrigger(%q) = %v, wantErr %v", tt.trigger, err, tt.wantErr)
		}
	}
}

func TestParseTriggerTime(t *testing.T) {
	got, err := ParseTriggerTime("2026-03-01T09:30")
	if err != nil {
		t.Fatalf("ParseTriggerTime: %v", err)
	}
	want := time.Date(2026, 3, 1, 9, 30, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("ParseTriggerTime = %v, want %v", got, want)
	}
}

// TestNextCronAfter verifies the next fire lands strictly after the
// reference time, so a reference exactly on a tick advances a full period.
func TestNextCronAfter(t *testing.T) {
	ref := time.Date(2026, 3, 1, 8, 0, 0, 0, time.Local)
	next, err := NextCronAfter("cron:0 9 * * *", ref)
	if err != nil {
		t.Fatalf("NextCronAfter: %v", err)
	}
	want := time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local)
	if !next.Equal(want) {
		t.Errorf("NextCronAfter = %v, want %v", next, want)
	}

	next, err = NextCronAfter("cron:0 9 * * *", want)
	if err != nil {
		t.Fatalf("NextCronAfter: %v", err)
	}
	if wantNext := want.AddDate(0, 0, 1); !next.Equal(wantNext) {
		t.Errorf("NextCronAfter on the tick = %v, want %v", next, wantNext)
	}
}
