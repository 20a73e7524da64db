package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/shaiso/Conductor/internal/domain"
)

func TestCalculateNextDue_Cron(t *testing.T) {
	from := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		want time.Time
	}{
		{"daily at 9", "0 9 * * *", time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC)},
		{"every 5 minutes", "*/5 * * * *", time.Date(2024, 1, 15, 10, 35, 0, 0, time.UTC)},
		{"hourly descriptor", "@hourly", time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateNextDue(&domain.Schedule{CronExpr: tt.expr}, from)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCalculateNextDue_Timezone(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}

	// 10:30 UTC = 13:30 MSK, следующий запуск в 9:00 MSK = 6:00 UTC
	from := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	got, err := CalculateNextDue(&domain.Schedule{CronExpr: "0 9 * * *", Timezone: "Europe/Moscow"}, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := time.Date(2024, 1, 16, 9, 0, 0, 0, loc).UTC()
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if got.Location() != time.UTC {
		t.Errorf("expected UTC result, got %v", got.Location())
	}
}

func TestCalculateNextDue_Interval(t *testing.T) {
	from := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	got, err := CalculateNextDue(&domain.Schedule{IntervalSec: 90}, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := from.Add(90 * time.Second); !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestCalculateNextDue_CronWinsOverInterval(t *testing.T) {
	from := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	got, err := CalculateNextDue(&domain.Schedule{CronExpr: "0 * * * *", IntervalSec: 10}, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestCalculateNextDue_Empty(t *testing.T) {
	_, err := CalculateNextDue(&domain.Schedule{}, time.Now())
	if !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("expected ErrInvalidSchedule, got %v", err)
	}
}

func TestValidateCronExpr(t *testing.T) {
	valid := []string{"0 9 * * *", "*/15 * * * 1-5", "@daily"}
	for _, expr := range valid {
		if err := ValidateCronExpr(expr); err != nil {
			t.Errorf("%q: unexpected error: %v", expr, err)
		}
	}

	// Секунды не поддерживаются
	invalid := []string{"", "not a cron", "0 0 9 * * *", "61 * * * *"}
	for _, expr := range invalid {
		if err := ValidateCronExpr(expr); !errors.Is(err, ErrInvalidSchedule) {
			t.Errorf("%q: expected ErrInvalidSchedule, got %v", expr, err)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		sched   domain.Schedule
		wantErr bool
	}{
		{"cron", domain.Schedule{WorkspaceSlug: "acme", WorkflowName: "flow", CronExpr: "0 9 * * *"}, false},
		{"interval", domain.Schedule{WorkspaceSlug: "acme", WorkflowName: "flow", IntervalSec: 60}, false},
		{"no target", domain.Schedule{CronExpr: "0 9 * * *"}, true},
		{"no timing", domain.Schedule{WorkspaceSlug: "acme", WorkflowName: "flow"}, true},
		{"bad cron", domain.Schedule{WorkspaceSlug: "acme", WorkflowName: "flow", CronExpr: "bad"}, true},
		{"bad timezone", domain.Schedule{WorkspaceSlug: "acme", WorkflowName: "flow", IntervalSec: 60, Timezone: "Mars/Olympus"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.sched)
			if tt.wantErr && !errors.Is(err, ErrInvalidSchedule) {
				t.Errorf("expected ErrInvalidSchedule, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestPrepare(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	sched := &domain.Schedule{WorkspaceSlug: "acme", WorkflowName: "flow", IntervalSec: 60}

	if err := Prepare(sched, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sched.Timezone != "UTC" {
		t.Errorf("expected default timezone UTC, got %q", sched.Timezone)
	}
	if sched.NextDueAt == nil || !sched.NextDueAt.Equal(now.Add(time.Minute)) {
		t.Errorf("expected next due %v, got %v", now.Add(time.Minute), sched.NextDueAt)
	}
}
