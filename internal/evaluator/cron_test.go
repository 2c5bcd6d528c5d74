package evaluator

import (
	"testing"
	"time"

	"github.com/shaiso/Conductor/internal/domain"
)

func TestCalculateNextDue_Cron(t *testing.T) {
	target := &domain.Target{
		CronExpr: "0 9 * * *",
		Timezone: "UTC",
	}

	from := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	next, err := CalculateNextDue(target, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %s, got %s", want, next)
	}
}

func TestCalculateNextDue_CronWithTimezone(t *testing.T) {
	target := &domain.Target{
		CronExpr: "0 9 * * *",
		Timezone: "America/New_York",
	}

	// 10:00 UTC = 06:00 в Нью-Йорке (EDT), ближайшие 9:00 — в тот же день
	from := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	next, err := CalculateNextDue(target, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC) // 9:00 EDT
	if !next.Equal(want) {
		t.Errorf("expected %s, got %s", want, next)
	}
}

func TestCalculateNextDue_InvalidTimezoneFallsBackToUTC(t *testing.T) {
	target := &domain.Target{
		CronExpr: "0 9 * * *",
		Timezone: "Mars/Olympus",
	}

	from := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	next, err := CalculateNextDue(target, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected UTC fallback %s, got %s", want, next)
	}
}

func TestCalculateNextDue_Interval(t *testing.T) {
	target := &domain.Target{
		IntervalSec: 300,
		Timezone:    "UTC",
	}

	from := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	next, err := CalculateNextDue(target, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !next.Equal(from.Add(5 * time.Minute)) {
		t.Errorf("expected from+5m, got %s", next)
	}
}

func TestCalculateNextDue_CronTakesPrecedence(t *testing.T) {
	target := &domain.Target{
		CronExpr:    "0 9 * * *",
		IntervalSec: 60,
		Timezone:    "UTC",
	}

	from := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	next, err := CalculateNextDue(target, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("cron_expr must win over interval_sec, got %s", next)
	}
}

func TestCalculateNextDue_NeitherModeIsError(t *testing.T) {
	target := &domain.Target{Timezone: "UTC"}

	if _, err := CalculateNextDue(target, time.Now()); err == nil {
		t.Fatal("expected error for target without cron_expr and interval_sec")
	}
}

func TestValidateCronExpr(t *testing.T) {
	if err := ValidateCronExpr("*/5 * * * *"); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := ValidateCronExpr("not a cron"); err == nil {
		t.Error("invalid expression accepted")
	}
	if err := ValidateCronExpr("0 9 * * MON-FRI"); err != nil {
		t.Errorf("day-of-week names rejected: %v", err)
	}
}
