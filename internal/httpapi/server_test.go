package httpapi

import (
	"testing"
	"time"
)

func TestParsePositiveInt(t *testing.T) {
	t.Parallel()

	if got, err := parsePositiveInt("", 25, 1, 200); err != nil || got != 25 {
		t.Fatalf("expected default for empty input, got %d err=%v", got, err)
	}
	if got, err := parsePositiveInt(" 42 ", 25, 1, 200); err != nil || got != 42 {
		t.Fatalf("expected parsed value, got %d err=%v", got, err)
	}
	if _, err := parsePositiveInt("abc", 25, 1, 200); err == nil {
		t.Fatalf("expected error for non-integer input")
	}
	if _, err := parsePositiveInt("0", 25, 1, 200); err == nil {
		t.Fatalf("expected error below minimum")
	}
	if _, err := parsePositiveInt("201", 25, 1, 200); err == nil {
		t.Fatalf("expected error above maximum")
	}
}

func TestParseTimeFilter(t *testing.T) {
	t.Parallel()

	if got, err := parseTimeFilter("", false); err != nil || got != nil {
		t.Fatalf("expected nil for empty input, got %v err=%v", got, err)
	}

	got, err := parseTimeFilter("2026-02-14T10:30:00+02:00", false)
	if err != nil || got == nil {
		t.Fatalf("expected RFC3339 parse, got err=%v", err)
	}
	if !got.Equal(time.Date(2026, 2, 14, 8, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected parsed time: %s", got)
	}

	dayStart, err := parseTimeFilter("2026-02-14", false)
	if err != nil || dayStart == nil {
		t.Fatalf("expected date parse, got err=%v", err)
	}
	if !dayStart.Equal(time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected day start: %s", dayStart)
	}

	dayEnd, err := parseTimeFilter("2026-02-14", true)
	if err != nil || dayEnd == nil {
		t.Fatalf("expected date parse, got err=%v", err)
	}
	if !dayEnd.After(*dayStart) || !dayEnd.Before(time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected day end: %s", dayEnd)
	}

	if _, err := parseTimeFilter("14/02/2026", false); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
