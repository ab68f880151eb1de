package rollup

import (
	"testing"
	"time"
)

func TestHourBucket(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 14, 15, 9, 26, 535_000_000, time.UTC)
	want := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	if got := HourBucket(ts); !got.Equal(want) {
		t.Fatalf("unexpected hour bucket: got %s want %s", got, want)
	}

	offset := time.FixedZone("plus5", 5*3600)
	local := time.Date(2026, 3, 14, 3, 30, 0, 0, offset)
	if got := HourBucket(local); !got.Equal(time.Date(2026, 3, 13, 22, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected bucket in UTC, got %s", got)
	}
}

func TestDayBucket(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 14, 23, 59, 59, 0, time.UTC)
	want := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	if got := DayBucket(ts); !got.Equal(want) {
		t.Fatalf("unexpected day bucket: got %s want %s", got, want)
	}

	offset := time.FixedZone("minus8", -8*3600)
	local := time.Date(2026, 3, 14, 22, 0, 0, 0, offset)
	if got := DayBucket(local); !got.Equal(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected bucket for the UTC day, got %s", got)
	}
}

func TestLabelCounts(t *testing.T) {
	t.Parallel()

	positive := "positive"
	negative := "negative"
	neutral := "neutral"
	unknown := "mixed"

	if p, n, u := LabelCounts(&positive); p != 1 || n != 0 || u != 0 {
		t.Fatalf("unexpected counts for positive: %d %d %d", p, n, u)
	}
	if p, n, u := LabelCounts(&negative); p != 0 || n != 1 || u != 0 {
		t.Fatalf("unexpected counts for negative: %d %d %d", p, n, u)
	}
	if p, n, u := LabelCounts(&neutral); p != 0 || n != 0 || u != 1 {
		t.Fatalf("unexpected counts for neutral: %d %d %d", p, n, u)
	}
	if p, n, u := LabelCounts(&unknown); p != 0 || n != 0 || u != 0 {
		t.Fatalf("unexpected counts for unknown label: %d %d %d", p, n, u)
	}
	if p, n, u := LabelCounts(nil); p != 0 || n != 0 || u != 0 {
		t.Fatalf("unexpected counts for nil label: %d %d %d", p, n, u)
	}
}
