package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextBackoffDoubles(t *testing.T) {
	t.Parallel()

	base := 30 * time.Second
	if got := NextBackoff(base, 1); got != 30*time.Second {
		t.Fatalf("unexpected backoff for attempt 1: %s", got)
	}
	if got := NextBackoff(base, 2); got != time.Minute {
		t.Fatalf("unexpected backoff for attempt 2: %s", got)
	}
	if got := NextBackoff(base, 3); got != 2*time.Minute {
		t.Fatalf("unexpected backoff for attempt 3: %s", got)
	}
	if got := NextBackoff(base, 5); got != 8*time.Minute {
		t.Fatalf("unexpected backoff for attempt 5: %s", got)
	}
}

func TestNewServiceOptionDefaults(t *testing.T) {
	t.Parallel()

	svc := NewService(nil, nil, zerolog.Nop(), Options{})
	if svc.opts.BaseBackoff != 30*time.Second {
		t.Fatalf("unexpected base backoff default: %s", svc.opts.BaseBackoff)
	}
	if svc.opts.DeliveryTimeout != 30*time.Second {
		t.Fatalf("unexpected delivery timeout default: %s", svc.opts.DeliveryTimeout)
	}
	if svc.opts.StuckAge != 10*time.Minute {
		t.Fatalf("unexpected stuck age default: %s", svc.opts.StuckAge)
	}

	custom := NewService(nil, nil, zerolog.Nop(), Options{StuckAge: time.Minute})
	if custom.opts.StuckAge != time.Minute {
		t.Fatalf("expected explicit stuck age kept: %s", custom.opts.StuckAge)
	}
}

func TestStatusWriteContextSurvivesCanceledSweep(t *testing.T) {
	t.Parallel()

	parent, cancel := context.WithCancel(context.Background())
	cancel()

	writeCtx, writeCancel := statusWriteContext(parent)
	defer writeCancel()
	if err := writeCtx.Err(); err != nil {
		t.Fatalf("expected status write context to outlive the sweep deadline, got %v", err)
	}
	if _, ok := writeCtx.Deadline(); !ok {
		t.Fatalf("expected status write context to carry its own deadline")
	}
}

func TestNextBackoffClampsAttempts(t *testing.T) {
	t.Parallel()

	base := 30 * time.Second
	if got := NextBackoff(base, 0); got != base {
		t.Fatalf("unexpected backoff for attempt 0: %s", got)
	}
	if got := NextBackoff(base, -3); got != base {
		t.Fatalf("unexpected backoff for negative attempts: %s", got)
	}
}
