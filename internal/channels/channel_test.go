package channels

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestPermanentClassification(t *testing.T) {
	t.Parallel()

	base := fmt.Errorf("recipient rejected")
	permanent := Permanent(base)
	if !IsPermanent(permanent) {
		t.Fatalf("expected permanent error to classify as permanent")
	}
	if !errors.Is(permanent, base) {
		t.Fatalf("expected permanent error to unwrap to the cause")
	}

	wrapped := fmt.Errorf("deliver notification: %w", permanent)
	if !IsPermanent(wrapped) {
		t.Fatalf("expected wrapped permanent error to classify as permanent")
	}

	if IsPermanent(fmt.Errorf("connection refused")) {
		t.Fatalf("did not expect plain error to classify as permanent")
	}
	if Permanent(nil) != nil {
		t.Fatalf("expected nil for nil cause")
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Register(NewNoopChannel("webhook"))
	registry.Register(NewNoopChannel("email"))

	if _, ok := registry.Get("WEBHOOK"); !ok {
		t.Fatalf("expected lookup to be case-insensitive")
	}
	if _, ok := registry.Get(" email "); !ok {
		t.Fatalf("expected lookup to trim whitespace")
	}
	if _, ok := registry.Get("sms"); ok {
		t.Fatalf("did not expect unregistered channel type")
	}

	types := registry.Types()
	if len(types) != 2 || types[0] != "email" || types[1] != "webhook" {
		t.Fatalf("unexpected types: %v", types)
	}
}

func TestNoopChannelRecordsMessages(t *testing.T) {
	t.Parallel()

	channel := NewNoopChannel("")
	if channel.Type() != "noop" {
		t.Fatalf("unexpected default type: %q", channel.Type())
	}

	msg := Message{Recipient: "someone", Subject: "s", Body: "b"}
	if err := channel.Send(context.Background(), msg); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	sent := channel.Sent()
	if len(sent) != 1 || sent[0] != msg {
		t.Fatalf("unexpected sent messages: %v", sent)
	}
}

func TestNoopChannelFailureInjection(t *testing.T) {
	t.Parallel()

	channel := NewNoopChannel("noop")
	channel.FailWith = fmt.Errorf("boom")

	if err := channel.Send(context.Background(), Message{}); err == nil {
		t.Fatalf("expected injected failure")
	}
	if len(channel.Sent()) != 0 {
		t.Fatalf("did not expect failed message to be recorded")
	}
}

func TestWebhookRejectsInvalidRecipient(t *testing.T) {
	t.Parallel()

	channel := NewWebhookChannel(time.Second)
	err := channel.Send(context.Background(), Message{Recipient: "not a url"})
	if err == nil {
		t.Fatalf("expected error for invalid recipient")
	}
	if !IsPermanent(err) {
		t.Fatalf("expected invalid recipient to be a permanent failure, got %v", err)
	}
}

func TestEmailRejectsInvalidRecipient(t *testing.T) {
	t.Parallel()

	channel := NewEmailChannel("smtp.example.com", 587, "user", "pass", "alerts@example.com")
	err := channel.Send(context.Background(), Message{Recipient: "no-at-sign"})
	if err == nil {
		t.Fatalf("expected error for invalid recipient")
	}
	if !IsPermanent(err) {
		t.Fatalf("expected invalid recipient to be a permanent failure, got %v", err)
	}
}
