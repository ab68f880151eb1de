package channels

import (
	"context"
	"sync"
)

// NoopChannel accepts every message and records it. Used in tests and as a
// sink for environments without outbound delivery.
type NoopChannel struct {
	channelType string

	mu   sync.Mutex
	sent []Message

	// FailWith makes every Send return this error when set.
	FailWith error
}

func NewNoopChannel(channelType string) *NoopChannel {
	if channelType == "" {
		channelType = "noop"
	}
	return &NoopChannel{channelType: channelType}
}

func (c *NoopChannel) Type() string { return c.channelType }

func (c *NoopChannel) Send(_ context.Context, msg Message) error {
	if c.FailWith != nil {
		return c.FailWith
	}
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	return nil
}

func (c *NoopChannel) Sent() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.sent))
	copy(out, c.sent)
	return out
}
