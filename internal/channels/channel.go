package channels

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Message is one notification handed to a delivery channel. Recipient is
// channel-specific: a webhook URL, an email address.
type Message struct {
	Recipient string
	Subject   string
	Body      string
}

type Channel interface {
	Type() string
	Send(ctx context.Context, msg Message) error
}

// PermanentError marks a delivery failure that retrying cannot fix, such as a
// rejected recipient. The dispatcher fails the entry immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent delivery failure: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// Registry holds the configured channels keyed by channel type.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]Channel),
	}
}

func (r *Registry) Register(channel Channel) {
	if r == nil || channel == nil {
		return
	}
	r.mu.Lock()
	r.channels[strings.ToLower(strings.TrimSpace(channel.Type()))] = channel
	r.mu.Unlock()
}

func (r *Registry) Get(channelType string) (Channel, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	channel, ok := r.channels[strings.ToLower(strings.TrimSpace(channelType))]
	r.mu.RUnlock()
	return channel, ok
}

func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	types := make([]string, 0, len(r.channels))
	for channelType := range r.channels {
		types = append(types, channelType)
	}
	r.mu.RUnlock()
	sort.Strings(types)
	return types
}
