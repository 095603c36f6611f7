// Package tabsync propagates logout between app instances ("tabs") of the
// same origin. Delivery is best-effort: a tab that misses an event corrects
// itself on its next session probe.
package tabsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownEvent is returned for messages that are not a known event.
	ErrUnknownEvent = errors.New("tabsync: unknown event")
	// ErrClosed is returned by a closed Channel.
	ErrClosed = errors.New("tabsync: channel closed")
)

// EventType is the kind of auth event.
type EventType string

const (
	EventLogout    EventType = "LOGOUT"
	EventLogoutAll EventType = "LOGOUT_ALL"
)

// Event is the message sent between tabs.
type Event struct {
	Type EventType `json:"type"`
	// Timestamp is unix milliseconds at the sender.
	Timestamp int64 `json:"timestamp"`
	// Source identifies the sending tab.
	Source string `json:"source,omitempty"`
}

// Validate reports ErrUnknownEvent for anything but LOGOUT and LOGOUT_ALL.
func (e Event) Validate() error {
	switch e.Type {
	case EventLogout, EventLogoutAll:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
}

// ParseEvent decodes and validates a wire message.
func ParseEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrUnknownEvent, err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Stream delivers received events. It is closed when the subscription ends.
type Stream <-chan Event

// Channel is a same-origin broadcast medium.
type Channel interface {
	// Publish sends e to every subscriber, the sender's own included.
	Publish(ctx context.Context, e Event) error
	// Subscribe returns a stream that ends when ctx is done or the
	// channel is closed.
	Subscribe(ctx context.Context) (Stream, error)
	Close() error
}
