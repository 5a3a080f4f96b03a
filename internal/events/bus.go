// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from the execution loop and stores to
// subscribers (the WebSocket handler, a future metrics collector). The
// bus is nil-safe: calling Publish on a nil *Bus is a no-op, so
// components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Channel constants identify the outward-facing stream an event belongs to.
const (
	// ChannelAgentState carries snapshot stack updates.
	// Payload: []state.Snapshot.
	ChannelAgentState = "agent-state"
	// ChannelServerMessage carries conversation appends.
	// Payload: conversation.Message.
	ChannelServerMessage = "server-message"
	// ChannelInfo carries informational notices, including retry
	// warnings and terminal failures. Payload: none (Message only).
	ChannelInfo = "info"
	// ChannelTokens carries token-usage updates for the active run.
	// Payload: cumulative token count.
	ChannelTokens = "tokens"
)

// Severity constants classify info-channel events.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Channel identifies the stream the event belongs to.
	Channel string `json:"channel"`
	// Task is the task slug the event concerns, when applicable.
	Task string `json:"task,omitempty"`
	// Severity classifies info-channel events (info, warning, error).
	Severity string `json:"severity,omitempty"`
	// Message is a human-readable description for info-channel events.
	Message string `json:"message,omitempty"`
	// Payload holds channel-specific structured data.
	Payload any `json:"payload,omitempty"`
}

// Info builds an info-channel event with the given severity and message.
func Info(task, severity, message string) Event {
	return Event{
		Timestamp: time.Now().UTC(),
		Channel:   ChannelInfo,
		Task:      task,
		Severity:  severity,
		Message:   message,
	}
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs, so Unsubscribe
	// can accept <-chan Event (the caller's view).
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
