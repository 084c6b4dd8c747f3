// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (conversation engine,
// WhatsApp bridge, reminder sweeps, job scheduler) to subscribers (the
// MQTT forwarder, tests). The bus is nil-safe: calling Publish on a nil
// *Bus is a no-op, so components do not need guard checks.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceConversation identifies events from the conversation engine.
	SourceConversation = "conversation"
	// SourceWhatsApp identifies events from the WhatsApp bridge.
	SourceWhatsApp = "whatsapp"
	// SourceReminders identifies events from the reminder sweeps.
	SourceReminders = "reminders"
	// SourceScheduler identifies events from the job scheduler.
	SourceScheduler = "scheduler"
	// SourceConnWatch identifies dependency health transitions.
	SourceConnWatch = "connwatch"
)

// Kind constants describe the type of event within a source.
const (
	// KindTurnStart signals the beginning of a conversation turn.
	// Data: conversation_id, status.
	KindTurnStart = "turn_start"
	// KindLLMCall signals the start of an LLM API call.
	// Data: conversation_id, round, model, tools.
	KindLLMCall = "llm_call"
	// KindToolCall signals the start of a tool execution.
	// Data: conversation_id, tool.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: conversation_id, tool, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindTurnComplete signals the end of a conversation turn.
	// Data: conversation_id, final, status, tool_rounds, elapsed_ms.
	KindTurnComplete = "turn_complete"

	// KindMessageReceived signals an accepted inbound WhatsApp message.
	// Data: sender, conversation_id, message_len.
	KindMessageReceived = "message_received"
	// KindMessageSent signals a delivered outbound WhatsApp message.
	// Data: recipient, message_len.
	KindMessageSent = "message_sent"

	// KindReminderSent signals an appointment notification was sent.
	// Data: appointment_id, kind.
	KindReminderSent = "reminder_sent"
	// KindSweepComplete signals the end of a reminder sweep.
	// Data: sweep, scanned, sent, skipped, failed.
	KindSweepComplete = "sweep_complete"

	// KindJobFired signals a scheduled job has begun executing.
	// Data: run_id, job.
	KindJobFired = "job_fired"
	// KindJobComplete signals a scheduled job has finished executing.
	// Data: run_id, job, ok, duration_ms.
	KindJobComplete = "job_complete"

	// KindServiceReady signals a watched dependency became reachable.
	// Data: service.
	KindServiceReady = "service_ready"
	// KindServiceDown signals a watched dependency became unreachable.
	// Data: service, error.
	KindServiceDown = "service_down"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus fans events out to subscribers over buffered channels. A full
// subscriber misses the event; Publish never blocks. The nil *Bus is a
// valid no-op bus.
type Bus struct {
	mu      sync.RWMutex
	subs    map[<-chan Event]chan Event
	dropped atomic.Uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]chan Event)}
}

// Publish delivers e to every subscriber with room in its buffer.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber with a buffer of size events. The
// channel stays open until Unsubscribe.
func (b *Bus) Subscribe(size int) <-chan Event {
	ch := make(chan Event, size)
	b.mu.Lock()
	b.subs[ch] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the subscription and closes its channel.
// Unknown or already removed channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if send, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(send)
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a
// subscriber's buffer was full.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}
