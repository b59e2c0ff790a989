package services

import (
	"sync"

	"gif-compressor/database"
)

// JobStatusPayload is published on every job transition and progress tick.
type JobStatusPayload struct {
	Status           string  `json:"status"`
	Progress         int     `json:"progress"`
	CompressedSize   int64   `json:"compressed_size,omitempty"`
	CompressedWidth  int     `json:"compressed_width,omitempty"`
	CompressedHeight int     `json:"compressed_height,omitempty"`
	ReductionPercent float64 `json:"reduction_percent,omitempty"`
	ErrorMessage     string  `json:"error_message,omitempty"`
}

// QueueStatusPayload reports the worker pool shape. Active counts jobs
// currently executing; Pending counts jobs admitted but not yet started.
type QueueStatusPayload struct {
	Concurrency int `json:"concurrency"`
	Active      int `json:"active"`
	Pending     int `json:"pending"`
}

// Event is a single bus publish. JobID is empty for queue-status events.
type Event struct {
	JobID string
	Job   *JobStatusPayload
	Queue *QueueStatusPayload
}

// Terminal reports whether this event closes a job's lifecycle. Terminal
// events must reach every subscriber that stays connected.
func (e Event) Terminal() bool {
	if e.Job == nil {
		return false
	}
	return e.Job.Status == database.StatusCompleted || e.Job.Status == database.StatusFailed
}

const subscriberBuffer = 256

// Subscriber receives events on a buffered channel. A subscriber that falls
// too far behind is closed rather than allowed to stall publishers.
type Subscriber struct {
	ch     chan Event
	closed bool
}

// Events is the receive side. The channel is closed when the subscriber is
// dropped; consumers reconcile through the REST list after that.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// EventBus is the in-process fan-out between workers and WebSocket handlers.
// Publish never blocks job progress: a slow subscriber loses intermediate
// ticks first and its connection second, never the publisher's time.
type EventBus struct {
	mu          sync.Mutex
	subscribers map[*Subscriber]bool
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[*Subscriber]bool)}
}

// Subscribe registers a new subscriber. It receives every event published
// after this call; there is no replay buffer.
func (b *EventBus) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan Event, subscriberBuffer)}
	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()
	return sub
}

// Unsubscribe drops a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drop(sub)
}

func (b *EventBus) drop(sub *Subscriber) {
	if !b.subscribers[sub] {
		return
	}
	delete(b.subscribers, sub)
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// PublishJobStatus fans a job event out to all subscribers.
func (b *EventBus) PublishJobStatus(jobID string, payload JobStatusPayload) {
	b.publish(Event{JobID: jobID, Job: &payload})
}

// PublishQueueStatus fans a queue event out to all subscribers.
func (b *EventBus) PublishQueueStatus(payload QueueStatusPayload) {
	b.publish(Event{Queue: &payload})
}

func (b *EventBus) publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		b.deliver(sub, event)
	}
}

// deliver enqueues without ever blocking. On overflow the oldest queued event
// is discarded to make room; if that event was terminal the subscriber is
// closed instead, because terminal events may not be silently lost.
func (b *EventBus) deliver(sub *Subscriber, event Event) {
	select {
	case sub.ch <- event:
		return
	default:
	}

	select {
	case oldest := <-sub.ch:
		if oldest.Terminal() {
			b.drop(sub)
			return
		}
	default:
	}

	select {
	case sub.ch <- event:
	default:
		b.drop(sub)
	}
}
