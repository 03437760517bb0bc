package queuex

import (
	"sync/atomic"
	"time"
)

// EventType identifies a job lifecycle transition.
type EventType string

const (
	// EventActive fires when a worker claims a job.
	EventActive EventType = "active"
	// EventCompleted fires when a handler succeeds.
	EventCompleted EventType = "completed"
	// EventRetried fires when a failed attempt is scheduled for retry.
	EventRetried EventType = "retried"
	// EventFailed fires when retries are exhausted.
	EventFailed EventType = "failed"
	// EventStalled fires when a lease is found expired.
	EventStalled EventType = "stalled"
	// EventError fires when a store transition itself fails.
	EventError EventType = "error"
)

// Event is one job lifecycle transition, published by worker pools and
// consumed by the supervisor. Events for one job are published in the order
// the transitions happen.
type Event struct {
	Type    EventType `json:"type"`
	Queue   string    `json:"queue"`
	JobID   string    `json:"job_id"`
	Attempt int       `json:"attempt,omitempty"`
	Err     string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// eventSink fans events into a bounded channel. When the consumer falls
// behind the event is dropped and counted rather than blocking a worker;
// counters derived from events are advisory, the store stays authoritative.
type eventSink struct {
	ch      chan<- Event
	dropped atomic.Int64
}

func newEventSink(ch chan<- Event) *eventSink {
	return &eventSink{ch: ch}
}

func (s *eventSink) publish(ev Event) {
	if s == nil || s.ch == nil {
		return
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded due to a slow consumer.
func (s *eventSink) Dropped() int64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}
