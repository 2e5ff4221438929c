// Package observe carries structured run events from the engine to whoever
// is interested: a logger, the console, or a test.
package observe

import (
	"sync"
	"time"
)

// EventType identifies a run event.
type EventType string

const (
	EventStateChanged   EventType = "state_changed"
	EventSetupStarted   EventType = "setup_started"
	EventSetupCompleted EventType = "setup_completed"
	EventSetupFailed    EventType = "setup_failed"
	EventStageStarted   EventType = "stage_started"
	EventTargetChanged  EventType = "target_changed"
	EventVUsCapped      EventType = "vus_capped"
	EventThresholdFail  EventType = "threshold_failed"
	EventAbort          EventType = "abort"
	EventGracefulStop   EventType = "graceful_stop_expired"
	EventTeardownStart  EventType = "teardown_started"
	EventTeardownDone   EventType = "teardown_completed"
	EventTeardownFailed EventType = "teardown_failed"
	EventIterationPanic EventType = "iteration_panic"
	EventSinkFailed     EventType = "sink_failed"
	EventRunCompleted   EventType = "run_completed"
)

// Event is a single structured occurrence during a run.
type Event struct {
	Type    EventType
	Time    time.Time
	Message string
	Fields  map[string]any
	Err     error
}

// NewEvent returns an event of type t stamped with the current time.
func NewEvent(t EventType, msg string) Event {
	return Event{Type: t, Time: time.Now(), Message: msg}
}

// With returns a copy of e with the field set.
func (e Event) With(key string, value any) Event {
	fields := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[key] = value
	e.Fields = fields
	return e
}

// WithErr returns a copy of e carrying err.
func (e Event) WithErr(err error) Event {
	e.Err = err
	return e
}

// Observer receives run events. Implementations must be safe for
// concurrent use; events are delivered synchronously from the goroutine
// that produced them.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) { f(e) }

// Nop discards every event.
var Nop Observer = ObserverFunc(func(Event) {})

// Multi fans events out to several observers. Nil observers are skipped.
func Multi(observers ...Observer) Observer {
	out := make([]Observer, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	switch len(out) {
	case 0:
		return Nop
	case 1:
		return out[0]
	}
	return multi(out)
}

type multi []Observer

func (m multi) Observe(e Event) {
	for _, o := range m {
		o.Observe(e)
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Observe appends e.
func (r *Recorder) Observe(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
