// Package events provides the structured event stream emitted by the
// migration and removal engines, plus observers that collect, log or
// persist it.
package events

import (
	"sync"
	"time"
)

// Level is the severity of an event
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Event is one entry in a run log
type Event struct {
	Time    time.Time      `json:"timestamp"`
	Level   Level          `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Observer receives events. Implementations must not block for long;
// emitters call them synchronously.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

// Observe calls f
func (f ObserverFunc) Observe(e Event) {
	f(e)
}

// Nop discards every event
var Nop Observer = ObserverFunc(func(Event) {})

// Multi fans events out to several observers in order
func Multi(observers ...Observer) Observer {
	list := make([]Observer, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return ObserverFunc(func(e Event) {
		for _, o := range list {
			o.Observe(e)
		}
	})
}

// Recorder keeps an append-only copy of every event it observes
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Observe appends e
func (r *Recorder) Observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events in order
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Len returns the number of recorded events
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Emitter stamps and forwards events to an observer
type Emitter struct {
	observer Observer
	now      func() time.Time
}

// NewEmitter wraps observer; a nil observer discards events
func NewEmitter(observer Observer) *Emitter {
	if observer == nil {
		observer = Nop
	}
	return &Emitter{observer: observer, now: time.Now}
}

// WithClock overrides the timestamp source
func (e *Emitter) WithClock(now func() time.Time) *Emitter {
	e.now = now
	return e
}

// Emit sends an event at the given level. Fields are key/value pairs.
func (e *Emitter) Emit(level Level, message string, kv ...any) {
	e.observer.Observe(Event{
		Time:    e.now().UTC(),
		Level:   level,
		Message: message,
		Fields:  fields(kv),
	})
}

// Info emits an info event
func (e *Emitter) Info(message string, kv ...any) {
	e.Emit(LevelInfo, message, kv...)
}

// Warn emits a warning event
func (e *Emitter) Warn(message string, kv ...any) {
	e.Emit(LevelWarning, message, kv...)
}

// Success emits a success event
func (e *Emitter) Success(message string, kv ...any) {
	e.Emit(LevelSuccess, message, kv...)
}

// Error emits an error event
func (e *Emitter) Error(message string, kv ...any) {
	e.Emit(LevelError, message, kv...)
}

func fields(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	out := make(map[string]any, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if i+1 < len(kv) {
			out[key] = kv[i+1]
		} else {
			out[key] = nil
		}
	}
	return out
}
