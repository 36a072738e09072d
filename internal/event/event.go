// Package event carries lifecycle events for connections and descriptors
// from the dispatcher and relay to whatever wants to watch them.
package event

import (
	"sync"

	"github.com/charmbracelet/log"
)

// Kind names a lifecycle step.
type Kind string

const (
	Listening          Kind = "listening"
	ConnectionAccepted Kind = "connection_accepted"
	ConnectionClosed   Kind = "connection_closed"
	ConnectionFailed   Kind = "connection_failed"
	DescriptorReceived Kind = "descriptor_received"
	DescriptorDropped  Kind = "descriptor_dropped"
	TerminalConfigured Kind = "terminal_configured"
	TerminalQueued     Kind = "terminal_queued"
	RelayStarted       Kind = "relay_started"
	RelayEnded         Kind = "relay_ended"
)

// Phase identifies which stage of handling a failure came from.
type Phase string

const (
	PhaseBind      Phase = "bind"
	PhaseAccept    Phase = "accept"
	PhaseReceive   Phase = "receive"
	PhaseConfigure Phase = "configure"
	PhaseHandoff   Phase = "handoff"
	PhaseRelay     Phase = "relay"
	PhaseAllocate  Phase = "allocate"
)

// Event is one observable step. FD is -1 when no descriptor is involved.
type Event struct {
	Kind   Kind
	ConnID string
	FD     int
	Phase  Phase
	Count  int
	Detail string
	Err    error
}

// Observer receives events. Implementations must be safe for concurrent use.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) { f(e) }

// Nop discards everything.
var Nop Observer = ObserverFunc(func(Event) {})

// Multi fans an event out to several observers in order.
func Multi(observers ...Observer) Observer {
	return ObserverFunc(func(e Event) {
		for _, o := range observers {
			if o != nil {
				o.Observe(e)
			}
		}
	})
}

// LogObserver writes events to a structured logger. Failures are logged at
// error level, discarded descriptors at warn, everything else at info.
type LogObserver struct {
	Logger *log.Logger
}

// NewLogObserver returns an observer that logs through logger.
func NewLogObserver(logger *log.Logger) *LogObserver {
	return &LogObserver{Logger: logger}
}

// Observe logs e.
func (o *LogObserver) Observe(e Event) {
	kv := []interface{}{}
	if e.ConnID != "" {
		kv = append(kv, "conn", e.ConnID)
	}
	if e.FD >= 0 {
		kv = append(kv, "fd", e.FD)
	}
	if e.Phase != "" {
		kv = append(kv, "phase", e.Phase)
	}
	if e.Count != 0 {
		kv = append(kv, "count", e.Count)
	}
	if e.Detail != "" {
		kv = append(kv, "detail", e.Detail)
	}
	if e.Err != nil {
		kv = append(kv, "err", e.Err)
	}

	switch {
	case e.Err != nil || e.Kind == ConnectionFailed:
		o.Logger.Error(string(e.Kind), kv...)
	case e.Kind == DescriptorDropped:
		o.Logger.Warn(string(e.Kind), kv...)
	default:
		o.Logger.Info(string(e.Kind), kv...)
	}
}

// Recorder keeps every event it sees. Used by tests to assert on lifecycle.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Observe appends e.
func (r *Recorder) Observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of what was recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of kind k were recorded.
func (r *Recorder) Count(k Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == k {
			n++
		}
	}
	return n
}

// Find returns the first recorded event of kind k.
func (r *Recorder) Find(k Kind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind == k {
			return e, true
		}
	}
	return Event{}, false
}
