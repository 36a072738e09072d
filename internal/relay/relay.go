// Package relay streams line-oriented output from handed-off terminals to
// a sink. Handlers queue terminals on a Handoff; the Relay takes ownership
// of each one and reads it until end of stream.
package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/PiranhaCodes/ptyhandoff/internal/event"
)

// ErrDuplicateID means a terminal arrived with the ID of one still streaming.
var ErrDuplicateID = errors.New("terminal id already active")

// Relay consumes a Handoff.
type Relay struct {
	handoff    *Handoff
	sink       Sink
	observer   event.Observer
	manager    *Manager
	sequential bool
	wg         sync.WaitGroup
}

// Option configures a Relay.
type Option func(*Relay)

// WithObserver sets where lifecycle events go.
func WithObserver(o event.Observer) Option {
	return func(r *Relay) { r.observer = o }
}

// Sequential makes the relay stream one terminal at a time; later
// terminals wait on the handoff until the current one ends.
func Sequential() Option {
	return func(r *Relay) { r.sequential = true }
}

// New returns a relay reading from h and writing to sink.
func New(h *Handoff, sink Sink, opts ...Option) *Relay {
	r := &Relay{
		handoff:  h,
		sink:     sink,
		observer: event.Nop,
		manager:  NewManager(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Manager exposes the terminals currently being streamed.
func (r *Relay) Manager() *Manager { return r.manager }

// Run consumes terminals until ctx ends. On return the handoff is closed and
// every active terminal has been closed; streams blocked in a read finish
// once that read returns.
func (r *Relay) Run(ctx context.Context) error {
	defer r.shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-r.handoff.C():
			if !r.manager.Add(t) {
				r.observer.Observe(event.Event{
					Kind:   event.ConnectionFailed,
					ConnID: t.ID,
					FD:     t.FD,
					Phase:  event.PhaseRelay,
					Err:    ErrDuplicateID,
				})
				r.release(t)
				continue
			}
			r.wg.Add(1)
			if !r.sequential {
				go r.stream(t)
				continue
			}
			done := make(chan struct{})
			go func() {
				defer close(done)
				r.stream(t)
			}()
			select {
			case <-done:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Wait blocks until every stream started by Run has finished.
func (r *Relay) Wait() {
	r.wg.Wait()
}

// stream reads an already registered terminal until end of stream.
func (r *Relay) stream(t *Terminal) {
	defer r.wg.Done()

	r.observer.Observe(event.Event{Kind: event.RelayStarted, ConnID: t.ID, FD: t.FD})
	lines, err := readLines(t.File, func(line string) error {
		return r.sink.WriteLine(t.ID, line)
	})
	r.finish(t, lines, err)
}

// shutdown stops the handoff and closes every terminal still streaming. A
// stream whose terminal was drained here finds it gone when it finishes.
func (r *Relay) shutdown() {
	r.handoff.Close()
	for _, t := range r.manager.Drain() {
		r.release(t)
	}
}
