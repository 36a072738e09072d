package relay

import (
	"github.com/PiranhaCodes/ptyhandoff/internal/event"
)

// finish ends a stream: deregister, report how the stream ended, then close.
// A terminal already drained by shutdown has been closed there.
func (r *Relay) finish(t *Terminal, lines int, err error) {
	owned := r.manager.Remove(t.ID) != nil

	ended := event.Event{Kind: event.RelayEnded, ConnID: t.ID, FD: t.FD, Count: lines}
	if err != nil {
		ended.Phase = event.PhaseRelay
		ended.Err = err
	}
	r.observer.Observe(ended)

	if owned {
		r.release(t)
	}
}

// release closes a terminal that is no longer registered, restoring its mode.
func (r *Relay) release(t *Terminal) {
	closed := event.Event{Kind: event.ConnectionClosed, ConnID: t.ID, FD: t.FD}
	if err := t.Close(); err != nil {
		closed.Phase = event.PhaseRelay
		closed.Err = err
	}
	r.observer.Observe(closed)
}
