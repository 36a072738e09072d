package relay

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/PiranhaCodes/ptyhandoff/internal/termmode"
)

// ErrClosed is returned by Send once the relay stopped consuming.
var ErrClosed = errors.New("relay handoff closed")

// Terminal is a configured descriptor on its way to, or owned by, the relay.
type Terminal struct {
	ID      string
	FD      int
	File    *os.File
	Payload []byte
	// Mode is the terminal mode from before raw mode, restored on Close.
	Mode *termmode.State

	closeOnce sync.Once
	closeErr  error
}

// Close restores the saved mode and closes the descriptor. Only the first
// call does anything.
func (t *Terminal) Close() error {
	t.closeOnce.Do(func() {
		// A hung-up terminal refuses the restore; closing is what matters.
		_ = termmode.RestoreFile(t.File, t.Mode)
		t.closeErr = t.File.Close()
	})
	return t.closeErr
}

// Handoff moves terminals from connection handlers to the relay. A terminal
// passed to Send belongs to the handoff unless Send returns an error.
type Handoff struct {
	ch        chan *Terminal
	done      chan struct{}
	closeOnce sync.Once
}

// NewHandoff returns a handoff holding up to buffer queued terminals.
func NewHandoff(buffer int) *Handoff {
	return &Handoff{
		ch:   make(chan *Terminal, buffer),
		done: make(chan struct{}),
	}
}

// Send queues t. It blocks while the queue is full and fails with ErrClosed
// after Close, or with ctx's error when ctx ends first.
func (h *Handoff) Send(ctx context.Context, t *Terminal) error {
	select {
	case <-h.done:
		return ErrClosed
	default:
	}

	select {
	case h.ch <- t:
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	// Close may have run between the checks and the send.
	select {
	case <-h.done:
		h.drain()
	default:
	}
	return nil
}

// C delivers queued terminals in the order they were sent.
func (h *Handoff) C() <-chan *Terminal { return h.ch }

// Done is closed by Close.
func (h *Handoff) Done() <-chan struct{} { return h.done }

// Close stops accepting terminals and closes every one still queued.
func (h *Handoff) Close() {
	h.closeOnce.Do(func() { close(h.done) })
	h.drain()
}

func (h *Handoff) drain() {
	for {
		select {
		case t := <-h.ch:
			t.Close()
		default:
			return
		}
	}
}
