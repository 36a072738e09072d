package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/PiranhaCodes/ptyhandoff/internal/event"
	"github.com/PiranhaCodes/ptyhandoff/internal/fdpass"
	"github.com/PiranhaCodes/ptyhandoff/internal/relay"
	"github.com/PiranhaCodes/ptyhandoff/internal/termmode"
)

func (s *Server) handleConn(ctx context.Context, conn *net.UnixConn) {
	defer s.wg.Done()
	defer func() {
		s.untrack(conn)
		conn.Close()
	}()

	id := uuid.NewString()
	s.opts.Observer.Observe(event.Event{Kind: event.ConnectionAccepted, ConnID: id, FD: -1})

	fd, phase, err := s.handoffFrom(ctx, id, conn)
	if err != nil {
		s.opts.Observer.Observe(event.Event{
			Kind:   event.ConnectionFailed,
			ConnID: id,
			FD:     fd,
			Phase:  phase,
			Err:    err,
		})
	}
}

// handoffFrom runs receive, configure and handoff for one connection. On
// error the received descriptor, if any, has already been closed.
func (s *Server) handoffFrom(ctx context.Context, id string, conn *net.UnixConn) (int, event.Phase, error) {
	if s.opts.ReceiveTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(s.opts.ReceiveTimeout)); err != nil {
			return -1, event.PhaseReceive, fmt.Errorf("set receive deadline: %w", err)
		}
	}

	got, err := fdpass.Receive(conn, make([]byte, s.opts.PayloadSize), s.opts.MaxDescriptors)
	if err != nil {
		return -1, event.PhaseReceive, err
	}
	fd := fdpass.RawFD(got.File)
	s.opts.Observer.Observe(event.Event{
		Kind:   event.DescriptorReceived,
		ConnID: id,
		FD:     fd,
		Count:  len(got.Payload),
		Detail: fmt.Sprintf("payload %q", got.Payload),
	})
	if got.Discarded > 0 || got.Truncated {
		detail := "extra descriptors closed"
		if got.Truncated {
			detail = "control data truncated, extra descriptors closed"
		}
		s.opts.Observer.Observe(event.Event{
			Kind:   event.DescriptorDropped,
			ConnID: id,
			FD:     fd,
			Count:  got.Discarded,
			Detail: detail,
		})
	}

	mode, err := termmode.MakeRawFile(got.File)
	if err != nil {
		got.File.Close()
		return fd, event.PhaseConfigure, err
	}
	s.opts.Observer.Observe(event.Event{Kind: event.TerminalConfigured, ConnID: id, FD: fd})

	term := &relay.Terminal{
		ID:      id,
		FD:      fd,
		File:    got.File,
		Payload: got.Payload,
		Mode:    mode,
	}
	if err := s.handoff.Send(ctx, term); err != nil {
		term.Close()
		return fd, event.PhaseHandoff, err
	}
	s.opts.Observer.Observe(event.Event{Kind: event.TerminalQueued, ConnID: id, FD: fd})
	return fd, "", nil
}
