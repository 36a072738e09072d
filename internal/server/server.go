// Package server accepts descriptor handoffs on a Unix domain socket. Each
// connection is handled on its own goroutine: receive one descriptor, put it
// into raw mode, and queue it for the relay.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/PiranhaCodes/ptyhandoff/internal/event"
	"github.com/PiranhaCodes/ptyhandoff/internal/relay"
)

// BindError means the listening socket could not be created.
type BindError struct {
	Path string
	Err  error
}

func (e *BindError) Error() string {
	cause := e.Err
	var opErr *net.OpError
	if errors.As(cause, &opErr) && opErr.Err != nil {
		cause = opErr.Err
	}
	return fmt.Sprintf("failed to bind %s: %v", e.Path, cause)
}

func (e *BindError) Unwrap() error { return e.Err }

// Options tunes connection handling. Zero values pick the defaults.
type Options struct {
	// ReceiveTimeout bounds the wait for a peer's descriptor. Zero waits forever.
	ReceiveTimeout time.Duration
	// PayloadSize is how many bytes of regular data to read with the descriptor.
	PayloadSize int
	// MaxDescriptors sizes the control buffer.
	MaxDescriptors int
	// SocketMode, when non-zero, is applied to the socket file after bind.
	SocketMode os.FileMode
	Observer   event.Observer
}

// Server handles UNIX socket connections and hands received terminals to a relay.
type Server struct {
	socketPath string
	opts       Options
	handoff    *relay.Handoff
	listener   *net.UnixListener
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	connMu sync.Mutex
	conns  map[*net.UnixConn]struct{}
}

// NewServer creates a new server instance.
func NewServer(socketPath string, handoff *relay.Handoff, opts Options) *Server {
	if opts.PayloadSize < 1 {
		opts.PayloadSize = 1
	}
	if opts.Observer == nil {
		opts.Observer = event.Nop
	}
	return &Server{
		socketPath: socketPath,
		opts:       opts,
		handoff:    handoff,
		stopChan:   make(chan struct{}),
		conns:      make(map[*net.UnixConn]struct{}),
	}
}

// Path returns the socket path.
func (s *Server) Path() string { return s.socketPath }

// Listen binds the socket. An existing file at the path is an error; it is
// never removed.
func (s *Server) Listen() error {
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: s.socketPath, Net: "unix"})
	if err != nil {
		return &BindError{Path: s.socketPath, Err: err}
	}

	if s.opts.SocketMode != 0 {
		if err := os.Chmod(s.socketPath, s.opts.SocketMode); err != nil {
			listener.Close()
			return &BindError{Path: s.socketPath, Err: fmt.Errorf("chmod: %w", err)}
		}
	}

	s.listener = listener
	s.opts.Observer.Observe(event.Event{Kind: event.Listening, FD: -1, Detail: s.socketPath})
	return nil
}

// Serve accepts connections until ctx ends or Stop is called, listening
// first if Listen was not called. It returns nil on a requested stop.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	// Handlers blocked on a full handoff give up once the server stops.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.stopChan:
			cancel()
		}
	}()

	var backoff time.Duration
	for {
		conn, err := s.listener.AcceptUnix()
		if err != nil {
			select {
			case <-s.stopChan:
				s.wg.Wait()
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}

			s.opts.Observer.Observe(event.Event{
				Kind:  event.ConnectionFailed,
				FD:    -1,
				Phase: event.PhaseAccept,
				Err:   err,
			})
			backoff = nextBackoff(backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if !s.track(conn) {
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

// Stop closes the listener, which removes the socket file, and drops every
// connection still waiting for its descriptor.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.listener != nil {
			s.listener.Close()
		}

		s.connMu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.connMu.Unlock()
	})
}

func (s *Server) track(conn *net.UnixConn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	select {
	case <-s.stopChan:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn *net.UnixConn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.conns, conn)
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}
