package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PiranhaCodes/ptyhandoff/internal/event"
	"github.com/PiranhaCodes/ptyhandoff/internal/pty"
	"github.com/PiranhaCodes/ptyhandoff/internal/testutil"
)

const wait = 5 * time.Second

type line struct {
	id   string
	text string
}

func chanSink() (Sink, <-chan line) {
	ch := make(chan line, 64)
	return SinkFunc(func(id, text string) error {
		ch <- line{id: id, text: text}
		return nil
	}), ch
}

func pipeTerminal(t *testing.T) (*Terminal, *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return &Terminal{ID: uuid.NewString(), FD: -1, File: r}, w
}

func startRelay(t *testing.T, r *Relay) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, done, wait, "waiting for relay to stop")
	})
	return cancel
}

func collect(t *testing.T, src io.Reader) []string {
	t.Helper()
	var got []string
	_, err := readLines(src, func(s string) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err)
	return got
}

func TestReadLinesStripsTerminators(t *testing.T) {
	got := collect(t, strings.NewReader("alpha\nbeta\r\n\ngamma"))
	assert.Equal(t, []string{"alpha", "beta", "", "gamma"}, got)
}

type emptyReader struct{ calls int }

func (e *emptyReader) Read(p []byte) (int, error) {
	e.calls++
	return 0, nil
}

func TestReadLinesStopsOnZeroByteRead(t *testing.T) {
	src := &emptyReader{}
	got := collect(t, src)
	assert.Empty(t, got)
	assert.Equal(t, 1, src.calls)
}

func TestReadLinesSplitsOverlongLines(t *testing.T) {
	long := strings.Repeat("x", MaxLineLength+10)
	got := collect(t, strings.NewReader(long+"\n"))
	require.Len(t, got, 2)
	assert.Len(t, got[0], MaxLineLength)
	assert.Equal(t, strings.Repeat("x", 10), got[1])
}

func TestReadLinesReturnsReadErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := readLines(iotest.ErrReader(boom), func(string) error { return nil })
	assert.ErrorIs(t, err, boom)
}

func TestReadLinesReturnsSinkErrors(t *testing.T) {
	full := errors.New("sink full")
	n, err := readLines(strings.NewReader("a\nb\n"), func(string) error { return full })
	assert.ErrorIs(t, err, full)
	assert.Zero(t, n)
}

func TestRelayHelloFromPTY(t *testing.T) {
	p, err := pty.Open()
	if err != nil {
		t.Skipf("pty allocation unavailable: %v", err)
	}
	defer p.Close()

	rec := &event.Recorder{}
	sink, lines := chanSink()
	h := NewHandoff(1)
	r := New(h, sink, WithObserver(rec))
	startRelay(t, r)

	term := &Terminal{ID: "conn-1", FD: -1, File: p.TakeSlave()}
	require.NoError(t, h.Send(context.Background(), term))

	_, err = p.Master.Write([]byte("hello\n"))
	require.NoError(t, err)

	got := testutil.RequireReceive(t, lines, wait, "waiting for hello")
	assert.Equal(t, line{id: "conn-1", text: "hello"}, got)

	require.NoError(t, p.CloseMaster())
	testutil.Eventually(t, wait, "relay to end", func() bool {
		return rec.Count(event.RelayEnded) == 1
	})

	ended, _ := rec.Find(event.RelayEnded)
	assert.NoError(t, ended.Err)
	assert.Equal(t, 1, ended.Count)
	assert.Zero(t, r.Manager().Count())
	select {
	case extra := <-lines:
		t.Fatalf("unexpected extra line %q", extra.text)
	default:
	}
}

func TestRelayStreamsTerminalsConcurrently(t *testing.T) {
	sink, lines := chanSink()
	h := NewHandoff(4)
	r := New(h, sink)
	startRelay(t, r)

	var writers []*os.File
	var ids []string
	for i := 0; i < 3; i++ {
		term, w := pipeTerminal(t)
		writers = append(writers, w)
		ids = append(ids, term.ID)
		require.NoError(t, h.Send(context.Background(), term))
	}

	// The last terminal writes first; with one stream per terminal nobody
	// waits for the others to finish.
	for i := len(writers) - 1; i >= 0; i-- {
		_, err := writers[i].Write([]byte("line\n"))
		require.NoError(t, err)
		got := testutil.RequireReceive(t, lines, wait, "waiting for concurrent line")
		assert.Equal(t, ids[i], got.id)
	}

	for _, w := range writers {
		w.Close()
	}
	testutil.Eventually(t, wait, "all streams to end", func() bool {
		return r.Manager().Count() == 0
	})
}

func TestRelaySequentialPreservesHandoffOrder(t *testing.T) {
	sink, lines := chanSink()
	h := NewHandoff(2)
	r := New(h, sink, Sequential())

	first, w1 := pipeTerminal(t)
	second, w2 := pipeTerminal(t)
	require.NoError(t, h.Send(context.Background(), first))
	require.NoError(t, h.Send(context.Background(), second))

	_, err := w2.Write([]byte("from second\n"))
	require.NoError(t, err)
	_, err = w1.Write([]byte("from first\n"))
	require.NoError(t, err)
	w1.Close()
	w2.Close()

	startRelay(t, r)

	a := testutil.RequireReceive(t, lines, wait, "first line")
	b := testutil.RequireReceive(t, lines, wait, "second line")
	assert.Equal(t, line{id: first.ID, text: "from first"}, a)
	assert.Equal(t, line{id: second.ID, text: "from second"}, b)
}

func TestRunShutdownClosesActiveTerminals(t *testing.T) {
	sink, _ := chanSink()
	h := NewHandoff(1)
	r := New(h, sink)
	cancel := startRelay(t, r)

	term, _ := pipeTerminal(t)
	require.NoError(t, h.Send(context.Background(), term))
	testutil.Eventually(t, wait, "terminal to become active", func() bool {
		return r.Manager().Count() == 1
	})

	cancel()
	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()
	testutil.RequireClosed(t, done, wait, "waiting for streams after shutdown")

	assert.ErrorIs(t, term.File.Close(), os.ErrClosed)
	assert.ErrorIs(t, h.Send(context.Background(), &Terminal{ID: "late"}), ErrClosed)
}

func TestHandoffPreservesFIFO(t *testing.T) {
	h := NewHandoff(3)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, h.Send(context.Background(), &Terminal{ID: id}))
	}
	for _, id := range []string{"a", "b", "c"} {
		got := testutil.RequireReceive(t, h.C(), wait, "reading handoff")
		assert.Equal(t, id, got.ID)
	}
}

func TestHandoffCloseReleasesQueuedTerminals(t *testing.T) {
	h := NewHandoff(1)
	term, _ := pipeTerminal(t)
	require.NoError(t, h.Send(context.Background(), term))

	h.Close()

	assert.ErrorIs(t, term.File.Close(), os.ErrClosed, "queued terminal should be closed by the handoff")

	owned, _ := pipeTerminal(t)
	defer owned.Close()
	assert.ErrorIs(t, h.Send(context.Background(), owned), ErrClosed)
	assert.NoError(t, owned.Close(), "rejected terminal stays with the sender")
}

func TestHandoffSendHonorsContext(t *testing.T) {
	h := NewHandoff(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := h.Send(ctx, &Terminal{ID: "blocked"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriterSink(&buf, false).WriteLine("id", "plain"))
	require.NoError(t, NewWriterSink(&buf, true).WriteLine("id", "tagged"))
	assert.Equal(t, "plain\nid: tagged\n", buf.String())
}

func TestTerminalIsDeregisteredBeforeClose(t *testing.T) {
	sink, _ := chanSink()
	h := NewHandoff(1)

	var r *Relay
	registered := make(chan bool, 4)
	r = New(h, sink, WithObserver(event.ObserverFunc(func(e event.Event) {
		switch e.Kind {
		case event.RelayEnded, event.ConnectionClosed:
			registered <- r.Manager().Count() != 0
		}
	})))
	startRelay(t, r)

	term, w := pipeTerminal(t)
	require.NoError(t, h.Send(context.Background(), term))
	testutil.Eventually(t, wait, "terminal to become active", func() bool {
		return r.Manager().Count() == 1
	})
	require.NoError(t, w.Close())

	assert.False(t, testutil.RequireReceive(t, registered, wait, "waiting for relay end"), "still registered at RelayEnded")
	assert.False(t, testutil.RequireReceive(t, registered, wait, "waiting for close"), "still registered at ConnectionClosed")
	assert.ErrorIs(t, term.File.Close(), os.ErrClosed)
}

func TestShutdownClosesEachTerminalOnce(t *testing.T) {
	rec := &event.Recorder{}
	sink, _ := chanSink()
	h := NewHandoff(2)
	r := New(h, sink, WithObserver(rec))
	cancel := startRelay(t, r)

	for i := 0; i < 2; i++ {
		term, _ := pipeTerminal(t)
		require.NoError(t, h.Send(context.Background(), term))
	}
	testutil.Eventually(t, wait, "terminals to become active", func() bool {
		return r.Manager().Count() == 2
	})

	cancel()
	testutil.Eventually(t, wait, "streams to end", func() bool {
		return rec.Count(event.RelayEnded) == 2
	})
	testutil.Eventually(t, wait, "terminals to be closed", func() bool {
		return rec.Count(event.ConnectionClosed) >= 2
	})
	r.Wait()
	assert.Equal(t, 2, rec.Count(event.ConnectionClosed))
	assert.Zero(t, r.Manager().Count())
}

func TestDuplicateIDIsRejected(t *testing.T) {
	rec := &event.Recorder{}
	sink, _ := chanSink()
	h := NewHandoff(2)
	r := New(h, sink, WithObserver(rec))
	startRelay(t, r)

	first, _ := pipeTerminal(t)
	second, _ := pipeTerminal(t)
	second.ID = first.ID
	require.NoError(t, h.Send(context.Background(), first))
	require.NoError(t, h.Send(context.Background(), second))

	testutil.Eventually(t, wait, "duplicate to be rejected and closed", func() bool {
		return rec.Count(event.ConnectionFailed) == 1 && rec.Count(event.ConnectionClosed) == 1
	})
	failed, _ := rec.Find(event.ConnectionFailed)
	assert.ErrorIs(t, failed.Err, ErrDuplicateID)
	assert.ErrorIs(t, second.File.Close(), os.ErrClosed)
	assert.Equal(t, 1, r.Manager().Count())
}

func TestManagerHandsBackRemovedTerminals(t *testing.T) {
	m := NewManager()
	a := &Terminal{ID: "a"}
	b := &Terminal{ID: "b"}
	require.True(t, m.Add(a))
	require.True(t, m.Add(b))
	assert.False(t, m.Add(&Terminal{ID: "a"}))

	assert.Same(t, a, m.Remove("a"))
	assert.Nil(t, m.Remove("a"))

	drained := m.Drain()
	require.Len(t, drained, 1)
	assert.Same(t, b, drained[0])
	assert.Zero(t, m.Count())
	assert.Nil(t, m.Remove("b"))
}
