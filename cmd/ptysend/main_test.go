package main

import (
	"bufio"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/PiranhaCodes/ptyhandoff/internal/fdpass"
	"github.com/PiranhaCodes/ptyhandoff/internal/logging"
	"github.com/PiranhaCodes/ptyhandoff/internal/testutil"
)

type listener struct {
	path string
	conn chan *net.UnixConn
}

func listen(t *testing.T) *listener {
	t.Helper()
	path := filepath.Join(testutil.SocketDir(t), "send.sock")
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	out := &listener{path: path, conn: make(chan *net.UnixConn, 1)}
	go func() {
		conn, err := l.AcceptUnix()
		if err == nil {
			out.conn <- conn
		}
	}()
	return out
}

func (l *listener) receive(t *testing.T) *fdpass.Received {
	t.Helper()
	conn := testutil.RequireReceive(t, l.conn, 5*time.Second, "waiting for sender")
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	got, err := fdpass.Receive(conn, make([]byte, 16), 0)
	require.NoError(t, err)
	t.Cleanup(func() { got.File.Close() })
	return got
}

func TestSendTerminalRelaysStdin(t *testing.T) {
	l := listen(t)
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: l.path, Net: "unix"})
	require.NoError(t, err)
	defer conn.Close()

	stdin, feed := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- sendTerminal(conn, nil, stdin, logging.Discard()) }()

	got := l.receive(t)
	assert.Equal(t, []byte{fdpass.Placeholder}, got.Payload)
	assert.True(t, term.IsTerminal(fdpass.RawFD(got.File)), "received descriptor should be a terminal")

	_, err = feed.Write([]byte("hello\n"))
	require.NoError(t, err)
	line, err := bufio.NewReader(got.File).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)

	require.NoError(t, feed.Close())
	assert.NoError(t, testutil.RequireReceive(t, done, 5*time.Second, "waiting for sender to finish"))
}

func TestSendInheritedDescriptor(t *testing.T) {
	l := listen(t)
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: l.path, Net: "unix"})
	require.NoError(t, err)
	defer conn.Close()

	// sendInherited takes ownership of the descriptor it is given.
	fd, err := unix.Dup(fdpass.RawFD(w))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, sendInherited(conn, fd, []byte("tag"), logging.Discard()))

	got := l.receive(t)
	assert.Equal(t, []byte("tag"), got.Payload)

	_, err = got.File.Write([]byte("x"))
	require.NoError(t, err)
	got.File.Close()

	buf, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "x", string(buf))
}

func TestConnectFailure(t *testing.T) {
	cmd := newCommand(&options{})
	cmd.SetArgs([]string{"--log-format", "text", filepath.Join(t.TempDir(), "missing.sock")})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
}
