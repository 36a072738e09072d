// Package testutil holds helpers shared by package tests.
//
// [SocketDir] makes a short directory under /tmp because sun_path is limited
// to 108 bytes and t.TempDir() paths can exceed it. [RequireReceive] wraps
// the select-with-timeout pattern so tests never hang on a channel.
// [RequireClosed] does the same for channels that signal by closing.
// [UnixPair] returns both ends of a connected stream socketpair.
// [OpenFDs] counts this process's open descriptors for leak checks.
package testutil

import (
	"net"
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// SocketDir creates a temporary directory suitable for Unix domain sockets.
// It is removed when the test completes.
func SocketDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "ptyh-")
	if err != nil {
		t.Fatalf("creating socket dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// RequireReceive reads one value from ch within timeout, or fails the test.
func RequireReceive[T any](t testing.TB, ch <-chan T, timeout time.Duration, what string) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed while %s", what)
		}
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out after %v %s", timeout, what)
	}
	panic("unreachable")
}

// OpenFDs returns the number of entries in /proc/self/fd, skipping the test
// where that is unavailable.
func OpenFDs(t testing.TB) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skipf("descriptor accounting unavailable: %v", err)
	}
	return len(entries)
}

// Eventually polls cond until it returns true or timeout elapses.
func Eventually(t testing.TB, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out after %v waiting for %s", timeout, what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// UnixPair returns two connected stream sockets. Both are closed at cleanup.
func UnixPair(t testing.TB) (*net.UnixConn, *net.UnixConn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	return fileConn(t, fds[0], "left"), fileConn(t, fds[1], "right")
}

func fileConn(t testing.TB, fd int, name string) *net.UnixConn {
	t.Helper()
	f := os.NewFile(uintptr(fd), name)
	defer f.Close()
	conn, err := net.FileConn(f)
	if err != nil {
		t.Fatalf("wrapping socket %s: %v", name, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn.(*net.UnixConn)
}

// RequireClosed waits for ch to be closed within timeout, or fails the test.
func RequireClosed(t testing.TB, ch <-chan struct{}, timeout time.Duration, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("timed out after %v %s", timeout, what)
	}
}
