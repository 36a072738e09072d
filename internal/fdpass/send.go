package fdpass

import (
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

// Placeholder is the regular byte sent when the caller has no payload.
const Placeholder = ' '

// Send transmits files in a single SCM_RIGHTS message together with payload
// (a single Placeholder byte when empty). The files stay open and owned
// by the caller; the receiver gets its own copies.
func Send(conn *net.UnixConn, payload []byte, files ...*os.File) error {
	if len(files) == 0 {
		return errors.New("send descriptor: no files given")
	}

	fds := make([]int, len(files))
	for i, f := range files {
		raw, err := f.SyscallConn()
		if err != nil {
			return fmt.Errorf("send descriptor: %s: %w", f.Name(), err)
		}
		if err := raw.Control(func(fd uintptr) { fds[i] = int(fd) }); err != nil {
			return fmt.Errorf("send descriptor: %s: %w", f.Name(), err)
		}
	}

	if len(payload) == 0 {
		payload = []byte{Placeholder}
	}

	_, _, err := conn.WriteMsgUnix(payload, unix.UnixRights(fds...), nil)
	runtime.KeepAlive(files)
	if err != nil {
		return fmt.Errorf("sendmsg: %w", err)
	}
	return nil
}

// RawFD returns the descriptor number behind f without switching it to
// blocking mode the way (*os.File).Fd does. It returns -1 if f is closed.
func RawFD(f *os.File) int {
	raw, err := f.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	if err := raw.Control(func(u uintptr) { fd = int(u) }); err != nil {
		return -1
	}
	return fd
}
