// Package termmode switches a terminal descriptor into raw mode.
package termmode

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

var (
	// ErrNotATerminal means the descriptor does not refer to a terminal device.
	ErrNotATerminal = errors.New("not a terminal")
	// ErrIoctlFailed means the terminal attribute call failed for another reason.
	ErrIoctlFailed = errors.New("terminal ioctl failed")
)

// TerminalError reports a failed attribute read or write on Fd. It matches
// both its category (ErrNotATerminal or ErrIoctlFailed) and the errno.
type TerminalError struct {
	Op  string
	Fd  int
	Err error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("%s fd %d: %v", e.Op, e.Fd, e.Err)
}

func (e *TerminalError) Unwrap() []error {
	if errors.Is(e.Err, unix.ENOTTY) {
		return []error{ErrNotATerminal, e.Err}
	}
	return []error{ErrIoctlFailed, e.Err}
}

// State is a saved terminal mode.
type State struct {
	termios unix.Termios
}

// GetAttr returns the current mode of fd.
func GetAttr(fd int) (*unix.Termios, error) {
	t, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return nil, &TerminalError{Op: "get attributes", Fd: fd, Err: err}
	}
	return t, nil
}

// MakeRaw puts fd into raw mode immediately and returns the mode it had
// before. Applying it to a terminal that is already raw changes nothing.
func MakeRaw(fd int) (*State, error) {
	t, err := GetAttr(fd)
	if err != nil {
		return nil, err
	}
	old := State{termios: *t}

	makeRaw(t)
	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, t); err != nil {
		return nil, &TerminalError{Op: "set attributes", Fd: fd, Err: err}
	}
	return &old, nil
}

// Restore applies a mode saved by MakeRaw.
func Restore(fd int, state *State) error {
	if state == nil {
		return nil
	}
	t := state.termios
	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &t); err != nil {
		return &TerminalError{Op: "restore attributes", Fd: fd, Err: err}
	}
	return nil
}

// IsRaw reports whether t has the flags MakeRaw produces.
func IsRaw(t *unix.Termios) bool {
	want := *t
	makeRaw(&want)
	return *t == want
}

// makeRaw is cfmakeraw(3) with the input and output flag words cleared
// entirely, so no translation happens in either direction.
func makeRaw(t *unix.Termios) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	t.Iflag = 0
	t.Oflag = 0
}

// MakeRawFile is MakeRaw for an *os.File. Unlike f.Fd it leaves the file's
// blocking mode untouched.
func MakeRawFile(f *os.File) (*State, error) {
	var state *State
	err := control(f, func(fd int) error {
		var err error
		state, err = MakeRaw(fd)
		return err
	})
	return state, err
}

// RestoreFile is Restore for an *os.File.
func RestoreFile(f *os.File, state *State) error {
	if state == nil {
		return nil
	}
	return control(f, func(fd int) error { return Restore(fd, state) })
}

func control(f *os.File, fn func(fd int) error) error {
	raw, err := f.SyscallConn()
	if err != nil {
		return &TerminalError{Op: "access", Fd: -1, Err: err}
	}
	var ferr error
	if err := raw.Control(func(fd uintptr) { ferr = fn(int(fd)) }); err != nil {
		return &TerminalError{Op: "access", Fd: -1, Err: err}
	}
	return ferr
}
