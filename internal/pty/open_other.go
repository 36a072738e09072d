//go:build !linux

package pty

import (
	"os"

	ptylib "github.com/creack/pty"
)

// open defers to creack/pty, which runs posix_openpt, grantpt, unlockpt and
// ptsname in one call; any failure is reported as the open phase.
func open() (master, slave *os.File, path string, err error) {
	master, slave, err = ptylib.Open()
	if err != nil {
		return nil, nil, "", &PtyError{Phase: PhaseOpen, Err: err}
	}
	return master, slave, slave.Name(), nil
}
