package pty

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// slaveMode is what grantpt(3) leaves on the slave device.
const slaveMode = 0o620

// ptmxPath is the multiplexer device. Tests point it elsewhere to force a
// failing allocation.
var ptmxPath = "/dev/ptmx"

func open() (master, slave *os.File, path string, err error) {
	mfd, err := unix.Open(ptmxPath, unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, nil, "", &PtyError{Phase: PhaseOpen, Err: fmt.Errorf("open %s: %w", ptmxPath, err)}
	}
	m := os.NewFile(uintptr(mfd), ptmxPath)
	defer func() {
		if err != nil {
			m.Close()
		}
	}()

	n, err := unix.IoctlGetUint32(mfd, unix.TIOCGPTN)
	if err != nil {
		return nil, nil, "", &PtyError{Phase: PhaseName, Err: fmt.Errorf("TIOCGPTN: %w", err)}
	}
	path = fmt.Sprintf("/dev/pts/%d", n)

	if err = grant(path); err != nil {
		return nil, nil, "", &PtyError{Phase: PhaseGrant, Err: err}
	}

	if err = unix.IoctlSetPointerInt(mfd, unix.TIOCSPTLCK, 0); err != nil {
		return nil, nil, "", &PtyError{Phase: PhaseUnlock, Err: fmt.Errorf("TIOCSPTLCK: %w", err)}
	}

	slave, err = openPeer(mfd, path)
	if err != nil {
		return nil, nil, "", &PtyError{Phase: PhaseOpenSlave, Err: err}
	}
	return m, slave, path, nil
}

// grant makes the slave owned by the real user with mode 0620. devpts
// normally does this at allocation, so usually nothing is changed.
func grant(path string) error {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	uid := os.Getuid()
	if int(st.Uid) != uid {
		if err := unix.Chown(path, uid, -1); err != nil {
			return fmt.Errorf("chown %s: %w", path, err)
		}
	}
	if st.Mode&0o777 != slaveMode {
		if err := unix.Chmod(path, slaveMode); err != nil {
			return fmt.Errorf("chmod %s: %w", path, err)
		}
	}
	return nil
}

// openPeer opens the slave through the master with TIOCGPTPEER so there is
// no window between resolving the path and opening it. Kernels older than
// 4.13 reject the ioctl and the path is opened instead.
func openPeer(mfd int, path string) (*os.File, error) {
	flags := unix.O_RDWR | unix.O_NOCTTY | unix.O_CLOEXEC
	fd, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(mfd), uintptr(unix.TIOCGPTPEER), uintptr(flags))
	if errno == 0 {
		return os.NewFile(fd, path), nil
	}
	if !errors.Is(errno, unix.EINVAL) && !errors.Is(errno, unix.ENOTTY) {
		return nil, fmt.Errorf("TIOCGPTPEER: %w", errno)
	}

	sfd, err := unix.Open(path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return os.NewFile(uintptr(sfd), path), nil
}
