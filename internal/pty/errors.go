package pty

import (
	"errors"
	"fmt"

	ptylib "github.com/creack/pty"
)

// Phase names the allocation step that failed.
type Phase string

const (
	PhaseOpen      Phase = "open"
	PhaseGrant     Phase = "grant"
	PhaseUnlock    Phase = "unlock"
	PhaseName      Phase = "resolve name"
	PhaseOpenSlave Phase = "open slave"
)

// ErrUnsupported is returned where the platform has no pty support.
var ErrUnsupported = ptylib.ErrUnsupported

// PtyError is a failed allocation. Whatever was acquired before the failing
// phase has already been released.
type PtyError struct {
	Phase Phase
	Err   error
}

func (e *PtyError) Error() string {
	return fmt.Sprintf("pty %s: %v", e.Phase, e.Err)
}

func (e *PtyError) Unwrap() error { return e.Err }

// IsPhase reports whether err is a PtyError from phase p.
func IsPhase(err error, p Phase) bool {
	var perr *PtyError
	return errors.As(err, &perr) && perr.Phase == p
}
