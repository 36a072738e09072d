// Package pty allocates pseudo-terminal pairs. Open returns the master and
// an already opened slave, so callers never resolve a slave path and open it
// later. Window size handling goes through creack/pty.
package pty
