// Command ptysend hands a terminal to a running ptyhandoff server. By
// default it allocates a fresh pseudo-terminal, passes the slave side over
// the socket and copies its own stdin into the master, so every line typed
// shows up on the server's output.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/PiranhaCodes/ptyhandoff/internal/fdpass"
	"github.com/PiranhaCodes/ptyhandoff/internal/logging"
	"github.com/PiranhaCodes/ptyhandoff/internal/pty"
)

func expandPath(path string) (string, error) {
	if len(path) < 2 || path[:2] != "~/" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}

type options struct {
	fd        int
	payload   string
	logLevel  string
	logFormat string
}

func newCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ptysend [flags] <socket-path>",
		Short:         "Pass a terminal descriptor to a ptyhandoff server",
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(cmd.ErrOrStderr(), o.logLevel, o.logFormat)
			if err != nil {
				return err
			}
			path, err := expandPath(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conn, err := dial(ctx, path)
			if err != nil {
				return err
			}
			defer conn.Close()

			if o.fd >= 0 {
				return sendInherited(conn, o.fd, []byte(o.payload), logger)
			}
			return sendTerminal(conn, []byte(o.payload), cmd.InOrStdin(), logger)
		},
	}

	fl := cmd.Flags()
	fl.IntVar(&o.fd, "fd", -1, "send this inherited descriptor instead of a new pty")
	fl.StringVar(&o.payload, "payload", "", "regular data sent with the descriptor (default a single space)")
	fl.StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error")
	fl.StringVar(&o.logFormat, "log-format", "", "auto, text, json or logfmt")
	return cmd
}

func dial(ctx context.Context, path string) (*net.UnixConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", path, err)
	}
	return conn.(*net.UnixConn), nil
}

func sendInherited(conn *net.UnixConn, fd int, payload []byte, logger *log.Logger) error {
	f := os.NewFile(uintptr(fd), fmt.Sprintf("fd%d", fd))
	if f == nil {
		return fmt.Errorf("invalid descriptor %d", fd)
	}
	defer f.Close()

	if err := fdpass.Send(conn, payload, f); err != nil {
		return err
	}
	logger.Info("descriptor sent", "fd", fd)
	return nil
}

// sendTerminal passes the slave side of a new pty and then feeds in to the
// master until in reaches EOF.
func sendTerminal(conn *net.UnixConn, payload []byte, in io.Reader, logger *log.Logger) error {
	pair, err := pty.Open()
	if err != nil {
		return err
	}
	defer pair.Close()

	if f, ok := in.(*os.File); ok && term.IsTerminal(fdpass.RawFD(f)) {
		if err := pair.InheritSize(f); err != nil {
			logger.Warn("failed to copy window size", "err", err)
		}
	}

	if err := fdpass.Send(conn, payload, pair.Slave); err != nil {
		return err
	}
	// The server holds its own copy now.
	if err := pair.CloseSlave(); err != nil {
		logger.Warn("failed to close local slave", "err", err)
	}
	logger.Info("terminal sent", "slave", pair.SlavePath)

	if _, err := io.Copy(pair.Master, in); err != nil {
		return fmt.Errorf("copy input: %w", err)
	}
	logger.Debug("input closed")
	return nil
}

func main() {
	if err := newCommand(&options{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
