// Command ptyhandoff listens on a Unix domain socket for peers that pass a
// terminal descriptor over SCM_RIGHTS, switches each terminal to raw mode,
// and prints the lines it produces on stdout.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/PiranhaCodes/ptyhandoff/internal/config"
	"github.com/PiranhaCodes/ptyhandoff/internal/event"
	"github.com/PiranhaCodes/ptyhandoff/internal/logging"
	"github.com/PiranhaCodes/ptyhandoff/internal/relay"
	"github.com/PiranhaCodes/ptyhandoff/internal/server"
)

// expandPath expands the tilde (~) character to the user's home directory.
func expandPath(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	if len(path) == 1 {
		return homeDir, nil
	}
	if path[1] == '/' {
		return filepath.Join(homeDir, path[2:]), nil
	}
	return path, nil
}

type flags struct {
	configPath     string
	receiveTimeout time.Duration
	payloadSize    int
	maxDescriptors int
	socketMode     string
	sequential     bool
	prefixLines    bool
	logLevel       string
	logFormat      string
}

func newRootCommand() *cobra.Command {
	return newCommand(&flags{})
}

func newCommand(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ptyhandoff [flags] <socket-path>",
		Short: "Receive terminal descriptors over a Unix socket and relay their output",
		Long: `ptyhandoff binds a Unix domain socket at <socket-path>. Each peer that
connects sends one file descriptor as SCM_RIGHTS ancillary data plus at least
one byte of payload. The descriptor is switched to raw mode and every line
read from it is written to stdout.

The socket path must not exist yet.`,
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "path to a TOML config file (default: $XDG_CONFIG_HOME/"+config.DefaultFile+")")
	fl.DurationVar(&f.receiveTimeout, "receive-timeout", 0, "how long a peer may take to send its descriptor (0 waits forever)")
	fl.IntVar(&f.payloadSize, "payload-size", 0, "bytes of regular data read alongside the descriptor")
	fl.IntVar(&f.maxDescriptors, "max-descriptors", 0, "descriptors the control buffer has room for")
	fl.StringVar(&f.socketMode, "socket-mode", "", "octal permissions for the socket file, e.g. 0660")
	fl.BoolVar(&f.sequential, "sequential", false, "relay one terminal at a time")
	fl.BoolVar(&f.prefixLines, "prefix", false, "prefix relayed lines with the connection ID")
	fl.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fl.StringVar(&f.logFormat, "log-format", "", "auto, text, json or logfmt")
	return cmd
}

func loadConfig(cmd *cobra.Command, socketPath string, f *flags) (config.Config, error) {
	cfgPath, err := expandPath(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, err
	}

	if cfg.SocketPath, err = expandPath(socketPath); err != nil {
		return config.Config{}, err
	}

	changed := cmd.Flags().Changed
	if changed("receive-timeout") {
		cfg.ReceiveTimeout = config.Duration(f.receiveTimeout)
	}
	if changed("payload-size") {
		cfg.PayloadSize = f.payloadSize
	}
	if changed("max-descriptors") {
		cfg.MaxDescriptors = f.maxDescriptors
	}
	if changed("socket-mode") {
		cfg.SocketMode = f.socketMode
	}
	if changed("sequential") {
		cfg.Sequential = f.sequential
	}
	if changed("prefix") {
		cfg.PrefixLines = f.prefixLines
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = f.logFormat
	}

	return cfg, cfg.Validate()
}

func run(cmd *cobra.Command, socketPath string, f *flags) error {
	cfg, err := loadConfig(cmd, socketPath, f)
	if err != nil {
		return err
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	observer := event.NewLogObserver(logger)
	mode, _ := cfg.FileMode()

	handoff := relay.NewHandoff(cfg.HandoffBuffer)
	srv := server.NewServer(cfg.SocketPath, handoff, server.Options{
		ReceiveTimeout: cfg.ReceiveTimeout.Std(),
		PayloadSize:    cfg.PayloadSize,
		MaxDescriptors: cfg.MaxDescriptors,
		SocketMode:     mode,
		Observer:       observer,
	})
	if err := srv.Listen(); err != nil {
		return err
	}
	logger.Info("listening for connections", "path", cfg.SocketPath)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relayOpts := []relay.Option{relay.WithObserver(observer)}
	if cfg.Sequential {
		relayOpts = append(relayOpts, relay.Sequential())
	}
	rel := relay.New(handoff, relay.NewWriterSink(cmd.OutOrStdout(), cfg.PrefixLines), relayOpts...)

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		rel.Run(ctx)
	}()

	err = srv.Serve(ctx)
	stop()
	<-relayDone
	logger.Info("shutdown complete")
	return err
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
