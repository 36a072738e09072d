// Package config loads server settings from defaults, an optional TOML file,
// and PTYHANDOFF_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix is the prefix for environment overrides, e.g. PTYHANDOFF_LOG_LEVEL.
const EnvPrefix = "PTYHANDOFF"

// DefaultFile is the config file looked up under the XDG config directories.
const DefaultFile = "ptyhandoff/config.toml"

// Duration is a time.Duration that decodes from strings like "10s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Log holds logger settings.
type Log struct {
	Level  string `toml:"level" envconfig:"LEVEL"`
	Format string `toml:"format" envconfig:"FORMAT"`
}

// Config holds every tunable of the server.
type Config struct {
	// SocketPath is normally given on the command line.
	SocketPath string `toml:"socket_path" envconfig:"SOCKET_PATH"`
	// SocketMode is an octal permission string applied after bind; empty keeps the umask result.
	SocketMode string `toml:"socket_mode" envconfig:"SOCKET_MODE"`
	// ReceiveTimeout bounds how long a peer may take to send its descriptor. Zero disables it.
	ReceiveTimeout Duration `toml:"receive_timeout" envconfig:"RECEIVE_TIMEOUT"`
	PayloadSize    int      `toml:"payload_size" envconfig:"PAYLOAD_SIZE"`
	MaxDescriptors int      `toml:"max_descriptors" envconfig:"MAX_DESCRIPTORS"`
	HandoffBuffer  int      `toml:"handoff_buffer" envconfig:"HANDOFF_BUFFER"`
	// Sequential relays one terminal at a time instead of one goroutine per terminal.
	Sequential bool `toml:"sequential" envconfig:"SEQUENTIAL"`
	// PrefixLines prefixes each relayed line with its connection ID.
	PrefixLines bool `toml:"prefix_lines" envconfig:"PREFIX_LINES"`

	Log Log `toml:"log" envconfig:"LOG"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		ReceiveTimeout: Duration(10 * time.Second),
		PayloadSize:    1,
		MaxDescriptors: 8,
		HandoffBuffer:  16,
		Log: Log{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load builds a Config. An explicit path must exist; with an empty path the
// XDG default is used when present.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		if found, err := xdg.SearchConfigFile(DefaultFile); err == nil {
			path = found
		}
	}

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}

	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return errors.New("socket path is required")
	}
	if c.PayloadSize < 1 {
		return fmt.Errorf("payload_size must be at least 1, got %d", c.PayloadSize)
	}
	if c.MaxDescriptors < 1 {
		return fmt.Errorf("max_descriptors must be at least 1, got %d", c.MaxDescriptors)
	}
	if c.HandoffBuffer < 0 {
		return fmt.Errorf("handoff_buffer must not be negative, got %d", c.HandoffBuffer)
	}
	if c.ReceiveTimeout < 0 {
		return fmt.Errorf("receive_timeout must not be negative, got %s", c.ReceiveTimeout.Std())
	}
	if _, err := c.FileMode(); err != nil {
		return err
	}
	return nil
}

// FileMode parses SocketMode. A zero mode means "leave it alone".
func (c Config) FileMode() (os.FileMode, error) {
	if c.SocketMode == "" {
		return 0, nil
	}
	mode, err := strconv.ParseUint(c.SocketMode, 8, 32)
	if err != nil || mode > 0o777 {
		return 0, fmt.Errorf("invalid socket_mode %q: want octal permission bits like 0660", c.SocketMode)
	}
	return os.FileMode(mode), nil
}
