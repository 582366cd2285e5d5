// Package config loads the bridge configuration.
//
// Settings come from three layers, later ones winning: built-in defaults, a
// TOML file, and the port persisted by the host's launcher (see PortStore).
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/wippyai/scriptbridge/errors"
)

// FileName is the configuration file looked up next to the host executable.
const FileName = "scriptbridge.toml"

// Default values.
const (
	DefaultPort        = 11116
	DefaultBind        = "127.0.0.1"
	DefaultLogLevel    = "info"
	DefaultWindowClass = "C4Fullscreen"
	DefaultContextTag  = "LCTwitch"
	DefaultRetired     = 64
)

// Config is the full runtime configuration.
type Config struct {
	Port               int      `toml:"port"`
	Bind               string   `toml:"bind"`
	LogLevel           string   `toml:"log_level"`
	CaptureParseErrors bool     `toml:"capture_parse_errors"`
	RequestTimeout     Duration `toml:"request_timeout"`
	HistoryPath        string   `toml:"history_path"`
	WindowClass        string   `toml:"window_class"`
	ContextTag         string   `toml:"context_tag"`
	RetiredShims       int      `toml:"retired_shims"`

	// Source is the file the configuration was read from, empty when only
	// defaults apply.
	Source string `toml:"-"`
}

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Port:               DefaultPort,
		Bind:               DefaultBind,
		LogLevel:           DefaultLogLevel,
		CaptureParseErrors: true,
		WindowClass:        DefaultWindowClass,
		ContextTag:         DefaultContextTag,
		RetiredShims:       DefaultRetired,
	}
}

// Parse decodes TOML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	c := Default()
	meta, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse configuration")
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("unknown keys: %s", strings.Join(keys, ", ")).
			Build()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, fmt.Sprintf("cannot read %s", path))
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.Source = path
	return c, nil
}

// Validate checks ranges and required values.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).Detail(format, args...).Build()
	}
	if !ValidPort(c.Port) {
		return invalid("port %d out of range", c.Port)
	}
	if net.ParseIP(c.Bind) == nil {
		return invalid("bind %q is not an IP address", c.Bind)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return invalid("unknown log level %q", c.LogLevel)
	}
	if c.RequestTimeout.Duration < 0 {
		return invalid("negative request_timeout")
	}
	if c.RetiredShims < 1 {
		return invalid("retired_shims must be at least 1")
	}
	if c.ContextTag == "" || strings.IndexByte(c.ContextTag, 0) >= 0 {
		return invalid("context_tag must be a non-empty string without NUL")
	}
	if c.WindowClass == "" {
		return invalid("window_class is required")
	}
	return nil
}

// ValidPort reports whether port can be listened on.
func ValidPort(port int) bool {
	return port > 0 && port <= 0xffff
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}
