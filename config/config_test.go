package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wippyai/scriptbridge/errors"
)

func TestDefault(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if c.Addr() != "127.0.0.1:11116" {
		t.Errorf("Addr = %s", c.Addr())
	}
	if !c.CaptureParseErrors || c.RetiredShims != 64 || c.ContextTag != "LCTwitch" || c.WindowClass != "C4Fullscreen" {
		t.Errorf("unexpected defaults: %+v", c)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		check   func(t *testing.T, c *Config)
		wantErr string
	}{
		{
			name:  "empty keeps defaults",
			input: "",
			check: func(t *testing.T, c *Config) {
				if c.Port != DefaultPort || !c.CaptureParseErrors {
					t.Errorf("got %+v", c)
				}
			},
		},
		{
			name: "overrides",
			input: `
port = 12000
bind = "0.0.0.0"
log_level = "debug"
capture_parse_errors = false
request_timeout = "2s"
history_path = "history.db"
`,
			check: func(t *testing.T, c *Config) {
				if c.Port != 12000 || c.Bind != "0.0.0.0" || c.LogLevel != "debug" {
					t.Errorf("got %+v", c)
				}
				if c.CaptureParseErrors {
					t.Error("capture_parse_errors not overridden")
				}
				if c.RequestTimeout.Duration != 2*time.Second {
					t.Errorf("request_timeout = %v", c.RequestTimeout)
				}
				if c.HistoryPath != "history.db" || c.RetiredShims != DefaultRetired {
					t.Errorf("got %+v", c)
				}
			},
		},
		{name: "unknown key", input: "prot = 1", wantErr: "prot"},
		{name: "port range", input: "port = 70000", wantErr: "port 70000"},
		{name: "bad bind", input: `bind = "localhost"`, wantErr: "bind"},
		{name: "bad level", input: `log_level = "loud"`, wantErr: "log level"},
		{name: "bad duration", input: `request_timeout = "soon"`, wantErr: "parse configuration"},
		{name: "negative duration", input: `request_timeout = "-1s"`, wantErr: "request_timeout"},
		{name: "no retired shims", input: "retired_shims = 0", wantErr: "retired_shims"},
		{name: "syntax", input: "port = ", wantErr: "parse configuration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse([]byte(tt.input))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error %q does not contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			tt.check(t, c)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	c, err := Load(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if c.Source != "" || c.Port != DefaultPort {
		t.Errorf("missing file config = %+v", c)
	}

	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte("port = 12001\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Source != path || c.Port != 12001 {
		t.Errorf("config = %+v", c)
	}

	if err := os.WriteFile(path, []byte("port = 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = Load(path)
	if !stderrors.Is(err, errors.InvalidInput(errors.PhaseConfig, "")) {
		t.Errorf("error = %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), path) {
		t.Errorf("error %q does not name the file", err)
	}
}

type failingStore struct{}

func (failingStore) LoadPort() (uint32, bool, error) {
	return 0, false, stderrors.New("access denied")
}

type rawStore uint32

func (s rawStore) LoadPort() (uint32, bool, error) { return uint32(s), true, nil }

func TestApplyPortStore(t *testing.T) {
	tests := []struct {
		name  string
		store PortStore
		want  int
	}{
		{"nil store", nil, 12000},
		{"unset", StaticPort(0), 12000},
		{"stored", StaticPort(11200), 11200},
		{"out of range", rawStore(70000), 12000},
		{"zero stored", rawStore(0), 12000},
		{"unreadable", failingStore{}, 12000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse([]byte("port = 12000"))
			if err != nil {
				t.Fatal(err)
			}
			c.ApplyPortStore(tt.store)
			if c.Port != tt.want {
				t.Errorf("port = %d, want %d", c.Port, tt.want)
			}
		})
	}
}
