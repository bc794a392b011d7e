// Package config loads and validates the supervisor configuration.
//
// One file configures every participant. The format is chosen by
// extension: .json, .toml, or .yaml/.yml. Unknown keys are rejected in all
// three formats, and every failure is a CONFIG error.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/laststop/errors"
)

// Log backends.
const (
	BackendMongo     = "mongo"
	BackendJetStream = "jetstream"
	BackendSQLite    = "sqlite"
)

// Format is a configuration file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// Duration is a time.Duration written as a Go duration string ("250ms").
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the whole configuration file.
type Config struct {
	Mongo         Mongo         `json:"mongo" toml:"mongo" yaml:"mongo"`
	GUI           GUI           `json:"gui" toml:"gui" yaml:"gui"`
	SpeechConsole SpeechConsole `json:"speech_console" toml:"speech_console" yaml:"speech_console"`
	Log           Log           `json:"log" toml:"log" yaml:"log"`
	Supervisor    Supervisor    `json:"supervisor" toml:"supervisor" yaml:"supervisor"`
	Capture       Capture       `json:"capture" toml:"capture" yaml:"capture"`
}

// Mongo describes the store process. The section keeps its historical name
// for every process-backed log backend.
type Mongo struct {
	Bin    string `json:"bin" toml:"bin" yaml:"bin"`
	Port   int    `json:"port" toml:"port" yaml:"port"`
	Bind   string `json:"bind" toml:"bind" yaml:"bind"`
	Config string `json:"config" toml:"config" yaml:"config"`
}

// GUI describes the front-end process. Exec is a command line run through
// the platform shell.
type GUI struct {
	Exec string `json:"exec" toml:"exec" yaml:"exec"`
	Cwd  string `json:"cwd" toml:"cwd" yaml:"cwd"`
}

// SpeechConsole describes the capture terminal process.
type SpeechConsole struct {
	Bin string `json:"bin" toml:"bin" yaml:"bin"`
	Cwd string `json:"cwd" toml:"cwd" yaml:"cwd"`
}

// Log selects and tunes the log backend.
type Log struct {
	Backend    string `json:"backend" toml:"backend" yaml:"backend"`
	Database   string `json:"database" toml:"database" yaml:"database"`
	Path       string `json:"path" toml:"path" yaml:"path"`
	CappedSize int64  `json:"capped_size" toml:"capped_size" yaml:"capped_size"`
}

// Supervisor holds lifecycle timings.
type Supervisor struct {
	ConnectTimeout       Duration `json:"connect_timeout" toml:"connect_timeout" yaml:"connect_timeout"`
	Heartbeat            Duration `json:"heartbeat" toml:"heartbeat" yaml:"heartbeat"`
	GracefulTimeout      Duration `json:"graceful_timeout" toml:"graceful_timeout" yaml:"graceful_timeout"`
	StoreShutdownTimeout Duration `json:"store_shutdown_timeout" toml:"store_shutdown_timeout" yaml:"store_shutdown_timeout"`
	StoreKillGrace       Duration `json:"store_kill_grace" toml:"store_kill_grace" yaml:"store_kill_grace"`
}

// Capture holds the speech debouncer timings.
type Capture struct {
	Tick            Duration `json:"tick" toml:"tick" yaml:"tick"`
	QuiescenceTicks int      `json:"quiescence_ticks" toml:"quiescence_ticks" yaml:"quiescence_ticks"`
}

// Defaults for optional settings.
const (
	DefaultDatabase             = "last-stop"
	DefaultCappedSize           = 16 << 20
	DefaultConnectTimeout       = 5 * time.Second
	DefaultGracefulTimeout      = 5 * time.Second
	DefaultStoreShutdownTimeout = 10 * time.Second
	DefaultStoreKillGrace       = 3 * time.Second
	DefaultTick                 = 20 * time.Millisecond
	DefaultQuiescenceTicks      = 3
)

// Load reads, decodes, defaults and validates the file at path.
func Load(path string) (*Config, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Config("read config", err)
	}
	cfg, err := Parse(data, format)
	if err != nil {
		return nil, errors.Config(fmt.Sprintf("load %s", path), err)
	}
	return cfg, nil
}

// FormatFor picks the format from the file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", errors.Config(fmt.Sprintf("unsupported config extension %q", filepath.Ext(path)), nil)
	}
}

// Parse decodes data in the given format, applies defaults and validates.
func Parse(data []byte, format Format) (*Config, error) {
	var cfg Config
	if err := decode(data, format, &cfg); err != nil {
		return nil, errors.Config("decode", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(data []byte, format Format, cfg *Config) error {
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		return dec.Decode(cfg)
	case FormatTOML:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
		}
		return nil
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		return dec.Decode(cfg)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// ApplyDefaults fills optional settings that were left unset.
func (c *Config) ApplyDefaults() {
	if c.Log.Backend == "" {
		c.Log.Backend = BackendMongo
	}
	if c.Log.Database == "" {
		c.Log.Database = DefaultDatabase
	}
	if c.Log.CappedSize == 0 {
		c.Log.CappedSize = DefaultCappedSize
	}
	if c.Supervisor.ConnectTimeout == 0 {
		c.Supervisor.ConnectTimeout = Duration(DefaultConnectTimeout)
	}
	if c.Supervisor.GracefulTimeout == 0 {
		c.Supervisor.GracefulTimeout = Duration(DefaultGracefulTimeout)
	}
	if c.Supervisor.StoreShutdownTimeout == 0 {
		c.Supervisor.StoreShutdownTimeout = Duration(DefaultStoreShutdownTimeout)
	}
	if c.Supervisor.StoreKillGrace == 0 {
		c.Supervisor.StoreKillGrace = Duration(DefaultStoreKillGrace)
	}
	if c.Capture.Tick == 0 {
		c.Capture.Tick = Duration(DefaultTick)
	}
	if c.Capture.QuiescenceTicks == 0 {
		c.Capture.QuiescenceTicks = DefaultQuiescenceTicks
	}
}

// ProcessBacked reports whether the log backend runs as a child process.
func (c *Config) ProcessBacked() bool {
	return c.Log.Backend != BackendSQLite
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Log.Backend {
	case BackendMongo, BackendJetStream:
		if c.Mongo.Bin == "" {
			add("mongo.bin is required")
		}
		if c.Mongo.Port < 1 || c.Mongo.Port > 65535 {
			add("mongo.port must be 1..65535, got %d", c.Mongo.Port)
		}
		if c.Mongo.Bind == "" {
			add("mongo.bind is required")
		}
	case BackendSQLite:
		if c.Log.Path == "" {
			add("log.path is required for the sqlite backend")
		}
	default:
		add("log.backend %q is not one of mongo, jetstream, sqlite", c.Log.Backend)
	}

	if c.GUI.Exec == "" {
		add("gui.exec is required")
	}
	if c.SpeechConsole.Bin == "" {
		add("speech_console.bin is required")
	}
	if c.Log.CappedSize < 0 {
		add("log.capped_size must not be negative")
	}

	durations := []struct {
		name string
		d    Duration
	}{
		{"supervisor.connect_timeout", c.Supervisor.ConnectTimeout},
		{"supervisor.heartbeat", c.Supervisor.Heartbeat},
		{"supervisor.graceful_timeout", c.Supervisor.GracefulTimeout},
		{"supervisor.store_shutdown_timeout", c.Supervisor.StoreShutdownTimeout},
		{"supervisor.store_kill_grace", c.Supervisor.StoreKillGrace},
		{"capture.tick", c.Capture.Tick},
	}
	for _, d := range durations {
		if d.d < 0 {
			add("%s must not be negative", d.name)
		}
	}
	if c.Capture.QuiescenceTicks < 0 {
		add("capture.quiescence_ticks must not be negative")
	}

	if len(problems) > 0 {
		return errors.Config(strings.Join(problems, "; "), nil)
	}
	return nil
}

// StoreURI returns the connection address of the store process.
func (c *Config) StoreURI() string {
	switch c.Log.Backend {
	case BackendJetStream:
		return fmt.Sprintf("nats://localhost:%d", c.Mongo.Port)
	default:
		return fmt.Sprintf("mongodb://localhost:%d", c.Mongo.Port)
	}
}
