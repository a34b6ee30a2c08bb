// Package config loads gripctl settings from defaults, an optional JSON
// file, command-line flags and GRIPCTL_* environment variables, in that
// order of precedence (environment wins).
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GRIPCTL_"

// Classifier names.
var classifiers = []string{"rule", "template"}

// Duration is a time.Duration that reads "200ms" style strings from JSON.
type Duration time.Duration

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}

	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string like \"200ms\": %s", b)
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds every gripctl setting.
type Config struct {
	// Actuator link
	SerialPort        string   `json:"serial_port"`
	Baud              int      `json:"baud"`
	WriteTimeout      Duration `json:"write_timeout"`
	SettleDelay       Duration `json:"settle_delay"`
	ReconnectInterval Duration `json:"reconnect_interval"`
	AsyncDispatch     bool     `json:"async_dispatch"`

	// Gesture pipeline
	ConfirmThreshold int      `json:"confirm_threshold"`
	LossTimeout      Duration `json:"loss_timeout"`
	Classifier       string   `json:"classifier"`

	// Landmark source
	CameraID      int      `json:"camera_id"`
	Mirror        bool     `json:"mirror"`
	MinConfidence float64  `json:"min_confidence"`
	Replay        string   `json:"replay"`
	SourceRetries int      `json:"source_retries"`
	SourceBackoff Duration `json:"source_backoff"`

	// Status surfaces
	Debug       bool   `json:"debug"`
	Tray        bool   `json:"tray"`
	HTTPAddr    string `json:"http_addr"`
	StaticDir   string `json:"static_dir"`
	JournalPath string `json:"journal_path"`
}

// Default returns the built-in settings. The serial port is empty, which
// runs without an actuator.
func Default() *Config {
	return &Config{
		Baud:              115200,
		WriteTimeout:      Duration(200 * time.Millisecond),
		SettleDelay:       Duration(2 * time.Second),
		ReconnectInterval: Duration(5 * time.Second),
		ConfirmThreshold:  3,
		LossTimeout:       Duration(time.Second),
		Classifier:        "rule",
		Mirror:            true,
		MinConfidence:     0.7,
		SourceRetries:     3,
		SourceBackoff:     Duration(500 * time.Millisecond),
		HTTPAddr:          "127.0.0.1:8080",
		JournalPath:       DefaultJournalPath(),
	}
}

// DefaultJournalPath returns ~/.gripctl/gripctl.db, or a path in the
// working directory when there is no home directory.
func DefaultJournalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "gripctl.db"
	}
	return filepath.Join(home, ".gripctl", "gripctl.db")
}

// Load builds the configuration from args (without the program name) and
// the process environment.
func Load(args []string) (*Config, error) {
	return load(args, os.LookupEnv)
}

func load(args []string, lookup func(string) (string, bool)) (*Config, error) {
	// First pass only finds -config so the file can sit under the flags.
	var path string
	first := newFlagSet(Default(), &path)
	first.SetOutput(io.Discard)
	firstErr := first.Parse(args)

	cfg := Default()
	if firstErr == nil && path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	fs := newFlagSet(cfg, &path)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the JSON file at path onto c. Keys missing from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func newFlagSet(c *Config, path *string) *flag.FlagSet {
	fs := flag.NewFlagSet("gripctl", flag.ContinueOnError)

	fs.StringVar(path, "config", *path, "JSON configuration file")

	fs.StringVar(&c.SerialPort, "port", c.SerialPort, "serial port of the actuator (empty runs without one)")
	fs.IntVar(&c.Baud, "baud", c.Baud, "serial baud rate")
	fs.DurationVar((*time.Duration)(&c.WriteTimeout), "write-timeout", c.WriteTimeout.Std(), "maximum time for one serial write")
	fs.DurationVar((*time.Duration)(&c.SettleDelay), "settle", c.SettleDelay.Std(), "wait after opening the port before sending")
	fs.DurationVar((*time.Duration)(&c.ReconnectInterval), "reconnect", c.ReconnectInterval.Std(), "minimum time between reconnect attempts (0 disables)")
	fs.BoolVar(&c.AsyncDispatch, "async", c.AsyncDispatch, "write commands from a background worker")

	fs.IntVar(&c.ConfirmThreshold, "confirm", c.ConfirmThreshold, "consecutive frames needed to confirm a gesture")
	fs.DurationVar((*time.Duration)(&c.LossTimeout), "loss-timeout", c.LossTimeout.Std(), "time without a hand before the gesture is released (0 disables)")
	fs.StringVar(&c.Classifier, "classifier", c.Classifier, "gesture classifier: rule or template")

	fs.IntVar(&c.CameraID, "camera", c.CameraID, "camera device id")
	fs.BoolVar(&c.Mirror, "mirror", c.Mirror, "mirror frames before detection")
	fs.Float64Var(&c.MinConfidence, "min-confidence", c.MinConfidence, "minimum hand detection score")
	fs.StringVar(&c.Replay, "replay", c.Replay, "play back a landmark recording instead of using the camera")
	fs.IntVar(&c.SourceRetries, "source-retries", c.SourceRetries, "extra attempts to open the camera")
	fs.DurationVar((*time.Duration)(&c.SourceBackoff), "source-backoff", c.SourceBackoff.Std(), "initial wait between camera open attempts")

	fs.BoolVar(&c.Debug, "debug", c.Debug, "show the debug overlay window")
	fs.BoolVar(&c.Tray, "tray", c.Tray, "show a system tray icon")
	fs.StringVar(&c.HTTPAddr, "http", c.HTTPAddr, "status API listen address (empty disables)")
	fs.StringVar(&c.StaticDir, "static", c.StaticDir, "directory of dashboard files served next to the status API")
	fs.StringVar(&c.JournalPath, "journal", c.JournalPath, "dispatch journal database (empty disables)")

	return fs
}

// applyEnv applies GRIPCTL_* overrides.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := lookup(EnvPrefix + name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = f
		}
	}
	duration := func(name string, dst *Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = Duration(d)
		}
	}

	str("SERIAL_PORT", &c.SerialPort)
	integer("BAUD", &c.Baud)
	duration("WRITE_TIMEOUT", &c.WriteTimeout)
	duration("SETTLE_DELAY", &c.SettleDelay)
	duration("RECONNECT_INTERVAL", &c.ReconnectInterval)
	boolean("ASYNC_DISPATCH", &c.AsyncDispatch)
	integer("CONFIRM_THRESHOLD", &c.ConfirmThreshold)
	duration("LOSS_TIMEOUT", &c.LossTimeout)
	str("CLASSIFIER", &c.Classifier)
	integer("CAMERA_ID", &c.CameraID)
	boolean("MIRROR", &c.Mirror)
	float("MIN_CONFIDENCE", &c.MinConfidence)
	str("REPLAY", &c.Replay)
	integer("SOURCE_RETRIES", &c.SourceRetries)
	duration("SOURCE_BACKOFF", &c.SourceBackoff)
	boolean("DEBUG", &c.Debug)
	boolean("TRAY", &c.Tray)
	str("HTTP_ADDR", &c.HTTPAddr)
	str("STATIC_DIR", &c.StaticDir)
	str("JOURNAL_PATH", &c.JournalPath)

	return errors.Join(errs...)
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Baud <= 0 {
		errs = append(errs, fmt.Errorf("baud must be positive, got %d", c.Baud))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("write timeout must be positive, got %s", c.WriteTimeout.Std()))
	}
	if c.SettleDelay < 0 {
		errs = append(errs, errors.New("settle delay cannot be negative"))
	}
	if c.ReconnectInterval < 0 {
		errs = append(errs, errors.New("reconnect interval cannot be negative"))
	}
	if c.ConfirmThreshold < 1 {
		errs = append(errs, fmt.Errorf("confirm threshold must be at least 1, got %d", c.ConfirmThreshold))
	}
	if c.LossTimeout < 0 {
		errs = append(errs, errors.New("loss timeout cannot be negative"))
	}
	if !slices.Contains(classifiers, c.Classifier) {
		errs = append(errs, fmt.Errorf("classifier must be one of %v, got %q", classifiers, c.Classifier))
	}
	if c.CameraID < 0 {
		errs = append(errs, fmt.Errorf("camera id cannot be negative, got %d", c.CameraID))
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("min confidence must be within [0, 1], got %g", c.MinConfidence))
	}
	if c.SourceRetries < 0 {
		errs = append(errs, errors.New("source retries cannot be negative"))
	}
	if c.SourceBackoff <= 0 {
		errs = append(errs, errors.New("source backoff must be positive"))
	}
	if c.StaticDir != "" {
		if info, err := os.Stat(c.StaticDir); err != nil || !info.IsDir() {
			errs = append(errs, fmt.Errorf("static dir %q is not a directory", c.StaticDir))
		}
	}

	return errors.Join(errs...)
}
