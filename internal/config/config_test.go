package config

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Baud != 115200 || cfg.ConfirmThreshold != 3 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.WriteTimeout.Std() != 200*time.Millisecond || cfg.SettleDelay.Std() != 2*time.Second {
		t.Errorf("unexpected timing defaults %+v", cfg)
	}
	if cfg.SerialPort != "" {
		t.Error("default serial port should be empty")
	}
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gripctl.json")
	data := `{"serial_port": "/dev/ttyFILE", "baud": 9600, "write_timeout": "50ms", "classifier": "template", "debug": true}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	tests := []struct {
		name     string
		args     []string
		env      map[string]string
		wantPort string
		wantBaud int
	}{
		{"file only", []string{"-config", path}, nil, "/dev/ttyFILE", 9600},
		{"flag beats file", []string{"-config", path, "-port", "/dev/ttyFLAG"}, nil, "/dev/ttyFLAG", 9600},
		{"flag before config flag", []string{"-baud", "57600", "-config", path}, nil, "/dev/ttyFILE", 57600},
		{"env beats flag", []string{"-config", path, "-port", "/dev/ttyFLAG"}, map[string]string{"GRIPCTL_SERIAL_PORT": "/dev/ttyENV"}, "/dev/ttyENV", 9600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := load(tt.args, env(tt.env))
			if err != nil {
				t.Fatalf("load() error = %v", err)
			}
			if cfg.SerialPort != tt.wantPort {
				t.Errorf("SerialPort = %q, want %q", cfg.SerialPort, tt.wantPort)
			}
			if cfg.Baud != tt.wantBaud {
				t.Errorf("Baud = %d, want %d", cfg.Baud, tt.wantBaud)
			}
			if cfg.WriteTimeout.Std() != 50*time.Millisecond {
				t.Errorf("WriteTimeout = %s, want 50ms", cfg.WriteTimeout.Std())
			}
			if cfg.Classifier != "template" || !cfg.Debug {
				t.Errorf("file values lost: %+v", cfg)
			}
			// Untouched keys keep their defaults.
			if cfg.ConfirmThreshold != 3 {
				t.Errorf("ConfirmThreshold = %d, want 3", cfg.ConfirmThreshold)
			}
		})
	}
}

func TestLoad_EnvTypes(t *testing.T) {
	cfg, err := load(nil, env(map[string]string{
		"GRIPCTL_CONFIRM_THRESHOLD": "5",
		"GRIPCTL_LOSS_TIMEOUT":      "0s",
		"GRIPCTL_ASYNC_DISPATCH":    "true",
		"GRIPCTL_MIN_CONFIDENCE":    "0.5",
		"GRIPCTL_HTTP_ADDR":         "",
	}))
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.ConfirmThreshold != 5 || cfg.LossTimeout != 0 || !cfg.AsyncDispatch || cfg.MinConfidence != 0.5 {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
	if cfg.HTTPAddr != "" {
		t.Errorf("HTTPAddr = %q, want empty", cfg.HTTPAddr)
	}
}

func TestLoad_StaticDir(t *testing.T) {
	dir := t.TempDir()

	cfg, err := load([]string{"-static", dir}, env(nil))
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.StaticDir != dir {
		t.Errorf("StaticDir = %q, want %q", cfg.StaticDir, dir)
	}

	cfg, err = load(nil, env(map[string]string{"GRIPCTL_STATIC_DIR": dir}))
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.StaticDir != dir {
		t.Errorf("env StaticDir = %q, want %q", cfg.StaticDir, dir)
	}

	file := filepath.Join(dir, "index.html")
	if err := os.WriteFile(file, []byte("<html></html>"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	for _, bad := range []string{file, filepath.Join(dir, "missing")} {
		if _, err := load([]string{"-static", bad}, env(nil)); err == nil {
			t.Errorf("load(-static %s) should fail", bad)
		}
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{"bad flag", []string{"-no-such-flag"}, nil},
		{"missing file", []string{"-config", "/does/not/exist.json"}, nil},
		{"bad env int", nil, map[string]string{"GRIPCTL_BAUD": "fast"}},
		{"bad env duration", nil, map[string]string{"GRIPCTL_WRITE_TIMEOUT": "soon"}},
		{"invalid value", []string{"-confirm", "0"}, nil},
		{"unknown classifier", []string{"-classifier", "neural"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := load(tt.args, env(tt.env)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_Help(t *testing.T) {
	_, err := load([]string{"-h"}, env(nil))
	if !errors.Is(err, flag.ErrHelp) {
		t.Errorf("load(-h) error = %v, want flag.ErrHelp", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero baud", func(c *Config) { c.Baud = 0 }},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }},
		{"negative loss timeout", func(c *Config) { c.LossTimeout = -1 }},
		{"negative camera", func(c *Config) { c.CameraID = -1 }},
		{"confidence above one", func(c *Config) { c.MinConfidence = 1.5 }},
		{"negative retries", func(c *Config) { c.SourceRetries = -1 }},
		{"zero backoff", func(c *Config) { c.SourceBackoff = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDuration_JSON(t *testing.T) {
	var d Duration
	if err := d.UnmarshalJSON([]byte(`"1.5s"`)); err != nil || d.Std() != 1500*time.Millisecond {
		t.Errorf("UnmarshalJSON(string) = %s, %v", d.Std(), err)
	}
	if err := d.UnmarshalJSON([]byte(`1000`)); err != nil || d.Std() != time.Microsecond {
		t.Errorf("UnmarshalJSON(number) = %s, %v", d.Std(), err)
	}
	if err := d.UnmarshalJSON([]byte(`"later"`)); err == nil {
		t.Error("expected error for bad duration")
	}

	b, err := Duration(200 * time.Millisecond).MarshalJSON()
	if err != nil || string(b) != `"200ms"` {
		t.Errorf("MarshalJSON() = %s, %v", b, err)
	}
}
