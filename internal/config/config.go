// Package config loads captestlog settings from an optional TOML file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"captestlog/internal/framer"
	"captestlog/internal/serialport"
)

// EnvConfigPath names the config file when --config is not given.
const EnvConfigPath = "CAPTESTLOG_CONFIG"

// Config is the complete runtime configuration. The zero file yields the
// original behavior: /dev/ttyUSB0 at 115200 baud, logs in the working
// directory, one fsync per byte.
type Config struct {
	Device string `toml:"device"`
	Baud   int    `toml:"baud"`

	LogDir     string `toml:"log_dir"`
	FilePrefix string `toml:"file_prefix"`
	// Overwrite truncates a log started in the same minute instead of
	// numbering the new one.
	Overwrite bool `toml:"overwrite"`
	// SyncEvery is the number of payload bytes between fsyncs.
	SyncEvery int `toml:"sync_every"`

	Journal   string `toml:"journal"`
	Listen    string `toml:"listen"`
	MinFreeMB uint64 `toml:"min_free_mb"`
	LogLevel  string `toml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Device:     serialport.DefaultDevice,
		Baud:       serialport.DefaultBaud,
		LogDir:     ".",
		FilePrefix: framer.DefaultPrefix,
		SyncEvery:  1,
		MinFreeMB:  64,
		LogLevel:   "info",
	}
}

// Load reads path on top of the defaults. An empty path falls back to
// $CAPTESTLOG_CONFIG; if that is empty too the defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("config parse failed (%s): unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the capture cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Device) == "" {
		return fmt.Errorf("device is required")
	}
	if c.Baud <= 0 {
		return fmt.Errorf("baud must be positive, got %d", c.Baud)
	}
	if c.SyncEvery < 1 {
		return fmt.Errorf("sync_every must be at least 1, got %d", c.SyncEvery)
	}
	if strings.ContainsRune(c.FilePrefix, os.PathSeparator) {
		return fmt.Errorf("file_prefix must not contain %q", os.PathSeparator)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log_level %q", s)
	}
	return level, nil
}
