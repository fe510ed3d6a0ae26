package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	BLE      BLEConfig     `yaml:"ble"`
	Display  DisplayConfig `yaml:"display"`
	Status   StatusConfig  `yaml:"status"`
	LogLevel string        `yaml:"log_level"`
}

// BLEConfig holds radio and auto-connect settings.
type BLEConfig struct {
	Backend        string        `yaml:"backend"` // "tinygo" or "bluez"
	Adapter        string        `yaml:"adapter"`
	CompanyID      uint16        `yaml:"company_id"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Scan           ScanConfig    `yaml:"scan"`
}

// ScanConfig holds discovery parameters. Interval and window are in units
// of 0.625 ms.
type ScanConfig struct {
	Interval         uint16 `yaml:"interval"`
	Window           uint16 `yaml:"window"`
	Passive          bool   `yaml:"passive"`
	FilterDuplicates bool   `yaml:"filter_duplicates"`
}

// DisplayConfig holds settings for the device list screen.
type DisplayConfig struct {
	Refresh  time.Duration `yaml:"refresh"`
	Capacity int           `yaml:"capacity"` // bytes available for the device list text
}

// StatusConfig holds settings for the local status API.
type StatusConfig struct {
	Listen string `yaml:"listen"` // empty disables the API
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "handheld-ble")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		BLE: BLEConfig{
			Backend:        "tinygo",
			Adapter:        "hci0",
			CompanyID:      0x004C,
			ConnectTimeout: 30 * time.Second,
			Scan: ScanConfig{
				Interval:         0x50,
				Window:           0x30,
				FilterDuplicates: true,
			},
		},
		Display: DisplayConfig{
			Refresh:  100 * time.Millisecond,
			Capacity: 256,
		},
		Status: StatusConfig{
			Listen: "127.0.0.1:8085",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.BLE.Backend = strings.ToLower(cfg.BLE.Backend)

	return cfg, nil
}

// WriteDefault writes the default config to DefaultConfigPath unless a file
// already exists there. It returns the path either way.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.BLE.Backend {
	case "tinygo", "bluez":
	default:
		return fmt.Errorf("ble.backend must be \"tinygo\" or \"bluez\", got %q", c.BLE.Backend)
	}

	if c.BLE.Adapter == "" {
		return fmt.Errorf("ble.adapter must not be empty")
	}

	if c.BLE.ConnectTimeout <= 0 {
		return fmt.Errorf("ble.connect_timeout must be > 0")
	}

	// LE scan interval and window range: 0x0004..0x4000 (2.5 ms to 10.24 s).
	if c.BLE.Scan.Interval < 0x0004 || c.BLE.Scan.Interval > 0x4000 {
		return fmt.Errorf("ble.scan.interval must be between 0x0004 and 0x4000, got 0x%04X", c.BLE.Scan.Interval)
	}
	if c.BLE.Scan.Window < 0x0004 || c.BLE.Scan.Window > c.BLE.Scan.Interval {
		return fmt.Errorf("ble.scan.window must be between 0x0004 and the interval, got 0x%04X", c.BLE.Scan.Window)
	}

	if c.Display.Refresh <= 0 {
		return fmt.Errorf("display.refresh must be > 0")
	}

	if c.Display.Capacity <= 0 {
		return fmt.Errorf("display.capacity must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a log_level string to a slog.Level. Unknown values map
// to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
