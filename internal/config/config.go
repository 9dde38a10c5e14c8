// Package config loads the host CLI's configuration from an optional
// YAML file overlaid with command-line flags, the same two-layer shape
// used elsewhere in the pack for serial-link tooling.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds everything cmd/sfp-pipe and cmd/sfp-monitor need to open
// a link and wire its ambient stack.
type Config struct {
	SerialPort  string `yaml:"serial_port"`
	BaudRate    int    `yaml:"baud_rate"`
	HistorySize int    `yaml:"history_size"`

	RedisAddr   string `yaml:"redis_addr"`
	RedisPass   string `yaml:"redis_password"`
	RedisDB     int    `yaml:"redis_db"`
	AuditDBPath string `yaml:"audit_db_path"`
	Verbose     bool   `yaml:"verbose"`
}

func defaults() Config {
	return Config{
		SerialPort:  "/dev/ttyUSB0",
		BaudRate:    115200,
		HistorySize: 32,
		RedisAddr:   "localhost:6379",
		RedisDB:     0,
	}
}

// Load builds a Config starting from built-in defaults, overlaying a
// YAML file at path (if non-empty and present), then overlaying the
// parsed flag set. The file always wins over defaults. A flag wins over
// the file only when it carries a non-empty, non-zero value (for
// --redis-db, a non-negative one), so --verbose=false does not turn off
// a verbose: true from the file.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyFlagOverrides(&cfg, flags)
	return cfg, nil
}

// RegisterFlags binds the overridable fields onto flags, in the
// GNU-style long-flag convention pflag provides.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("serial-port", "", "Serial device path (overrides config file)")
	flags.Int("baud-rate", 0, "Serial baud rate (overrides config file)")
	flags.Int("history-size", 0, "Retransmission history window size (overrides config file)")
	flags.String("redis-addr", "", "Redis address for telemetry (overrides config file)")
	flags.String("redis-password", "", "Redis password for telemetry")
	flags.Int("redis-db", -1, "Redis logical database number")
	flags.String("audit-db", "", "Path to the SQLite audit database")
	flags.BoolP("verbose", "v", false, "Enable debug-level logging")
}

func applyFlagOverrides(cfg *Config, flags *pflag.FlagSet) {
	if flags == nil {
		return
	}
	if v, err := flags.GetString("serial-port"); err == nil && v != "" {
		cfg.SerialPort = v
	}
	if v, err := flags.GetInt("baud-rate"); err == nil && v != 0 {
		cfg.BaudRate = v
	}
	if v, err := flags.GetInt("history-size"); err == nil && v != 0 {
		cfg.HistorySize = v
	}
	if v, err := flags.GetString("redis-addr"); err == nil && v != "" {
		cfg.RedisAddr = v
	}
	if v, err := flags.GetString("redis-password"); err == nil && v != "" {
		cfg.RedisPass = v
	}
	if v, err := flags.GetInt("redis-db"); err == nil && v >= 0 {
		cfg.RedisDB = v
	}
	if v, err := flags.GetString("audit-db"); err == nil && v != "" {
		cfg.AuditDBPath = v
	}
	if v, err := flags.GetBool("verbose"); err == nil && v {
		cfg.Verbose = true
	}
}
