package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Booking.ScanInterval == 0 {
		cfg.Booking.ScanInterval = Duration(10 * time.Millisecond)
	}
	if cfg.Booking.LeadTime == 0 {
		cfg.Booking.LeadTime = Duration(5 * time.Minute)
	}
	if cfg.Booking.Horizon == 0 {
		cfg.Booking.Horizon = Duration(30 * 24 * time.Hour)
	}
	if cfg.Booking.RetainTerminal == 0 {
		cfg.Booking.RetainTerminal = Duration(24 * time.Hour)
	}
	if cfg.Booking.ShutdownTimeout == 0 {
		cfg.Booking.ShutdownTimeout = Duration(30 * time.Second)
	}
	if cfg.Booking.AuthTimeout == 0 {
		cfg.Booking.AuthTimeout = Duration(2 * time.Minute)
	}
	if cfg.Booking.MaxAttempts == 0 {
		cfg.Booking.MaxAttempts = 3
	}
}
