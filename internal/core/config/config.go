package config

import (
	"github.com/gearay/dingpiao/internal/infra/redisjournal"
	"github.com/gearay/dingpiao/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	Booking  BookingConfig       `yaml:"booking"`
	Storage  StorageConfig       `yaml:"storage"`
	Redis    redisjournal.Config `yaml:"redis"`
	Logging  LoggingConfig       `yaml:"logging"`
	Database postgres.Config     `yaml:"database"`
}

// ServerConfig holds HTTP status server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	Backend string `yaml:"backend"` // "memory" or "postgres"
}

// BookingConfig holds scheduler and execution settings.
type BookingConfig struct {
	ScanInterval    Duration `yaml:"scan_interval"`
	LeadTime        Duration `yaml:"lead_time"`
	Horizon         Duration `yaml:"horizon"`
	RetainTerminal  Duration `yaml:"retain_terminal"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	AuthTimeout     Duration `yaml:"auth_timeout"`
	MaxAttempts     int      `yaml:"max_attempts"`
}
