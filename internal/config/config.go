// Package config provides configuration management for the traceability service.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (SERVER_PORT, DATABASE_HOST, QUALITY_MAX_MOISTURE, ...)
// 3. Default values
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Quality  QualityConfig  `mapstructure:"quality"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	ConnectAttempts int  `mapstructure:"connect_attempts"`
	AutoMigrate     bool `mapstructure:"auto_migrate"`
	Seed            bool `mapstructure:"seed"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslmode,
	)
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// QualityConfig contains the laboratory pass/fail thresholds.
type QualityConfig struct {
	// MaxMoisture is the moisture-content ceiling in percent.
	MaxMoisture float64 `mapstructure:"max_moisture"`
	// PesticideExpected is the only accepted pesticide residue report.
	PesticideExpected string `mapstructure:"pesticide_expected"`
	// DNAExpected is the only accepted DNA authenticity report.
	DNAExpected string `mapstructure:"dna_expected"`
}

// LedgerConfig contains append and product settings.
type LedgerConfig struct {
	// MaxAppendAttempts bounds optimistic-concurrency retries per append.
	MaxAppendAttempts int `mapstructure:"max_append_attempts"`
	// ShelfLifeYears sets product expiry relative to manufacturing date.
	ShelfLifeYears int `mapstructure:"shelf_life_years"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/herbtrace")

	// Maps nested config: database.max_moisture → DATABASE_MAX_MOISTURE
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Quality.MaxMoisture <= 0 {
		return fmt.Errorf("quality.max_moisture must be positive")
	}
	if c.Ledger.MaxAppendAttempts < 1 {
		return fmt.Errorf("ledger.max_append_attempts must be at least 1")
	}
	if c.Ledger.ShelfLifeYears < 1 {
		return fmt.Errorf("ledger.shelf_life_years must be at least 1")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgrespassword")
	v.SetDefault("database.database", "herbtrace")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.connect_attempts", 10)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.seed", true)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Quality gates
	v.SetDefault("quality.max_moisture", 12.0)
	v.SetDefault("quality.pesticide_expected", "Not Detected")
	v.SetDefault("quality.dna_expected", "Confirmed")

	// Ledger
	v.SetDefault("ledger.max_append_attempts", 3)
	v.SetDefault("ledger.shelf_life_years", 2)
}
