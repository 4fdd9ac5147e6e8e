package config

import (
	"fmt"
	"time"
)

// Config holds server configuration
type Config struct {
	// Server settings
	Port int
	Host string

	// Policy settings
	PolicyDirectory string
	SchemaPath      string

	// Controller settings
	TickInterval        time.Duration
	EnforceTimeout      time.Duration
	IdempotencyTTL      time.Duration
	MaxConcurrentCycles int

	// Flag sink settings
	SinkType    string // "http" or "memory"
	FlagsURL    string
	SinkTimeout time.Duration

	// Audit storage settings
	DatabasePath string

	// Operational settings
	GracefulShutdownTimeout time.Duration
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.SchemaPath == "" {
		return fmt.Errorf("schema path is required")
	}

	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}

	if c.EnforceTimeout <= 0 {
		return fmt.Errorf("enforce timeout must be positive")
	}

	if c.MaxConcurrentCycles <= 0 {
		return fmt.Errorf("max concurrent cycles must be positive")
	}

	if c.SinkType != "http" && c.SinkType != "memory" {
		return fmt.Errorf("sink type must be 'http' or 'memory'")
	}

	if c.SinkType == "http" && c.FlagsURL == "" {
		return fmt.Errorf("flags URL required when sink type is 'http'")
	}

	return nil
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Port:                    8080,
		Host:                    "0.0.0.0",
		SchemaPath:              "schemas/policy_v1.json",
		TickInterval:            time.Minute,
		EnforceTimeout:          10 * time.Second,
		IdempotencyTTL:          24 * time.Hour,
		MaxConcurrentCycles:     8,
		SinkType:                "memory",
		SinkTimeout:             10 * time.Second,
		DatabasePath:            "bandit_audit.db",
		GracefulShutdownTimeout: 30 * time.Second,
	}
}
