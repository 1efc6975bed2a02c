// Package config provides server configuration loaded from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Config holds livequery server configuration.
type Config struct {
	// HTTP listener and websocket endpoint
	HTTPAddr           string        `envconfig:"LIVEQUERY_HTTP_ADDR" default:":8080"`
	WSPath             string        `envconfig:"LIVEQUERY_WS_PATH" default:"/ws"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Database (empty = in-memory store)
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`

	// COMMS: optional NATS connection for invalidation events (empty = disabled).
	COMMSURL            string `envconfig:"COMMS_URL"`
	COMMSName           string `envconfig:"SERVICE_NAME" default:"livequery"`
	InvalidationSubject string `envconfig:"LIVEQUERY_INVALIDATION_SUBJECT"`

	// Connections
	WriteTimeout       time.Duration `envconfig:"LIVEQUERY_WRITE_TIMEOUT" default:"5s"`
	MessageRate        float64       `envconfig:"LIVEQUERY_MESSAGE_RATE" default:"0"`
	MessageBurst       int           `envconfig:"LIVEQUERY_MESSAGE_BURST" default:"20"`
	BroadcastWorkers   int           `envconfig:"LIVEQUERY_BROADCAST_WORKERS" default:"16"`
	ProtocolConstraint string        `envconfig:"LIVEQUERY_PROTOCOL_CONSTRAINT" default:"^1.0.0"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ValidateForServe checks required config when running the server.
func (c *Config) ValidateForServe() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("%s - LIVEQUERY_HTTP_ADDR is required for serve", logPrefix)
	}
	if len(c.WSPath) == 0 || c.WSPath[0] != '/' {
		return fmt.Errorf("%s - LIVEQUERY_WS_PATH must start with /", logPrefix)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%s - LIVEQUERY_WRITE_TIMEOUT must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if c.MessageRate < 0 {
		return fmt.Errorf("%s - LIVEQUERY_MESSAGE_RATE must not be negative", logPrefix)
	}
	if c.MessageRate > 0 && c.MessageBurst <= 0 {
		return fmt.Errorf("%s - LIVEQUERY_MESSAGE_BURST must be positive when a rate is set", logPrefix)
	}
	if c.BroadcastWorkers <= 0 {
		return fmt.Errorf("%s - LIVEQUERY_BROADCAST_WORKERS must be positive", logPrefix)
	}
	if _, err := semver.NewConstraint(c.ProtocolConstraint); err != nil {
		return fmt.Errorf("%s - LIVEQUERY_PROTOCOL_CONSTRAINT %q is invalid: %w", logPrefix, c.ProtocolConstraint, err)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}
