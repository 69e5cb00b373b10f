// Package api provides the HTTP control server of the synchronization service.
// The JSON endpoints are organized in the v1 subpackage.
package api

import (
	"net"
	"time"

	"github.com/wilfranr/control-id-miid/internal/conf"
	"github.com/wilfranr/control-id-miid/internal/errors"
	"github.com/wilfranr/control-id-miid/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 2 * time.Minute // a reconcile request waits for the device
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen string // host:port

	// Basic auth, disabled when Username is empty
	Username string
	Password string

	// Serve /metrics on this server
	Metrics bool

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	BodyLimit string // e.g. "64K"
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          "127.0.0.1:8088",
		Metrics:         true,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       "64K",
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	if settings.API.Listen != "" {
		cfg.Listen = settings.API.Listen
	}
	cfg.Username = settings.API.Username
	cfg.Password = settings.API.Password
	// a dedicated listener takes /metrics off the control API
	cfg.Metrics = settings.Metrics.Enabled && settings.Metrics.Listen == ""
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return configError("listen address must be host:port")
	}
	if (c.Username == "") != (c.Password == "") {
		return configError("username and password must be set together")
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return configError("timeouts must be positive")
	}
	return nil
}

// AuthEnabled reports whether requests need basic auth
func (c *Config) AuthEnabled() bool {
	return c.Username != ""
}

func configError(msg string) error {
	return errors.Newf("invalid API configuration: %s", msg).
		Component("api").
		Category(errors.CategoryConfiguration).
		Build()
}
