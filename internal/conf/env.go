// env.go - environment variable configuration and validation
package conf

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the service reads
const EnvPrefix = "CIDSYNC_"

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns the global setting bindings. Per-environment
// connection overrides (CIDSYNC_SOURCE_DB_HOST, ...) are applied by the
// environment resolver on the active bundle.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"environment", EnvPrefix + "ENVIRONMENT", nil},
		{"debug", EnvPrefix + "DEBUG", validateEnvBool},

		{"sync.interval", EnvPrefix + "SYNC_INTERVAL", validateEnvDuration},
		{"sync.error_backoff", EnvPrefix + "SYNC_ERROR_BACKOFF", validateEnvDuration},
		{"sync.bulk_delay", EnvPrefix + "SYNC_BULK_DELAY", validateEnvDuration},
		{"sync.queue_size", EnvPrefix + "SYNC_QUEUE_SIZE", validateEnvPositiveInt},

		{"http.timeout", EnvPrefix + "HTTP_TIMEOUT", validateEnvDuration},

		{"logging.default_level", EnvPrefix + "LOG_LEVEL", validateEnvLogLevel},
		{"logging.file_output.path", EnvPrefix + "LOG_FILE", nil},

		{"journal.enabled", EnvPrefix + "JOURNAL_ENABLED", validateEnvBool},
		{"journal.path", EnvPrefix + "JOURNAL_PATH", nil},

		{"mqtt.enabled", EnvPrefix + "MQTT_ENABLED", validateEnvBool},
		{"mqtt.broker", EnvPrefix + "MQTT_BROKER", nil},
		{"mqtt.username", EnvPrefix + "MQTT_USERNAME", nil},
		{"mqtt.password", EnvPrefix + "MQTT_PASSWORD", nil},

		{"api.listen", EnvPrefix + "API_LISTEN", validateEnvListen},
		{"api.username", EnvPrefix + "API_USERNAME", nil},
		{"api.password", EnvPrefix + "API_PASSWORD", nil},
	}
}

// bindEnvVars binds every environment variable and validates the ones that are set
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value '%s': %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return ValidationError{Errors: warnings}
	}
	return nil
}

// loadDotEnv loads .env from the working directory and from the config file's
// directory. Variables already present in the process win.
func loadDotEnv(configFile string) error {
	candidates := []string{".env"}
	if configFile != "" {
		if dir := filepath.Dir(configFile); dir != "." {
			candidates = append(candidates, filepath.Join(dir, ".env"))
		}
	}

	var errs []error
	for _, path := range candidates {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true/false, 1/0, t/f")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if d < 0 {
		return fmt.Errorf("duration must not be negative")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("must be greater than zero, got %d", n)
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(value) {
	case "trace", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("must be one of trace, debug, info, warn, error")
}

func validateEnvListen(value string) error {
	if _, _, err := net.SplitHostPort(value); err != nil {
		return fmt.Errorf("must be host:port: %w", err)
	}
	return nil
}
