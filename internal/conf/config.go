package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/wilfranr/control-id-miid/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// SourceDBSettings locate the MySQL enrollment store
type SourceDBSettings struct {
	Host           string        `yaml:"host" mapstructure:"host"`
	Port           int           `yaml:"port" mapstructure:"port"`
	User           string        `yaml:"user" mapstructure:"user"`
	Password       string        `yaml:"password" mapstructure:"password"`
	Database       string        `yaml:"database" mapstructure:"database"`
	CategoryID     int           `yaml:"category_id" mapstructure:"category_id"`         // EC_ID filter
	SuccessStatus  int           `yaml:"success_status" mapstructure:"success_status"`   // LP_STATUS_PROCESS that qualifies
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"` // dial and read timeout
}

// PhotoDBSettings locate the SQL Server photo store
type PhotoDBSettings struct {
	Server          string        `yaml:"server" mapstructure:"server"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Database        string        `yaml:"database" mapstructure:"database"`
	StoredProcedure string        `yaml:"stored_procedure" mapstructure:"stored_procedure"`
	BusinessContext string        `yaml:"business_context" mapstructure:"business_context"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
}

// DeviceSettings locate the access-control device API
type DeviceSettings struct {
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	Login          string `yaml:"login" mapstructure:"login"`
	Password       string `yaml:"password" mapstructure:"password"`
	DefaultGroupID int64  `yaml:"default_group_id" mapstructure:"default_group_id"`
}

// StorageSettings control where downloaded photos are written
type StorageSettings struct {
	TempFolder     string `yaml:"temp_folder" mapstructure:"temp_folder"`
	ImageExtension string `yaml:"image_extension" mapstructure:"image_extension"`
}

// Environment is one named bundle of connection settings (DEV, PROD, ...)
type Environment struct {
	Name     string           `yaml:"-" mapstructure:"-"`
	SourceDB SourceDBSettings `yaml:"source_db" mapstructure:"source_db"`
	PhotoDB  PhotoDBSettings  `yaml:"photo_db" mapstructure:"photo_db"`
	Device   DeviceSettings   `yaml:"device" mapstructure:"device"`
	Storage  StorageSettings  `yaml:"storage" mapstructure:"storage"`
}

// SyncSettings tune the poll loop and bulk passes
type SyncSettings struct {
	Interval     time.Duration `yaml:"interval" mapstructure:"interval"`           // wait between poll cycles
	ErrorBackoff time.Duration `yaml:"error_backoff" mapstructure:"error_backoff"` // wait after a failed cycle
	BulkDelay    time.Duration `yaml:"bulk_delay" mapstructure:"bulk_delay"`       // pause between bulk records
	QueueSize    int           `yaml:"queue_size" mapstructure:"queue_size"`       // pending device mutations
}

// HTTPSettings apply to the device API and photo downloads
type HTTPSettings struct {
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent string        `yaml:"user_agent" mapstructure:"user_agent"`
}

// JournalSettings configure the local outcome audit trail
type JournalSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// EventsSettings configures the outcome fan-out to MQTT and notifications
type EventsSettings struct {
	BufferSize  int           `yaml:"buffer_size" mapstructure:"buffer_size"`
	Workers     int           `yaml:"workers" mapstructure:"workers"`
	DedupWindow time.Duration `yaml:"dedup_window" mapstructure:"dedup_window"` // identical outcomes are forwarded once per window
}

// MQTTSettings contains settings for outcome publishing
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Broker   string `yaml:"broker" mapstructure:"broker"`
	Topic    string `yaml:"topic" mapstructure:"topic"`
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Retain   bool   `yaml:"retain" mapstructure:"retain"`
}

// NotificationSettings holds shoutrrr service URLs for failure alerts
type NotificationSettings struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	URLs    []string      `yaml:"urls" mapstructure:"urls"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// APISettings configure the local control API
type APISettings struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen   string `yaml:"listen" mapstructure:"listen"`
	Username string `yaml:"username" mapstructure:"username"` // basic auth, disabled when empty
	Password string `yaml:"password" mapstructure:"password"`
}

// MetricsSettings controls the Prometheus endpoint
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"` // dedicated listener, empty serves /metrics on the control API
}

// Settings is the root configuration
type Settings struct {
	Debug bool `yaml:"debug" mapstructure:"debug"`

	// Environment is the active environment name
	Environment  string                 `yaml:"environment" mapstructure:"environment"`
	Environments map[string]Environment `yaml:"environments" mapstructure:"environments"`
	// Fallback supplies values missing from a named environment
	Fallback Environment `yaml:"fallback" mapstructure:"fallback"`

	Sync         SyncSettings         `yaml:"sync" mapstructure:"sync"`
	HTTP         HTTPSettings         `yaml:"http" mapstructure:"http"`
	Logging      logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Journal      JournalSettings      `yaml:"journal" mapstructure:"journal"`
	Events       EventsSettings       `yaml:"events" mapstructure:"events"`
	MQTT         MQTTSettings         `yaml:"mqtt" mapstructure:"mqtt"`
	Notification NotificationSettings `yaml:"notification" mapstructure:"notification"`
	API          APISettings          `yaml:"api" mapstructure:"api"`
	Metrics      MetricsSettings      `yaml:"metrics" mapstructure:"metrics"`

	// ConfigFile is the file the settings were read from
	ConfigFile string `yaml:"-" mapstructure:"-"`
}

// NormalizeEnvironmentName upper-cases environment names. Viper lower-cases map
// keys, so names are compared in one canonical form.
func NormalizeEnvironmentName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// EnvironmentNames returns the configured environment names
func (s *Settings) EnvironmentNames() []string {
	names := make([]string, 0, len(s.Environments))
	for name := range s.Environments {
		names = append(names, name)
	}
	return names
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configFile, or the first config.yaml found in the default paths,
// applies .env and CIDSYNC_* overrides and validates the result. A default
// config is written when no file exists.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	v := viper.New()
	if err := initViper(v, configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	settings.ConfigFile = v.ConfigFileUsed()
	normalizeEnvironments(settings)

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// GetSettings returns the settings of the last successful Load
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

func normalizeEnvironments(settings *Settings) {
	settings.Environment = NormalizeEnvironmentName(settings.Environment)

	envs := make(map[string]Environment, len(settings.Environments))
	for name, env := range settings.Environments {
		key := NormalizeEnvironmentName(name)
		env.Name = key
		envs[key] = env
	}
	settings.Environments = envs
}

// initViper sets defaults, environment bindings and reads the config file
func initViper(v *viper.Viper, configFile string) error {
	setDefaultConfig(v)

	if err := loadDotEnv(configFile); err != nil {
		GetLogger().Warn("failed to load .env file", logger.Error(err))
	}
	if err := bindEnvVars(v); err != nil {
		return err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return createDefaultConfig(v, configFile)
			}
			return fmt.Errorf("fatal error reading config file: %w", err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig(v, defaultConfigTarget(configPaths))
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the embedded config.yaml to configPath and reads it
func createDefaultConfig(v *viper.Viper, configPath string) error {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))

	v.SetConfigFile(configPath)
	return v.ReadInConfig()
}

// DefaultConfig returns the embedded default configuration
func DefaultConfig() []byte {
	data, _ := fs.ReadFile(configFiles, "config.yaml")
	return data
}
