// conf/defaults.go default values for settings
package conf

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Built-in fallback values for settings a named environment may leave out
const (
	DefaultMySQLPort       = 3306
	DefaultSQLServerPort   = 1433
	DefaultSuccessStatus   = 1
	DefaultBusinessContext = "MatchId"
	DefaultImageExtension  = ".jpg"
	DefaultDeviceLogin     = "admin"
	DefaultConnectTimeout  = 10 * time.Second
	DefaultJournalPath     = "data/journal.db"
)

// DefaultTempFolder is where photos land when no environment names a folder
func DefaultTempFolder() string {
	return filepath.Join(os.TempDir(), "controlid-sync")
}

// setDefaultConfig registers default values for every configuration key
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("environment", "DEV")

	v.SetDefault("fallback.source_db.port", DefaultMySQLPort)
	v.SetDefault("fallback.source_db.success_status", DefaultSuccessStatus)
	v.SetDefault("fallback.source_db.connect_timeout", DefaultConnectTimeout)
	v.SetDefault("fallback.photo_db.port", DefaultSQLServerPort)
	v.SetDefault("fallback.photo_db.business_context", DefaultBusinessContext)
	v.SetDefault("fallback.photo_db.connect_timeout", DefaultConnectTimeout)
	v.SetDefault("fallback.device.login", DefaultDeviceLogin)
	v.SetDefault("fallback.storage.temp_folder", DefaultTempFolder())
	v.SetDefault("fallback.storage.image_extension", DefaultImageExtension)

	v.SetDefault("sync.interval", 10*time.Second)
	v.SetDefault("sync.error_backoff", 5*time.Second)
	v.SetDefault("sync.bulk_delay", 200*time.Millisecond)
	v.SetDefault("sync.queue_size", 32)

	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.user_agent", "controlid-sync")

	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", true)
	v.SetDefault("logging.file_output.path", "logs/controlid-sync.log")
	v.SetDefault("logging.file_output.level", "info")
	v.SetDefault("logging.file_output.max_size", 5)
	v.SetDefault("logging.file_output.max_backups", 3)

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", DefaultJournalPath)

	v.SetDefault("events.buffer_size", 256)
	v.SetDefault("events.workers", 2)
	v.SetDefault("events.dedup_window", 5*time.Minute)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "controlid-sync/outcomes")
	v.SetDefault("mqtt.client_id", "controlid-sync")
	v.SetDefault("mqtt.retain", false)

	v.SetDefault("notification.enabled", false)
	v.SetDefault("notification.urls", []string{})
	v.SetDefault("notification.timeout", 10*time.Second)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", "127.0.0.1:8088")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", "")
}
