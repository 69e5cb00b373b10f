package conf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
environment: dev
environments:
  dev:
    source_db:
      host: 127.0.0.1
      user: miid
      database: miid
      category_id: 11000
    photo_db:
      server: 127.0.0.1
      database: photos
      stored_procedure: dbo.GetImage
    device:
      base_url: http://device.local
      default_group_id: 7
  prod:
    source_db:
      host: db.prod
      user: miid
      database: miid
      category_id: 3000
    device:
      base_url: http://10.0.0.20
      default_group_id: 1
sync:
  interval: 15s
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_ReadsFileAndDefaults(t *testing.T) {
	path := writeConfig(t, testConfig)

	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEV", settings.Environment)
	assert.ElementsMatch(t, []string{"DEV", "PROD"}, settings.EnvironmentNames())
	assert.Equal(t, "DEV", settings.Environments["DEV"].Name)
	assert.Equal(t, int64(7), settings.Environments["DEV"].Device.DefaultGroupID)
	assert.Equal(t, path, settings.ConfigFile)

	assert.Equal(t, 15*time.Second, settings.Sync.Interval)
	assert.Equal(t, 5*time.Second, settings.Sync.ErrorBackoff)
	assert.Equal(t, 200*time.Millisecond, settings.Sync.BulkDelay)
	assert.Equal(t, 30*time.Second, settings.HTTP.Timeout)

	assert.Equal(t, DefaultMySQLPort, settings.Fallback.SourceDB.Port)
	assert.Equal(t, DefaultBusinessContext, settings.Fallback.PhotoDB.BusinessContext)
	assert.Equal(t, DefaultImageExtension, settings.Fallback.Storage.ImageExtension)
	assert.Equal(t, DefaultDeviceLogin, settings.Fallback.Device.Login)

	require.NotNil(t, settings.Logging.FileOutput)
	assert.Equal(t, 5, settings.Logging.FileOutput.MaxSize)
	assert.Equal(t, 3, settings.Logging.FileOutput.MaxBackups)

	assert.Same(t, settings, GetSettings())
}

func TestLoad_EnvironmentVariableOverrides(t *testing.T) {
	path := writeConfig(t, testConfig)
	t.Setenv("CIDSYNC_ENVIRONMENT", "prod")
	t.Setenv("CIDSYNC_SYNC_INTERVAL", "1m")
	t.Setenv("CIDSYNC_API_LISTEN", "0.0.0.0:9000")

	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "PROD", settings.Environment)
	assert.Equal(t, time.Minute, settings.Sync.Interval)
	assert.Equal(t, "0.0.0.0:9000", settings.API.Listen)
}

func TestLoad_InvalidEnvironmentVariable(t *testing.T) {
	path := writeConfig(t, testConfig)
	t.Setenv("CIDSYNC_SYNC_INTERVAL", "often")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CIDSYNC_SYNC_INTERVAL")
}

func TestLoad_DotEnv(t *testing.T) {
	path := writeConfig(t, testConfig)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), ".env"),
		[]byte("CIDSYNC_MQTT_USERNAME=from-dotenv\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("CIDSYNC_MQTT_USERNAME") })

	settings, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", settings.MQTT.Username)
}

func TestLoad_UndefinedActiveEnvironment(t *testing.T) {
	path := writeConfig(t, strings.Replace(testConfig, "environment: dev", "environment: staging", 1))

	_, err := Load(path)
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Error(), `"STAGING" is not defined`)
}

func TestLoad_CreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	settings, err := Load(path)
	require.NoError(t, err)

	assert.FileExists(t, path)
	assert.Equal(t, "DEV", settings.Environment)
	assert.Contains(t, settings.Environments, "PROD")
	assert.Equal(t, 11000, settings.Environments["DEV"].SourceDB.CategoryID)
	assert.Equal(t, 3000, settings.Environments["PROD"].SourceDB.CategoryID)
}

func TestPersistActiveEnvironment_KeepsComments(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "# operator notes\nenvironment: DEV # active\nsync:\n  interval: 10s\n")

	require.NoError(t, PersistActiveEnvironment(path, "prod"))

	data, err := os.ReadFile(path) //nolint:gosec // t.TempDir path
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "# operator notes")
	assert.Contains(t, content, "environment: PROD")
	assert.Contains(t, content, "interval: 10s")
}

func TestPersistActiveEnvironment_AddsMissingKey(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "sync:\n  interval: 10s\n")
	require.NoError(t, PersistActiveEnvironment(path, "DEV"))

	data, err := os.ReadFile(path) //nolint:gosec // t.TempDir path
	require.NoError(t, err)
	assert.Contains(t, string(data), "environment: DEV")

	require.Error(t, PersistActiveEnvironment("", "DEV"))
}
