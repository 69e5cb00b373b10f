package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnvironment() Environment {
	return Environment{
		Name: "DEV",
		SourceDB: SourceDBSettings{
			Host: "127.0.0.1", Port: 3306, User: "miid", Database: "miid", CategoryID: 11000, SuccessStatus: 1,
		},
		PhotoDB: PhotoDBSettings{
			Server: "127.0.0.1", Port: 1433, Database: "photos", StoredProcedure: "[dbo].[GetImage]", BusinessContext: "MatchId",
		},
		Device:  DeviceSettings{BaseURL: "http://device.local", Login: "admin", DefaultGroupID: 1},
		Storage: StorageSettings{TempFolder: "/tmp/controlid-sync", ImageExtension: ".jpg"},
	}
}

func TestValidateEnvironment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Environment)
		wantErr string
	}{
		{"valid", func(*Environment) {}, ""},
		{"missing group id", func(e *Environment) { e.Device.DefaultGroupID = 0 }, "default_group_id"},
		{"missing host", func(e *Environment) { e.SourceDB.Host = "" }, "source_db.host is required"},
		{"missing category", func(e *Environment) { e.SourceDB.CategoryID = 0 }, "source_db.category_id"},
		{"bad procedure", func(e *Environment) { e.PhotoDB.StoredProcedure = "sp; DROP TABLE x" }, "invalid characters"},
		{"relative device url", func(e *Environment) { e.Device.BaseURL = "device.local" }, "absolute URL"},
		{"extension without dot", func(e *Environment) { e.Storage.ImageExtension = "jpg" }, "must start with a dot"},
		{"bad port", func(e *Environment) { e.SourceDB.Port = 70000 }, "out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := validEnvironment()
			tt.mutate(&env)
			err := ValidateEnvironment(&env)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateSettings_CollectsAllProblems(t *testing.T) {
	t.Parallel()

	settings := &Settings{
		Environment:  "DEV",
		Environments: map[string]Environment{"DEV": validEnvironment()},
		Sync:         SyncSettings{Interval: 0, QueueSize: 0},
		HTTP:         HTTPSettings{Timeout: time.Second},
		MQTT:         MQTTSettings{Enabled: true},
		API:          APISettings{Enabled: true, Listen: "nope", Username: "ops"},
	}

	err := ValidateSettings(settings)
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.GreaterOrEqual(t, len(ve.Errors), 5)
	assert.Contains(t, ve.Error(), "sync.interval")
	assert.Contains(t, ve.Error(), "mqtt.broker")
	assert.Contains(t, ve.Error(), "api.listen")
	assert.Contains(t, ve.Error(), "set together")
}

func TestValidStoredProcedure(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidStoredProcedure("dbo.GetImage"))
	assert.True(t, ValidStoredProcedure("[photos].[dbo].[Get_Image]"))
	assert.False(t, ValidStoredProcedure("GetImage @x=1"))
	assert.False(t, ValidStoredProcedure(""))
}
