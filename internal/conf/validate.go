// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// storedProcedurePattern limits procedure names to identifiers that are safe to
// splice into an EXEC statement
var storedProcedurePattern = regexp.MustCompile(`^[A-Za-z0-9_.\[\]]+$`)

// ValidStoredProcedure reports whether name may be used in an EXEC statement
func ValidStoredProcedure(name string) bool {
	return storedProcedurePattern.MatchString(name)
}

// ValidateSettings validates everything except the environment bundles, which
// are checked after resolution because overrides and fallback contribute to them.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if len(settings.Environments) == 0 {
		ve.Errors = append(ve.Errors, "no environments defined")
	} else if _, ok := settings.Environments[settings.Environment]; !ok {
		names := settings.EnvironmentNames()
		slices.Sort(names)
		ve.Errors = append(ve.Errors, fmt.Sprintf("active environment %q is not defined (have %s)",
			settings.Environment, strings.Join(names, ", ")))
	}

	ve.Errors = append(ve.Errors, validateSyncSettings(&settings.Sync)...)

	if settings.HTTP.Timeout <= 0 {
		ve.Errors = append(ve.Errors, "http.timeout must be greater than zero")
	}

	if settings.Journal.Enabled && settings.Journal.Path == "" {
		ve.Errors = append(ve.Errors, "journal.path is required when the journal is enabled")
	}

	if settings.Events.BufferSize < 1 || settings.Events.Workers < 1 {
		ve.Errors = append(ve.Errors, "events.buffer_size and events.workers must be at least 1")
	}
	if settings.Events.DedupWindow < 0 {
		ve.Errors = append(ve.Errors, "events.dedup_window must not be negative")
	}

	if settings.MQTT.Enabled {
		if settings.MQTT.Broker == "" {
			ve.Errors = append(ve.Errors, "mqtt.broker is required when MQTT is enabled")
		} else if _, err := url.Parse(settings.MQTT.Broker); err != nil {
			ve.Errors = append(ve.Errors, fmt.Sprintf("mqtt.broker is not a valid URL: %v", err))
		}
		if settings.MQTT.Topic == "" {
			ve.Errors = append(ve.Errors, "mqtt.topic is required when MQTT is enabled")
		}
	}

	if settings.Notification.Enabled && len(settings.Notification.URLs) == 0 {
		ve.Errors = append(ve.Errors, "notification.urls must list at least one service URL")
	}

	if settings.API.Enabled {
		if _, _, err := net.SplitHostPort(settings.API.Listen); err != nil {
			ve.Errors = append(ve.Errors, fmt.Sprintf("api.listen must be host:port: %v", err))
		}
		if (settings.API.Username == "") != (settings.API.Password == "") {
			ve.Errors = append(ve.Errors, "api.username and api.password must be set together")
		}
	}

	if settings.Metrics.Enabled && settings.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(settings.Metrics.Listen); err != nil {
			ve.Errors = append(ve.Errors, fmt.Sprintf("metrics.listen must be host:port: %v", err))
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateSyncSettings(s *SyncSettings) []string {
	var errs []string
	if s.Interval <= 0 {
		errs = append(errs, "sync.interval must be greater than zero")
	}
	if s.ErrorBackoff < 0 {
		errs = append(errs, "sync.error_backoff must not be negative")
	}
	if s.BulkDelay < 0 {
		errs = append(errs, "sync.bulk_delay must not be negative")
	}
	if s.QueueSize <= 0 {
		errs = append(errs, "sync.queue_size must be greater than zero")
	}
	return errs
}

// ValidateEnvironment checks the fields a resolved environment cannot run without
func ValidateEnvironment(env *Environment) error {
	ve := ValidationError{}
	missing := func(field string) {
		ve.Errors = append(ve.Errors, fmt.Sprintf("%s: %s is required", env.Name, field))
	}

	if env.SourceDB.Host == "" {
		missing("source_db.host")
	}
	if env.SourceDB.User == "" {
		missing("source_db.user")
	}
	if env.SourceDB.Database == "" {
		missing("source_db.database")
	}
	if env.SourceDB.CategoryID == 0 {
		missing("source_db.category_id")
	}
	if env.SourceDB.Port <= 0 || env.SourceDB.Port > 65535 {
		ve.Errors = append(ve.Errors, fmt.Sprintf("%s: source_db.port %d is out of range", env.Name, env.SourceDB.Port))
	}

	if env.PhotoDB.Server == "" {
		missing("photo_db.server")
	}
	if env.PhotoDB.Database == "" {
		missing("photo_db.database")
	}
	switch {
	case env.PhotoDB.StoredProcedure == "":
		missing("photo_db.stored_procedure")
	case !ValidStoredProcedure(env.PhotoDB.StoredProcedure):
		ve.Errors = append(ve.Errors, fmt.Sprintf("%s: photo_db.stored_procedure %q contains invalid characters",
			env.Name, env.PhotoDB.StoredProcedure))
	}

	if env.Device.BaseURL == "" {
		missing("device.base_url")
	} else if u, err := url.Parse(env.Device.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		ve.Errors = append(ve.Errors, fmt.Sprintf("%s: device.base_url %q is not an absolute URL", env.Name, env.Device.BaseURL))
	}
	if env.Device.Login == "" {
		missing("device.login")
	}
	if env.Device.DefaultGroupID <= 0 {
		ve.Errors = append(ve.Errors, fmt.Sprintf("%s: device.default_group_id must be greater than zero", env.Name))
	}

	if env.Storage.TempFolder == "" {
		missing("storage.temp_folder")
	}
	if ext := env.Storage.ImageExtension; ext == "" || !strings.HasPrefix(ext, ".") {
		ve.Errors = append(ve.Errors, fmt.Sprintf("%s: storage.image_extension %q must start with a dot", env.Name, ext))
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}
