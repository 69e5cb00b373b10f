package environment

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/wilfranr/control-id-miid/internal/conf"
)

// override maps one CIDSYNC_* variable onto a field of the resolved environment
type override struct {
	key   string // viper key, also the variable suffix with dots as underscores
	apply func(env *conf.Environment, value string) error
}

func (o override) envVar() string {
	return envVarFor(o.key)
}

func envVarFor(key string) string {
	return conf.EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func stringField(key string, field func(*conf.Environment) *string) override {
	return override{key: key, apply: func(env *conf.Environment, value string) error {
		*field(env) = value
		return nil
	}}
}

func intField(key string, field func(*conf.Environment) *int) override {
	return override{key: key, apply: func(env *conf.Environment, value string) error {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%s must be an integer, got %q", envVarFor(key), value)
		}
		*field(env) = n
		return nil
	}}
}

func int64Field(key string, field func(*conf.Environment) *int64) override {
	return override{key: key, apply: func(env *conf.Environment, value string) error {
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return fmt.Errorf("%s must be an integer, got %q", envVarFor(key), value)
		}
		*field(env) = n
		return nil
	}}
}

var overrides = []override{
	stringField("source_db.host", func(e *conf.Environment) *string { return &e.SourceDB.Host }),
	intField("source_db.port", func(e *conf.Environment) *int { return &e.SourceDB.Port }),
	stringField("source_db.user", func(e *conf.Environment) *string { return &e.SourceDB.User }),
	stringField("source_db.password", func(e *conf.Environment) *string { return &e.SourceDB.Password }),
	stringField("source_db.database", func(e *conf.Environment) *string { return &e.SourceDB.Database }),
	intField("source_db.category_id", func(e *conf.Environment) *int { return &e.SourceDB.CategoryID }),

	stringField("photo_db.server", func(e *conf.Environment) *string { return &e.PhotoDB.Server }),
	intField("photo_db.port", func(e *conf.Environment) *int { return &e.PhotoDB.Port }),
	stringField("photo_db.user", func(e *conf.Environment) *string { return &e.PhotoDB.User }),
	stringField("photo_db.password", func(e *conf.Environment) *string { return &e.PhotoDB.Password }),
	stringField("photo_db.database", func(e *conf.Environment) *string { return &e.PhotoDB.Database }),
	stringField("photo_db.stored_procedure", func(e *conf.Environment) *string { return &e.PhotoDB.StoredProcedure }),
	stringField("photo_db.business_context", func(e *conf.Environment) *string { return &e.PhotoDB.BusinessContext }),

	stringField("device.base_url", func(e *conf.Environment) *string { return &e.Device.BaseURL }),
	stringField("device.login", func(e *conf.Environment) *string { return &e.Device.Login }),
	stringField("device.password", func(e *conf.Environment) *string { return &e.Device.Password }),
	int64Field("device.default_group_id", func(e *conf.Environment) *int64 { return &e.Device.DefaultGroupID }),

	stringField("storage.temp_folder", func(e *conf.Environment) *string { return &e.Storage.TempFolder }),
	stringField("storage.image_extension", func(e *conf.Environment) *string { return &e.Storage.ImageExtension }),
}

// applyOverrides copies every set CIDSYNC_* connection variable into env.
// All malformed values are reported together.
func applyOverrides(env *conf.Environment) error {
	v := viper.New()
	for _, o := range overrides {
		if err := v.BindEnv(o.key, o.envVar()); err != nil {
			return err
		}
	}

	var problems []string
	for _, o := range overrides {
		if !v.IsSet(o.key) {
			continue
		}
		if err := o.apply(env, v.GetString(o.key)); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if len(problems) > 0 {
		return conf.ValidationError{Errors: problems}
	}
	return nil
}
