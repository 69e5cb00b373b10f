// Package environment resolves the named connection bundle (DEV, PROD, ...)
// the service runs against and notifies listeners when the operator switches.
package environment

import (
	"slices"
	"sync"

	"dario.cat/mergo"

	"github.com/wilfranr/control-id-miid/internal/conf"
	"github.com/wilfranr/control-id-miid/internal/errors"
	"github.com/wilfranr/control-id-miid/internal/logger"
	"github.com/wilfranr/control-id-miid/internal/secrets"
)

// SwitchListener is called with the new environment after a successful switch
type SwitchListener func(env *conf.Environment)

// Resolver produces fully resolved environments. Per setting the order is
// CIDSYNC_* override, then the named bundle, then the fallback section, then
// built-in defaults.
type Resolver struct {
	mu        sync.RWMutex
	settings  *conf.Settings
	active    string
	listeners []SwitchListener
	log       logger.Logger
}

// New creates a resolver starting on settings.Environment
func New(settings *conf.Settings, log logger.Logger) *Resolver {
	if log == nil {
		log = logger.Global().Module("environment")
	}
	return &Resolver{
		settings: settings,
		active:   conf.NormalizeEnvironmentName(settings.Environment),
		log:      log,
	}
}

// Resolve returns the environment called name with fallback values and
// overrides applied. Unknown names and incomplete bundles are configuration errors.
func (r *Resolver) Resolve(name string) (*conf.Environment, error) {
	name = conf.NormalizeEnvironmentName(name)

	r.mu.RLock()
	bundle, ok := r.settings.Environments[name]
	fallback := r.settings.Fallback
	r.mu.RUnlock()

	if !ok {
		return nil, errors.Newf("environment %q is not defined", name).
			Component("environment").
			Category(errors.CategoryConfiguration).
			Context("environment", name).
			Context("defined", r.Names()).
			Build()
	}

	resolved := bundle
	resolved.Name = name

	// mergo only fills zero fields of dst, so the bundle keeps precedence
	if err := mergo.Merge(&resolved, fallback); err != nil {
		return nil, configError(err, name)
	}
	if err := mergo.Merge(&resolved, builtinFallback()); err != nil {
		return nil, configError(err, name)
	}

	if err := applyOverrides(&resolved); err != nil {
		return nil, configError(err, name)
	}

	// passwords may reference ${VAR} or file:/path
	if err := secrets.ResolveAll(map[string]*string{
		"source_db.password": &resolved.SourceDB.Password,
		"photo_db.password":  &resolved.PhotoDB.Password,
		"device.password":    &resolved.Device.Password,
	}); err != nil {
		return nil, configError(err, name)
	}

	if err := conf.ValidateEnvironment(&resolved); err != nil {
		return nil, configError(err, name)
	}

	return &resolved, nil
}

// Active resolves the current environment
func (r *Resolver) Active() (*conf.Environment, error) {
	return r.Resolve(r.ActiveName())
}

// ActiveName returns the name of the current environment
func (r *Resolver) ActiveName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Names returns the defined environment names in sorted order
func (r *Resolver) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.settings.EnvironmentNames()
	slices.Sort(names)
	return names
}

// OnSwitch registers a listener fired after every successful Switch
func (r *Resolver) OnSwitch(fn SwitchListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Switch makes name the active environment. The target is resolved and
// validated first; on failure nothing changes and no listener runs. With
// persist the new name is also written to the config file.
func (r *Resolver) Switch(name string, persist bool) (*conf.Environment, error) {
	env, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}

	if persist {
		if err := conf.PersistActiveEnvironment(r.settings.ConfigFile, env.Name); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	previous := r.active
	r.active = env.Name
	listeners := slices.Clone(r.listeners)
	r.mu.Unlock()

	r.log.Info("environment switched",
		logger.String("from", previous),
		logger.String("to", env.Name),
		logger.Bool("persisted", persist))

	for _, fn := range listeners {
		fn(env)
	}
	return env, nil
}

func builtinFallback() conf.Environment {
	return conf.Environment{
		SourceDB: conf.SourceDBSettings{
			Port:           conf.DefaultMySQLPort,
			SuccessStatus:  conf.DefaultSuccessStatus,
			ConnectTimeout: conf.DefaultConnectTimeout,
		},
		PhotoDB: conf.PhotoDBSettings{
			Port:            conf.DefaultSQLServerPort,
			BusinessContext: conf.DefaultBusinessContext,
			ConnectTimeout:  conf.DefaultConnectTimeout,
		},
		Device: conf.DeviceSettings{
			Login: conf.DefaultDeviceLogin,
		},
		Storage: conf.StorageSettings{
			TempFolder:     conf.DefaultTempFolder(),
			ImageExtension: conf.DefaultImageExtension,
		},
	}
}

func configError(err error, name string) error {
	return errors.New(err).
		Component("environment").
		Category(errors.CategoryConfiguration).
		Context("environment", name).
		Build()
}
