package app

import (
	"github.com/wilfranr/control-id-miid/internal/conf"
	"github.com/wilfranr/control-id-miid/internal/logger"
)

// Context carries the global command line options and, after Load, the
// settings shared by every command.
type Context struct {
	ConfigFile  string
	Environment string // overrides the configured active environment
	Debug       bool

	Settings *conf.Settings
	logger   *logger.CentralLogger
}

// Load reads the configuration, applies the command line overrides and
// installs the global logger.
func (c *Context) Load() error {
	settings, err := conf.Load(c.ConfigFile)
	if err != nil {
		return err
	}

	if c.Environment != "" {
		settings.Environment = conf.NormalizeEnvironmentName(c.Environment)
	}
	if c.Debug {
		settings.Debug = true
	}
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}

	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return err
	}
	logger.SetGlobal(cl)

	c.Settings = settings
	c.logger = cl

	cl.Module("app").Debug("configuration loaded",
		logger.String("file", settings.ConfigFile),
		logger.String("environment", settings.Environment))
	return nil
}

// Close flushes and closes the log outputs opened by Load
func (c *Context) Close() error {
	if c.logger == nil {
		return nil
	}
	_ = c.logger.Flush()
	return c.logger.Close()
}
