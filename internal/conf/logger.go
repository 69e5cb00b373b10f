// Package conf provides configuration management for controlid-sync.
package conf

import "github.com/wilfranr/control-id-miid/internal/logger"

// GetLogger returns the config module logger. It is fetched from the global
// logger on every call because the central logger is installed after Load.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
