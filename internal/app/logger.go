package app

import "github.com/wilfranr/control-id-miid/internal/logger"

// GetLogger returns the app module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("app")
}
