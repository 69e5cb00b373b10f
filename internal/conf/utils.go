package conf

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/wilfranr/control-id-miid/internal/errors"
)

const (
	appDirName     = "controlid-sync"
	configFileName = "config.yaml"

	// ConfigDirEnv names a directory searched before the platform defaults
	ConfigDirEnv = "CIDSYNC_CONFIG_DIR"
)

// GetDefaultConfigPaths returns the directories searched for config.yaml in
// priority order. A directory that already holds config.yaml is returned alone.
func GetDefaultConfigPaths() ([]string, error) {
	paths, err := platformConfigPaths()
	if err != nil {
		return nil, err
	}
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		paths = append([]string{dir}, paths...)
	}

	for _, dir := range paths {
		if _, err := os.Stat(filepath.Join(dir, configFileName)); err == nil {
			return []string{dir}, nil
		}
	}
	return paths, nil
}

// platformConfigPaths lists the per-OS locations. On Windows the service runs
// from its install directory, so the executable's directory comes first.
func platformConfigPaths() ([]string, error) {
	if runtime.GOOS == "windows" {
		exePath, err := os.Executable()
		if err != nil {
			return nil, configPathError(err, "get-executable-path")
		}
		paths := []string{filepath.Dir(exePath)}
		if programData := os.Getenv("ProgramData"); programData != "" {
			paths = append(paths, filepath.Join(programData, appDirName))
		}
		return paths, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, configPathError(err, "get-home-directory")
	}
	return []string{
		".",
		filepath.Join(homeDir, ".config", appDirName),
		filepath.Join("/etc", appDirName),
	}, nil
}

// defaultConfigTarget picks where a missing config.yaml is created: the first
// search path other than the working directory.
func defaultConfigTarget(paths []string) string {
	for _, dir := range paths {
		if dir != "." {
			return filepath.Join(dir, configFileName)
		}
	}
	return configFileName
}

func configPathError(err error, operation string) error {
	return errors.New(err).
		Component("configuration").
		Category(errors.CategoryConfiguration).
		Context("operation", operation).
		Build()
}
