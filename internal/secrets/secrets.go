// Package secrets resolves credential references in configuration values.
//
// A value is one of:
//   - a literal ("s3cret")
//   - an environment reference, "${VAR}" or "${VAR:-default}", expanded anywhere in the string
//   - a file reference, "file:/run/secrets/db_password", read from a Docker or Kubernetes secret mount
//
// Secret values are never logged.
package secrets

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/wilfranr/control-id-miid/internal/errors"
	"github.com/wilfranr/control-id-miid/internal/logger"
)

const (
	// FilePrefix marks a value that names a secret file
	FilePrefix = "file:"

	// maxSecretFileSize limits secret file reads; secrets are passwords, not documents
	maxSecretFileSize = 64 * 1024
)

// ExpandString expands ${VAR} and ${VAR:-default} references. A referenced
// variable that is unset and has no default is an error.
func ExpandString(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})

	if len(missing) > 0 {
		return "", errors.Newf("missing environment variable(s): %s", strings.Join(missing, ", ")).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Context("variables", missing).
			Build()
	}
	return expanded, nil
}

// ReadFile reads a secret file. Trailing newlines are trimmed, an empty or
// oversized file is an error and group/other permissions only warn.
func ReadFile(path string) (string, error) {
	cleanPath := filepath.Clean(path)

	info, err := os.Stat(cleanPath)
	if err != nil {
		return "", fileError(err, cleanPath, "stat")
	}
	if !info.Mode().IsRegular() {
		return "", fileError(errors.NewStd("not a regular file"), cleanPath, "stat")
	}
	if info.Size() > maxSecretFileSize {
		return "", fileError(errors.NewStd("secret file too large"), cleanPath, "stat")
	}

	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Global().Module("secrets").Warn("secret file is readable by group or others",
			logger.String("path", cleanPath),
			logger.String("mode", perm.String()))
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return "", fileError(err, cleanPath, "read")
	}

	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", fileError(errors.NewStd("secret file is empty"), cleanPath, "read")
	}
	return secret, nil
}

// Resolve returns the secret a configuration value refers to. Values
// without a reference are returned unchanged.
func Resolve(value string) (string, error) {
	if path, ok := strings.CutPrefix(value, FilePrefix); ok {
		return ReadFile(strings.TrimSpace(path))
	}
	if !strings.Contains(value, "${") {
		return value, nil
	}
	return ExpandString(value)
}

// ResolveAll resolves every field in place and stops at the first failure.
// field names the setting in errors.
func ResolveAll(fields map[string]*string) error {
	for field, value := range fields {
		if value == nil || *value == "" {
			continue
		}
		resolved, err := Resolve(*value)
		if err != nil {
			return errors.New(err).
				Component("secrets").
				Category(errors.CategoryConfiguration).
				Context("field", field).
				Build()
		}
		*value = resolved
	}
	return nil
}

func fileError(err error, path, operation string) error {
	return errors.New(err).
		Component("secrets").
		Category(errors.CategoryConfiguration).
		Context("path", path).
		Context("operation", operation).
		Build()
}
