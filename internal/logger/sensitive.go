package logger

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// SensitiveDataPatterns match secrets that may leak into log messages:
// device session tokens, DSN passwords and credentials in URLs.
var SensitiveDataPatterns = []*regexp.Regexp{
	// session=<token> query parameter of the device API
	regexp.MustCompile(`(?i)(session=)([^&;,\s"]{4,})`),

	// "password":"..." or password=... in request bodies and DSNs
	regexp.MustCompile(`(?i)("?(passw(or)?d|pwd|secret|token)"?\s*[:=]\s*"?)([^";,&\s]{1,})`),

	// user:password@ in mysql DSNs and sqlserver:// URLs
	regexp.MustCompile(`([A-Za-z0-9._%-]+:)([^@/\s]+)(@)`),

	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`),
}

// SensitiveKeywords mark field keys whose values are never logged
var SensitiveKeywords = []string{
	"password", "passwd", "secret", "token", "session", "dsn", "credential", "authorization",
}

// RedactSensitiveData replaces secrets in input with [REDACTED]
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}

	for i, pattern := range SensitiveDataPatterns {
		if i == 2 {
			input = pattern.ReplaceAllString(input, "${1}"+redacted+"${3}")
			continue
		}
		input = pattern.ReplaceAllStringFunc(input, func(m string) string {
			sub := pattern.FindStringSubmatch(m)
			return sub[1] + redacted
		})
	}

	return input
}

// IsSensitiveKey reports whether a field key names a secret
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, sensitive := range SensitiveKeywords {
		if strings.Contains(keyLower, sensitive) {
			return true
		}
	}
	return false
}

// RedactFields returns a copy of fields with sensitive string values redacted
func RedactFields(fields []Field) []Field {
	result := make([]Field, len(fields))
	copy(result, fields)

	for i := range result {
		if !IsSensitiveKey(result[i].Key) {
			continue
		}
		if value, ok := result[i].Value.(string); ok && value != "" {
			result[i].Value = redacted
		}
	}
	return result
}
