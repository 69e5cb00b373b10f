package observability

import "github.com/wilfranr/control-id-miid/internal/logger"

// Package-level cached logger instance for efficiency.
var log = logger.Global().Module("metrics")
