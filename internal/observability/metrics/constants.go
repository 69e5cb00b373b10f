// Package metrics provides constants used across metric definitions.
package metrics

// Histogram bucket layouts
const (
	// BucketStart1ms is the first bucket for request latencies
	BucketStart1ms = 0.001
	// BucketStart10ms is the first bucket for reconciliation durations
	BucketStart10ms = 0.01
	// BucketFactor2 doubles each bucket
	BucketFactor2 = 2
	// BucketCount12 covers 1ms to ~4s
	BucketCount12 = 12
	// BucketCount14 covers 10ms to ~160s
	BucketCount14 = 14
)

// HealthStates lists every value SetHealth accepts
var HealthStates = []string{"unknown", "connected", "degraded", "error"}
