// Package events fans reconciliation outcomes out to slow sinks (MQTT,
// notifications) without blocking the sync loop.
package events

import (
	"context"

	"github.com/wilfranr/control-id-miid/internal/reconcile"
)

// Consumer processes outcomes published on the bus
type Consumer interface {
	// Name identifies the consumer in logs and must be unique per bus
	Name() string

	// ProcessOutcome handles one outcome. Errors are logged and counted.
	ProcessOutcome(ctx context.Context, outcome *reconcile.Outcome) error
}

// ConsumerFunc adapts a function to Consumer
type ConsumerFunc struct {
	ConsumerName string
	Fn           func(ctx context.Context, outcome *reconcile.Outcome) error
}

func (f ConsumerFunc) Name() string { return f.ConsumerName }

func (f ConsumerFunc) ProcessOutcome(ctx context.Context, outcome *reconcile.Outcome) error {
	return f.Fn(ctx, outcome)
}

// Stats contains runtime statistics of a bus
type Stats struct {
	Received   uint64
	Suppressed uint64
	Processed  uint64
	Dropped    uint64
	Errors     uint64
}
