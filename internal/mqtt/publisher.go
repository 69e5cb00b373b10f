package mqtt

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/wilfranr/control-id-miid/internal/errors"
	"github.com/wilfranr/control-id-miid/internal/events"
	"github.com/wilfranr/control-id-miid/internal/reconcile"
)

// ConsumerName is the bus name of the MQTT publisher
const ConsumerName = "mqtt"

// Publisher publishes every outcome it receives as JSON to <topic>/<action>
type Publisher struct {
	client Client
	topic  string
	retain bool
}

var _ events.Consumer = (*Publisher)(nil)

// NewPublisher creates a bus consumer publishing through client
func NewPublisher(client Client, cfg Config) *Publisher {
	return &Publisher{
		client: client,
		topic:  strings.TrimRight(cfg.Topic, "/"),
		retain: cfg.Retain,
	}
}

// Name implements events.Consumer
func (p *Publisher) Name() string { return ConsumerName }

// Topic returns the topic an outcome is published to
func (p *Publisher) Topic(outcome *reconcile.Outcome) string {
	return p.topic + "/" + string(outcome.Action)
}

// ProcessOutcome implements events.Consumer
func (p *Publisher) ProcessOutcome(ctx context.Context, outcome *reconcile.Outcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("document", outcome.Document).
			Build()
	}
	return p.client.Publish(ctx, p.Topic(outcome), payload, p.retain)
}
