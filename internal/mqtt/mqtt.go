// Package mqtt publishes reconciliation outcomes to an MQTT broker.
package mqtt

import (
	"context"
	"time"

	"github.com/wilfranr/control-id-miid/internal/conf"
)

// Client defines the interface for MQTT client operations.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	Connect(ctx context.Context) error

	// Publish sends payload to topic. retain asks the broker to keep the message.
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error

	// IsConnected returns true if the client is currently connected to the MQTT broker.
	IsConnected() bool

	// Disconnect closes the connection to the MQTT broker.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	Topic             string // prefix of outcome topics
	Retain            bool   // true to retain messages at the broker
	QoS               byte
	ReconnectCooldown time.Duration // minimum gap between manual connection attempts
	MaxReconnectDelay time.Duration // cap of paho's automatic reconnect backoff
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		QoS:               1,
		ReconnectCooldown: 5 * time.Second,
		MaxReconnectDelay: 2 * time.Minute,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// ConfigFromSettings fills the defaults with the configured broker and credentials
func ConfigFromSettings(settings conf.MQTTSettings) Config {
	cfg := DefaultConfig()
	cfg.Broker = settings.Broker
	cfg.ClientID = settings.ClientID
	cfg.Username = settings.Username
	cfg.Password = settings.Password
	cfg.Topic = settings.Topic
	cfg.Retain = settings.Retain
	return cfg
}
