// Package mqtt mirrors coordinator snapshots to an MQTT broker as retained
// state messages.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/micro-ha/switchbot-cloud/internal/config"
	"github.com/micro-ha/switchbot-cloud/internal/coordinator"
	"github.com/micro-ha/switchbot-cloud/internal/model"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 1000
	stateQoS          = 1
)

var (
	ErrConnect       = errors.New("mqtt: connect failed")
	ErrPublishFailed = errors.New("mqtt: publish failed")
)

// Client is the subset of the paho client the publisher needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

type Publisher struct {
	client Client
	prefix string
	logger *slog.Logger
}

// Connect dials the broker and returns a publisher for cfg.TopicPrefix.
func Connect(cfg config.MQTTConfig, logger *slog.Logger) (*Publisher, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if logger != nil {
			logger.Warn("mqtt connection lost", "err", err)
		}
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnect, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	return NewPublisher(client, cfg.TopicPrefix, logger), nil
}

func NewPublisher(client Client, prefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// Topic returns the state topic for deviceID. MQTT wildcards and level
// separators in the id are replaced.
func Topic(prefix, deviceID string) string {
	id := strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(deviceID)
	if prefix == "" {
		return id + "/state"
	}
	return prefix + "/" + id + "/state"
}

// Attach publishes every update of c and returns the unsubscribe function.
func (p *Publisher) Attach(c *coordinator.Coordinator) func() {
	return c.Subscribe(func(device model.Device, data model.Snapshot) {
		if err := p.PublishState(device, data); err != nil {
			p.logger.Warn("mqtt publish failed", "device_id", device.ID, "err", err)
		}
	})
}

func (p *Publisher) PublishState(device model.Device, data model.Snapshot) error {
	if data == nil {
		data = model.Snapshot{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrPublishFailed, err)
	}
	if !p.client.IsConnected() {
		return fmt.Errorf("%w: not connected", ErrPublishFailed)
	}

	token := p.client.Publish(Topic(p.prefix, device.ID), stateQoS, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func (p *Publisher) Close() {
	if p == nil || p.client == nil {
		return
	}
	p.client.Disconnect(disconnectQuiesce)
}
