package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"login-management-go/config"
	"login-management-go/internal/core/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

const publishTimeout = 5 * time.Second

// Publisher sends item outcomes to the broker, one message per terminal transition
type Publisher struct {
	config config.MQTTConfig
	client mqtt.Client

	mu          sync.RWMutex
	isConnected bool
}

// NewPublisher creates a publisher; Start connects it
func NewPublisher(cfg config.MQTTConfig) *Publisher {
	return &Publisher{config: cfg}
}

// newPublisherWithClient is used with an already built client
func newPublisherWithClient(cfg config.MQTTConfig, client mqtt.Client) *Publisher {
	return &Publisher{config: cfg, client: client, isConnected: client.IsConnected()}
}

// Start connects to the broker. A disabled publisher does nothing.
func (p *Publisher) Start() error {
	if !p.config.Enabled {
		log.Info("MQTT publisher is disabled in configuration")
		return nil
	}

	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.config.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(p.config.ClientID)
	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}

	opts.SetOnConnectHandler(p.onConnectHandler)
	opts.SetConnectionLostHandler(p.connectionLostHandler)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	p.client = mqtt.NewClient(opts)

	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to connect to MQTT broker: %v", token.Error())
		return token.Error()
	}

	log.Info("MQTT publisher connected successfully")
	return nil
}

// Stop disconnects from the broker
func (p *Publisher) Stop() {
	if p.client != nil && p.client.IsConnected() {
		log.Info("Disconnecting MQTT publisher...")
		p.client.Disconnect(250)
	}
	p.setConnected(false)
}

// IsConnected reports the broker connection state
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isConnected
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.isConnected = v
	p.mu.Unlock()
}

func (p *Publisher) onConnectHandler(_ mqtt.Client) {
	log.Info("Connected to MQTT broker")
	p.setConnected(true)
}

func (p *Publisher) connectionLostHandler(_ mqtt.Client, err error) {
	log.Warnf("Connection to MQTT broker lost: %v", err)
	p.setConnected(false)
}

// Topic returns the topic an outcome with the given status is published to
func (p *Publisher) Topic(status string) string {
	return strings.TrimSuffix(p.config.Topic, "/") + "/" + strings.ToLower(status)
}

// Publish sends one outcome as JSON with QoS 1. Without a connection the
// outcome is dropped with a debug log.
func (p *Publisher) Publish(ctx context.Context, outcome models.Outcome) error {
	if !p.config.Enabled || p.client == nil {
		return nil
	}
	if !p.IsConnected() {
		log.Debugf("MQTT not connected, dropping outcome of item %d", outcome.ItemID)
		return nil
	}

	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}

	topic := p.Topic(outcome.Status)
	token := p.client.Publish(topic, 1, false, payload)

	timeout := publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timeout publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	log.Debugf("Published outcome of item %d to %s", outcome.ItemID, topic)
	return nil
}
