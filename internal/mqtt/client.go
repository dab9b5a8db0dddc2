// Package mqtt mirrors fixture state to an MQTT broker and accepts commands from it.
package mqtt

import (
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ledbridge/internal/config"
)

const (
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	maxQoS                   = 2

	payloadOnline  = "online"
	payloadOffline = "offline"
)

// MessageHandler handles one received message.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	topic   string
	handler MessageHandler
}

// Client wraps a paho client with availability reporting and resubscription on reconnect.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	subMu         sync.RWMutex
	subscriptions map[string]subscription
}

// Connect dials the broker, registers the offline last will and publishes "online".
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		topics:        Topics{Prefix: cfg.TopicPrefix},
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	opts.SetWill(c.topics.Status(), payloadOffline, cfg.QoS, true)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout.Duration()) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, cfg.ConnectTimeout.Duration())
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	log.Info().Str("broker", cfg.Broker).Str("prefix", cfg.TopicPrefix).Msg("Connected to MQTT broker")
	return c, nil
}

func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetConnectTimeout(cfg.ConnectTimeout.Duration())
	opts.SetKeepAlive(cfg.KeepAlive.Duration())
	return opts
}

// handleConnect runs on every (re)connect.
func (c *Client) handleConnect() {
	c.subMu.RLock()
	for _, sub := range c.subscriptions {
		c.client.Subscribe(sub.topic, c.cfg.QoS, c.wrapHandler(sub.handler))
	}
	c.subMu.RUnlock()

	c.client.Publish(c.topics.Status(), c.cfg.QoS, true, payloadOnline)
}

// Topics returns the topic builder for this client's prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// Publish sends a message and waits for the broker to acknowledge it.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if qos > maxQoS {
		return fmt.Errorf("%w: qos %d", ErrPublishFailed, qos)
	}
	if !c.client.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Subscribe registers handler for topic; the subscription is restored after reconnects.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, handler: handler}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, c.cfg.QoS, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout on %s", ErrSubscribeFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Close publishes "offline" and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.client.IsConnected() {
		token := c.client.Publish(c.topics.Status(), c.cfg.QoS, true, payloadOffline)
		token.WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("topic", msg.Topic()).Msg("MQTT handler panicked")
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic()).Msg("MQTT handler failed")
		}
	}
}
