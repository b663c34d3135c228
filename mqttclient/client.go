// Package mqttclient manages the connection to the local MQTT broker and
// adapts it to the ISC transport contract.
package mqttclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/inmarsat-enterprise/fieldedge-utilities/errors"
	"github.com/inmarsat-enterprise/fieldedge-utilities/isc"
	"github.com/inmarsat-enterprise/fieldedge-utilities/pkg/retry"
	"github.com/inmarsat-enterprise/fieldedge-utilities/pkg/worker"
)

// inbound is a received message queued for handler dispatch.
type inbound struct {
	topic   string
	message isc.Message
	handler isc.MessageHandler
}

// ConnectionStatus represents the state of the broker connection.
type ConnectionStatus int

// Possible connection statuses.
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

// String returns the string representation of ConnectionStatus.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// DefaultBrokerURL is the local FieldEdge broker.
const DefaultBrokerURL = "tcp://127.0.0.1:1883"

// Client wraps the paho MQTT client with JSON codec, reconnect handling and
// connect retry. It satisfies isc.Transport.
type Client struct {
	url      string
	clientID string
	status   atomic.Value // ConnectionStatus

	conn mqtt.Client

	// Subscriptions are replayed after a reconnect since the broker may
	// have dropped session state.
	subsMu sync.Mutex
	subs   map[string]isc.MessageHandler

	qos            byte
	cleanSession   bool
	keepAlive      time.Duration
	connectTimeout time.Duration
	reconnectWait  time.Duration
	retryConfig    retry.Config
	username       string
	password       string

	onConnectionLost func(error)
	onReconnect      func()

	// When set, inbound messages are dispatched through the pool instead of
	// running handlers on paho's callback goroutine.
	pool *worker.Pool[inbound]

	logger *slog.Logger
}

// NewClient builds an unconnected client for the given broker URL.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		url = DefaultBrokerURL
	}
	c := &Client{
		url:            url,
		clientID:       fmt.Sprintf("fieldedge-%d", time.Now().UnixNano()),
		subs:           make(map[string]isc.MessageHandler),
		qos:            1,
		cleanSession:   true,
		keepAlive:      30 * time.Second,
		connectTimeout: 10 * time.Second,
		reconnectWait:  2 * time.Second,
		retryConfig:    retry.DefaultConfig(),
		logger:         slog.Default(),
	}
	c.status.Store(StatusDisconnected)
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "mqttclient", "NewClient", "invalid option")
		}
	}
	return c, nil
}

// URL returns the broker URL.
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	return c.status.Load().(ConnectionStatus)
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(status)
}

// IsConnected reports whether the broker connection is currently open.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnectionOpen()
}

// Connect dials the broker, retrying with backoff until the context is
// cancelled or the retry budget is exhausted.
func (c *Client) Connect(ctx context.Context) error {
	c.setStatus(StatusConnecting)

	pahoOpts := mqtt.NewClientOptions().
		AddBroker(c.url).
		SetClientID(c.clientID).
		SetCleanSession(c.cleanSession).
		SetKeepAlive(c.keepAlive).
		SetConnectTimeout(c.connectTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(c.reconnectWait).
		SetConnectionLostHandler(c.handleConnectionLost).
		SetOnConnectHandler(c.handleConnect)
	if c.username != "" {
		pahoOpts.SetUsername(c.username).SetPassword(c.password)
	}
	c.conn = mqtt.NewClient(pahoOpts)

	if c.pool != nil {
		if err := c.pool.Start(ctx); err != nil && err != worker.ErrPoolAlreadyStarted {
			return errors.WrapFatal(err, "mqttclient", "Client.Connect", "dispatch pool start failed")
		}
	}

	err := retry.Do(ctx, c.retryConfig, func() error {
		token := c.conn.Connect()
		if !token.WaitTimeout(c.connectTimeout) {
			return errors.ErrConnectionTimeout
		}
		return token.Error()
	})
	if err != nil {
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, "mqttclient", "Client.Connect", "broker dial failed")
	}
	c.setStatus(StatusConnected)
	c.logger.Info("connected to broker", "url", c.url, "clientId", c.clientID)
	return nil
}

// Close disconnects from the broker. In-flight work is given quiesce time
// before the socket drops.
func (c *Client) Close(quiesce time.Duration) {
	if c.conn == nil {
		return
	}
	c.conn.Disconnect(uint(quiesce.Milliseconds()))
	c.setStatus(StatusDisconnected)
	if c.pool != nil {
		if err := c.pool.Stop(quiesce); err != nil {
			c.logger.Warn("dispatch pool stop", "error", err)
		}
	}
	c.logger.Info("disconnected from broker", "url", c.url)
}

// Publish encodes the message as JSON and publishes it.
func (c *Client) Publish(_ context.Context, topic string, message isc.Message) error {
	if !c.IsConnected() {
		return errors.WrapTransient(errors.ErrNotConnected, "mqttclient", "Client.Publish", topic)
	}
	payload, err := message.Encode()
	if err != nil {
		return errors.Wrap(err, "mqttclient", "Client.Publish", "encode failed")
	}
	token := c.conn.Publish(topic, c.qos, false, payload)
	if !token.WaitTimeout(c.connectTimeout) {
		return errors.WrapTransient(errors.ErrConnectionTimeout, "mqttclient", "Client.Publish", topic)
	}
	if err := token.Error(); err != nil {
		return errors.WrapTransient(err, "mqttclient", "Client.Publish", topic)
	}
	return nil
}

// Subscribe registers a handler for an MQTT topic filter. Handlers run on
// paho's callback goroutine unless a dispatch pool is configured; non-JSON
// payloads are delivered raw under isc.KeyRaw.
func (c *Client) Subscribe(_ context.Context, filter string, handler isc.MessageHandler) error {
	if !c.IsConnected() {
		return errors.WrapTransient(errors.ErrNotConnected, "mqttclient", "Client.Subscribe", filter)
	}
	if err := c.subscribe(filter, handler); err != nil {
		return err
	}
	c.subsMu.Lock()
	c.subs[filter] = handler
	c.subsMu.Unlock()
	return nil
}

func (c *Client) subscribe(filter string, handler isc.MessageHandler) error {
	token := c.conn.Subscribe(filter, c.qos, func(_ mqtt.Client, msg mqtt.Message) {
		c.dispatch(msg.Topic(), c.decodePayload(msg.Topic(), msg.Payload()), handler)
	})
	if !token.WaitTimeout(c.connectTimeout) {
		return errors.WrapTransient(errors.ErrConnectionTimeout, "mqttclient", "Client.Subscribe", filter)
	}
	if err := token.Error(); err != nil {
		return errors.WrapTransient(errors.ErrSubscriptionFailed, "mqttclient", "Client.Subscribe",
			fmt.Sprintf("%s: %v", filter, err))
	}
	return nil
}

// decodePayload parses an inbound payload as JSON; non-JSON traffic passes
// through raw under isc.KeyRaw rather than being lost.
func (c *Client) decodePayload(topic string, payload []byte) isc.Message {
	decoded, err := isc.DecodeMessage(payload)
	if err != nil {
		c.logger.Debug("non-JSON payload passed through raw", "topic", topic)
		return isc.RawMessage(payload)
	}
	return decoded
}

func (c *Client) dispatch(topic string, message isc.Message, handler isc.MessageHandler) {
	if c.pool == nil {
		handler(topic, message)
		return
	}
	if err := c.pool.Submit(inbound{topic: topic, message: message, handler: handler}); err != nil {
		c.logger.Warn("dropping message, dispatch pool saturated", "topic", topic, "error", err)
	}
}

// Unsubscribe removes a topic filter subscription.
func (c *Client) Unsubscribe(_ context.Context, filter string) error {
	c.subsMu.Lock()
	delete(c.subs, filter)
	c.subsMu.Unlock()

	if !c.IsConnected() {
		return nil
	}
	token := c.conn.Unsubscribe(filter)
	if !token.WaitTimeout(c.connectTimeout) {
		return errors.WrapTransient(errors.ErrConnectionTimeout, "mqttclient",
			"Client.Unsubscribe", filter)
	}
	if err := token.Error(); err != nil {
		return errors.WrapTransient(err, "mqttclient", "Client.Unsubscribe", filter)
	}
	return nil
}

func (c *Client) handleConnectionLost(_ mqtt.Client, err error) {
	c.setStatus(StatusReconnecting)
	c.logger.Warn("broker connection lost", "error", err)
	if c.onConnectionLost != nil {
		c.onConnectionLost(err)
	}
}

// handleConnect fires on both the first connect and every reconnect, so the
// subscription set is replayed each time.
func (c *Client) handleConnect(_ mqtt.Client) {
	previous := c.Status()
	c.setStatus(StatusConnected)

	c.subsMu.Lock()
	subs := make(map[string]isc.MessageHandler, len(c.subs))
	for filter, handler := range c.subs {
		subs[filter] = handler
	}
	c.subsMu.Unlock()

	for filter, handler := range subs {
		if err := c.subscribe(filter, handler); err != nil {
			c.logger.Warn("resubscribe failed", "filter", filter, "error", err)
		}
	}

	if previous == StatusReconnecting {
		c.logger.Info("reconnected to broker", "url", c.url)
		if c.onReconnect != nil {
			c.onReconnect()
		}
	}
}
