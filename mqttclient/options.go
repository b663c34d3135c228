package mqttclient

import (
	"context"
	"log/slog"
	"time"

	"github.com/inmarsat-enterprise/fieldedge-utilities/errors"
	"github.com/inmarsat-enterprise/fieldedge-utilities/pkg/retry"
	"github.com/inmarsat-enterprise/fieldedge-utilities/pkg/worker"
)

// ClientOption configures a Client during construction.
type ClientOption func(*Client) error

// WithClientID sets a stable MQTT client id. The default is derived from
// the process start time, which defeats broker session resumption.
func WithClientID(id string) ClientOption {
	return func(c *Client) error {
		if id == "" {
			return errors.ErrInvalidInput
		}
		c.clientID = id
		return nil
	}
}

// WithCredentials sets broker username/password authentication.
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithQoS sets the quality of service for publishes and subscriptions.
func WithQoS(qos byte) ClientOption {
	return func(c *Client) error {
		if qos > 2 {
			return errors.ErrInvalidInput
		}
		c.qos = qos
		return nil
	}
}

// WithPersistentSession disables clean-session so the broker queues missed
// messages across reconnects. Requires a stable client id.
func WithPersistentSession() ClientOption {
	return func(c *Client) error {
		c.cleanSession = false
		return nil
	}
}

// WithKeepAlive sets the MQTT keepalive interval.
func WithKeepAlive(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.keepAlive = d
		return nil
	}
}

// WithConnectTimeout bounds each dial and token wait.
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.connectTimeout = d
		return nil
	}
}

// WithReconnectWait caps paho's automatic reconnect backoff.
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.reconnectWait = d
		return nil
	}
}

// WithRetryConfig overrides the connect retry policy.
func WithRetryConfig(cfg retry.Config) ClientOption {
	return func(c *Client) error {
		c.retryConfig = cfg
		return nil
	}
}

// WithConnectionLostCallback registers a callback fired when the broker
// connection drops.
func WithConnectionLostCallback(fn func(error)) ClientOption {
	return func(c *Client) error {
		c.onConnectionLost = fn
		return nil
	}
}

// WithReconnectCallback registers a callback fired after a successful
// reconnect, once subscriptions are replayed.
func WithReconnectCallback(fn func()) ClientOption {
	return func(c *Client) error {
		c.onReconnect = fn
		return nil
	}
}

// WithDispatchPool runs subscription handlers on a worker pool instead of
// paho's callback goroutine, so a slow handler cannot stall the broker
// read loop. Messages beyond the queue capacity are dropped with a warning.
func WithDispatchPool(workers, queueSize int) ClientOption {
	return func(c *Client) error {
		pool, err := worker.NewPool("mqtt-dispatch", func(_ context.Context, in inbound) {
			in.handler(in.topic, in.message)
		},
			worker.WithWorkers[inbound](workers),
			worker.WithQueueSize[inbound](queueSize),
			worker.WithLogger[inbound](c.logger))
		if err != nil {
			return err
		}
		c.pool = pool
		return nil
	}
}

// WithClientLogger sets the client's logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}
