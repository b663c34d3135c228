package mqttclient

import (
	"context"
	"strings"
	"sync"

	"github.com/inmarsat-enterprise/fieldedge-utilities/errors"
	"github.com/inmarsat-enterprise/fieldedge-utilities/isc"
)

// TestBroker is an in-memory stand-in for the local MQTT broker, used in
// tests so entities and proxies can exchange real wire traffic without a
// broker process. Messages round-trip through JSON so handlers observe the
// same value types they would from the network.
//
// Delivery is synchronous on the publisher's goroutine, which keeps tests
// deterministic.
type TestBroker struct {
	mu        sync.Mutex
	subs      map[string][]isc.MessageHandler
	connected bool
	published []string
}

// NewTestBroker returns a connected broker with no subscriptions.
func NewTestBroker() *TestBroker {
	return &TestBroker{
		subs:      make(map[string][]isc.MessageHandler),
		connected: true,
	}
}

// Publish delivers the message to every subscription whose filter matches
// the topic.
func (b *TestBroker) Publish(_ context.Context, topic string, message isc.Message) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return errors.WrapTransient(errors.ErrNotConnected, "mqttclient", "TestBroker.Publish", topic)
	}
	b.published = append(b.published, topic)
	var handlers []isc.MessageHandler
	for filter, subs := range b.subs {
		if MatchTopic(filter, topic) {
			handlers = append(handlers, subs...)
		}
	}
	b.mu.Unlock()

	payload, err := message.Encode()
	if err != nil {
		return err
	}
	for _, handler := range handlers {
		delivered, err := isc.DecodeMessage(payload)
		if err != nil {
			return err
		}
		handler(topic, delivered)
	}
	return nil
}

// Subscribe registers a handler for a topic filter.
func (b *TestBroker) Subscribe(_ context.Context, filter string, handler isc.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return errors.WrapTransient(errors.ErrNotConnected, "mqttclient", "TestBroker.Subscribe", filter)
	}
	b.subs[filter] = append(b.subs[filter], handler)
	return nil
}

// Unsubscribe drops every handler registered under the filter.
func (b *TestBroker) Unsubscribe(_ context.Context, filter string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, filter)
	return nil
}

// IsConnected reports the simulated connection state.
func (b *TestBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// SetConnected toggles the simulated connection state so tests can exercise
// offline behavior.
func (b *TestBroker) SetConnected(connected bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = connected
}

// Published returns the topics published so far, in order.
func (b *TestBroker) Published() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.published))
	copy(out, b.published)
	return out
}

// MatchTopic reports whether an MQTT topic filter matches a concrete topic.
// "+" matches exactly one level and "#" matches the remainder of the topic.
func MatchTopic(filter, topic string) bool {
	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	for i, level := range filterLevels {
		if level == "#" {
			return i == len(filterLevels)-1
		}
		if i >= len(topicLevels) {
			return false
		}
		if level != "+" && level != topicLevels[i] {
			return false
		}
	}
	return len(filterLevels) == len(topicLevels)
}
