package mqttclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inmarsat-enterprise/fieldedge-utilities/errors"
	"github.com/inmarsat-enterprise/fieldedge-utilities/isc"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"fieldedge/modem", "fieldedge/modem", true},
		{"fieldedge/modem", "fieldedge/gnss", false},
		{"fieldedge/+/rollcall", "fieldedge/modem/rollcall", true},
		{"fieldedge/+/rollcall", "fieldedge/modem/rollcall/response", false},
		{"fieldedge/modem/#", "fieldedge/modem/info/properties/values", true},
		{"fieldedge/modem/#", "fieldedge/modem", true},
		{"fieldedge/modem/#", "fieldedge/gnss/info", false},
		{"fieldedge/modem/info/#", "fieldedge/modem/info/properties/values", true},
		{"fieldedge/modem/event/#", "fieldedge/modem/info/properties/values", false},
		{"#", "anything/at/all", true},
		{"fieldedge/#/bad", "fieldedge/x/bad", false},
		{"fieldedge/modem", "fieldedge/modem/extra", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchTopic(tt.filter, tt.topic),
			"filter %q topic %q", tt.filter, tt.topic)
	}
}

func TestTestBrokerDelivery(t *testing.T) {
	broker := NewTestBroker()
	ctx := context.Background()

	var got []isc.Message
	require.NoError(t, broker.Subscribe(ctx, "fieldedge/modem/info/#", func(_ string, m isc.Message) {
		got = append(got, m)
	}))

	msg := isc.Message{isc.KeyUID: "abc", isc.KeyProperties: map[string]any{"powerMode": 1}}
	require.NoError(t, broker.Publish(ctx, "fieldedge/modem/info/properties/values", msg))
	require.NoError(t, broker.Publish(ctx, "fieldedge/gnss/info/properties/values", msg))

	require.Len(t, got, 1)
	assert.Equal(t, "abc", got[0].UID())
	// JSON round trip renders numerics as float64, as on the real wire.
	assert.Equal(t, map[string]any{"powerMode": float64(1)}, got[0].Properties())
	assert.Equal(t, []string{
		"fieldedge/modem/info/properties/values",
		"fieldedge/gnss/info/properties/values",
	}, broker.Published())
}

func TestTestBrokerDisconnected(t *testing.T) {
	broker := NewTestBroker()
	broker.SetConnected(false)
	ctx := context.Background()

	assert.False(t, broker.IsConnected())
	err := broker.Publish(ctx, "fieldedge/modem", isc.Message{})
	assert.ErrorIs(t, err, errors.ErrNotConnected)
	assert.ErrorIs(t, broker.Subscribe(ctx, "fieldedge/#", nil), errors.ErrNotConnected)
}

func TestTestBrokerUnsubscribe(t *testing.T) {
	broker := NewTestBroker()
	ctx := context.Background()

	calls := 0
	require.NoError(t, broker.Subscribe(ctx, "fieldedge/modem", func(string, isc.Message) { calls++ }))
	require.NoError(t, broker.Publish(ctx, "fieldedge/modem", isc.Message{}))
	require.NoError(t, broker.Unsubscribe(ctx, "fieldedge/modem"))
	require.NoError(t, broker.Publish(ctx, "fieldedge/modem", isc.Message{}))
	assert.Equal(t, 1, calls)
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient("")
	require.NoError(t, err)
	assert.Equal(t, DefaultBrokerURL, c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsConnected())
}

func TestNewClientOptionValidation(t *testing.T) {
	_, err := NewClient("tcp://localhost:1883", WithQoS(3))
	assert.Error(t, err)

	_, err = NewClient("tcp://localhost:1883", WithClientID(""))
	assert.Error(t, err)
}

func TestDecodePayloadRawPassthrough(t *testing.T) {
	c, err := NewClient("tcp://localhost:1883")
	require.NoError(t, err)

	decoded := c.decodePayload("fieldedge/modem", []byte(`{"uid":"u1"}`))
	assert.Equal(t, "u1", decoded.UID())
	assert.Empty(t, decoded.Raw())

	// Non-JSON payloads reach subscribers as raw text instead of being
	// dropped.
	raw := c.decodePayload("fieldedge/modem/event/log", []byte("boot ok"))
	assert.Equal(t, "boot ok", raw.Raw())
	assert.Empty(t, raw.UID())
}

func TestWithDispatchPool(t *testing.T) {
	c, err := NewClient("tcp://localhost:1883", WithDispatchPool(2, 32))
	require.NoError(t, err)
	require.NotNil(t, c.pool)
	require.NoError(t, c.pool.Start(context.Background()))

	done := make(chan struct{})
	c.dispatch("fieldedge/modem", isc.Message{"uid": "abc"}, func(topic string, msg isc.Message) {
		assert.Equal(t, "fieldedge/modem", topic)
		assert.Equal(t, "abc", msg.UID())
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler not dispatched")
	}
	require.NoError(t, c.pool.Stop(time.Second))
}

func TestPublishWhenDisconnected(t *testing.T) {
	c, err := NewClient("tcp://localhost:1883")
	require.NoError(t, err)

	err = c.Publish(context.Background(), "fieldedge/modem", isc.Message{})
	assert.ErrorIs(t, err, errors.ErrNotConnected)
	assert.True(t, errors.IsTransient(err))

	err = c.Subscribe(context.Background(), "fieldedge/#", func(string, isc.Message) {})
	assert.ErrorIs(t, err, errors.ErrNotConnected)
}
