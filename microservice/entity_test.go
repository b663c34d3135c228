package microservice

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inmarsat-enterprise/fieldedge-utilities/errors"
	"github.com/inmarsat-enterprise/fieldedge-utilities/inspect"
	"github.com/inmarsat-enterprise/fieldedge-utilities/isc"
	"github.com/inmarsat-enterprise/fieldedge-utilities/mqttclient"
)

// testModem is a minimal satellite modem model: an immutable serial number
// and a writable power mode.
type testModem struct {
	serialNumber string
	powerMode    int
}

func newModemProps(m *testModem) *inspect.PropertySet {
	ps := inspect.NewPropertySet("modem")
	ps.MustAdd("serial_number", inspect.Accessor{
		Get: func() any { return m.serialNumber },
	})
	ps.MustAdd("power_mode", inspect.Accessor{
		Get: func() any { return m.powerMode },
		Set: func(v any) error {
			switch value := v.(type) {
			case int:
				m.powerMode = value
			case float64:
				m.powerMode = int(value)
			default:
				return fmt.Errorf("power_mode: unsupported type %T", v)
			}
			return nil
		},
	})
	return ps
}

func newTestEntity(t *testing.T, broker *mqttclient.TestBroker,
	opts ...EntityOption) (*Entity, *testModem) {
	t.Helper()
	modem := &testModem{serialNumber: "INM-00123", powerMode: 1}
	entity, err := NewEntity("modem", newModemProps(modem), broker, opts...)
	require.NoError(t, err)
	require.NoError(t, entity.Start(context.Background()))
	return entity, modem
}

func TestNewEntityValidation(t *testing.T) {
	broker := mqttclient.NewTestBroker()
	_, err := NewEntity("", newModemProps(&testModem{}), broker)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
	_, err = NewEntity("modem", nil, broker)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
	_, err = NewEntity("modem", newModemProps(&testModem{}), nil)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestListProperties(t *testing.T) {
	entity, _ := newTestEntity(t, mqttclient.NewTestBroker())
	assert.Equal(t, []string{"serial_number", "power_mode"}, entity.ListProperties())

	require.NoError(t, entity.Hide("serial_number"))
	assert.Equal(t, []string{"power_mode"}, entity.ListProperties())

	require.NoError(t, entity.Unhide("serial_number"))
	assert.Len(t, entity.ListProperties(), 2)

	assert.ErrorIs(t, entity.Hide("bogus"), errors.ErrUnknownProperty)
}

func TestListISCProperties(t *testing.T) {
	entity, _ := newTestEntity(t, mqttclient.NewTestBroker())

	flat, err := entity.ListISCProperties(false)
	require.NoError(t, err)
	assert.Equal(t, []string{"serialNumber", "powerMode"}, flat)

	grouped, err := entity.ListISCProperties(true)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"readOnly":  {"serialNumber"},
		"readWrite": {"powerMode"},
	}, grouped)
}

func TestListISCPropertiesTagged(t *testing.T) {
	entity, _ := newTestEntity(t, mqttclient.NewTestBroker(), WithTagging())

	flat, err := entity.ListISCProperties(false)
	require.NoError(t, err)
	assert.Equal(t, []string{"modemSerialNumber", "modemPowerMode"}, flat)
}

func TestISCHideIndependentOfHide(t *testing.T) {
	entity, _ := newTestEntity(t, mqttclient.NewTestBroker())
	require.NoError(t, entity.ISCHide("serial_number"))

	flat, err := entity.ListISCProperties(false)
	require.NoError(t, err)
	assert.Equal(t, []string{"powerMode"}, flat)
	assert.Contains(t, entity.ListProperties(), "serial_number")

	require.NoError(t, entity.ISCUnhide("serial_number"))
	flat, err = entity.ListISCProperties(false)
	require.NoError(t, err)
	assert.Len(t, flat, 2)
}

func TestGetSetByWireName(t *testing.T) {
	entity, modem := newTestEntity(t, mqttclient.NewTestBroker())

	value, err := entity.GetByWireName("serialNumber")
	require.NoError(t, err)
	assert.Equal(t, "INM-00123", value)

	require.NoError(t, entity.SetByWireName("powerMode", 2))
	assert.Equal(t, 2, modem.powerMode)

	err = entity.SetByWireName("serialNumber", "hacked")
	assert.ErrorIs(t, err, errors.ErrReadOnlyProperty)

	_, err = entity.GetByWireName("bogusName")
	assert.ErrorIs(t, err, errors.ErrUnknownProperty)
}

func TestGetByWireNameTagged(t *testing.T) {
	entity, _ := newTestEntity(t, mqttclient.NewTestBroker(), WithTagging())

	value, err := entity.GetByWireName("modemPowerMode")
	require.NoError(t, err)
	assert.Equal(t, 1, value)

	_, err = entity.GetByWireName("gnssPowerMode")
	assert.ErrorIs(t, err, errors.ErrUnknownProperty)
}

func TestGetRequestRespondsWithValues(t *testing.T) {
	broker := mqttclient.NewTestBroker()
	newTestEntity(t, broker)
	ctx := context.Background()

	var responses []isc.Message
	require.NoError(t, broker.Subscribe(ctx, isc.ResponseTopic("modem"),
		func(_ string, m isc.Message) { responses = append(responses, m) }))

	request := isc.Message{isc.KeyUID: "req-1", isc.KeyProperties: []string{"powerMode"}}
	require.NoError(t, broker.Publish(ctx, isc.RequestTopic("modem", isc.MethodGet), request))

	require.Len(t, responses, 1)
	assert.Equal(t, "req-1", responses[0].UID())
	assert.Equal(t, map[string]any{"powerMode": float64(1)}, responses[0].Properties())
	assert.Contains(t, responses[0], isc.KeyTimestamp)
}

func TestGetRequestWithoutNamesReturnsAll(t *testing.T) {
	broker := mqttclient.NewTestBroker()
	newTestEntity(t, broker)
	ctx := context.Background()

	var responses []isc.Message
	require.NoError(t, broker.Subscribe(ctx, isc.ResponseTopic("modem"),
		func(_ string, m isc.Message) { responses = append(responses, m) }))

	require.NoError(t, broker.Publish(ctx, isc.RequestTopic("modem", isc.MethodGet),
		isc.Message{isc.KeyUID: "req-2"}))

	require.Len(t, responses, 1)
	assert.Equal(t, map[string]any{
		"powerMode":    float64(1),
		"serialNumber": "INM-00123",
	}, responses[0].Properties())
}

func TestConcurrentVisibilityChanges(t *testing.T) {
	broker := mqttclient.NewTestBroker()
	entity, _ := newTestEntity(t, broker)
	ctx := context.Background()

	// Mutate the visibility lists while requests resolve names on another
	// goroutine; the race detector flags unguarded list access.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_ = entity.ISCHide("power_mode")
			_ = entity.ISCUnhide("power_mode")
			_ = entity.Hide("serial_number")
			_ = entity.Unhide("serial_number")
			_ = entity.AddRollcallProperty("serial_number")
			entity.RemoveRollcallProperty("serial_number")
		}
	}()
	for i := 0; i < 200; i++ {
		require.NoError(t, broker.Publish(ctx, isc.RequestTopic("modem", isc.MethodGet),
			isc.Message{isc.KeyUID: "req-race"}))
		require.NoError(t, broker.Publish(ctx, isc.RollcallTopic("gateway"),
			isc.Message{isc.KeyUID: "rc-race"}))
	}
	<-done
}

func TestGetRequestAllKeywordReturnsAll(t *testing.T) {
	broker := mqttclient.NewTestBroker()
	newTestEntity(t, broker)
	ctx := context.Background()

	var responses []isc.Message
	require.NoError(t, broker.Subscribe(ctx, isc.ResponseTopic("modem"),
		func(_ string, m isc.Message) { responses = append(responses, m) }))

	// The literal ["all"] list is the wire form of a full refresh, not a
	// property named "all".
	require.NoError(t, broker.Publish(ctx, isc.RequestTopic("modem", isc.MethodGet),
		isc.Message{isc.KeyUID: "req-all", isc.KeyProperties: []string{isc.PropertyAll}}))

	require.Len(t, responses, 1)
	assert.Equal(t, map[string]any{
		"powerMode":    float64(1),
		"serialNumber": "INM-00123",
	}, responses[0].Properties())
}

func TestSetRequestWritesAndReadsBack(t *testing.T) {
	broker := mqttclient.NewTestBroker()
	_, modem := newTestEntity(t, broker)
	ctx := context.Background()

	var responses []isc.Message
	require.NoError(t, broker.Subscribe(ctx, isc.ResponseTopic("modem"),
		func(_ string, m isc.Message) { responses = append(responses, m) }))

	request := isc.Message{
		isc.KeyUID:        "req-3",
		isc.KeyProperties: map[string]any{"powerMode": 3},
	}
	require.NoError(t, broker.Publish(ctx, isc.RequestTopic("modem", isc.MethodSet), request))

	assert.Equal(t, 3, modem.powerMode)
	require.Len(t, responses, 1)
	// The response carries the post-write value read back from the modem.
	assert.Equal(t, map[string]any{"powerMode": float64(3)}, responses[0].Properties())
}

func TestRequestWithoutUIDIsDropped(t *testing.T) {
	broker := mqttclient.NewTestBroker()
	newTestEntity(t, broker)
	ctx := context.Background()

	var responses []isc.Message
	require.NoError(t, broker.Subscribe(ctx, isc.ResponseTopic("modem"),
		func(_ string, m isc.Message) { responses = append(responses, m) }))

	require.NoError(t, broker.Publish(ctx, isc.RequestTopic("modem", isc.MethodGet),
		isc.Message{isc.KeyProperties: []string{"powerMode"}}))
	assert.Empty(t, responses)
}

func TestRollcallResponse(t *testing.T) {
	broker := mqttclient.NewTestBroker()
	entity, _ := newTestEntity(t, broker)
	require.NoError(t, entity.AddRollcallProperty("serial_number"))
	ctx := context.Background()

	var responses []isc.Message
	require.NoError(t, broker.Subscribe(ctx, isc.RollcallResponseTopic("modem"),
		func(_ string, m isc.Message) { responses = append(responses, m) }))

	// Another service's rollcall gets a response carrying its uid.
	require.NoError(t, broker.Publish(ctx, isc.RollcallTopic("gateway"),
		isc.Message{isc.KeyUID: "rc-1"}))
	require.Len(t, responses, 1)
	assert.Equal(t, "rc-1", responses[0].UID())
	assert.Equal(t, "INM-00123", responses[0]["serialNumber"])
}

func TestRollcallIgnoresSelf(t *testing.T) {
	broker := mqttclient.NewTestBroker()
	entity, _ := newTestEntity(t, broker)
	ctx := context.Background()

	var responses []isc.Message
	require.NoError(t, broker.Subscribe(ctx, isc.RollcallResponseTopic("modem"),
		func(_ string, m isc.Message) { responses = append(responses, m) }))

	uid, err := entity.BroadcastRollcall(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, uid)
	assert.Empty(t, responses, "an entity must not answer its own rollcall")
}

func TestNotify(t *testing.T) {
	broker := mqttclient.NewTestBroker()
	entity, _ := newTestEntity(t, broker)
	ctx := context.Background()

	var events []isc.Message
	require.NoError(t, broker.Subscribe(ctx, "fieldedge/modem/event/#",
		func(_ string, m isc.Message) { events = append(events, m) }))

	entity.Notify(ctx, isc.Message{"state": "registered"}, "", "event/network")
	require.Len(t, events, 1)
	assert.Equal(t, "registered", events[0]["state"])
	assert.Contains(t, events[0], isc.KeyTimestamp)
}

func TestNotifyDisconnectedDoesNotPublish(t *testing.T) {
	broker := mqttclient.NewTestBroker()
	entity, _ := newTestEntity(t, broker)
	broker.SetConnected(false)

	entity.Notify(context.Background(), isc.Message{"state": "offline"}, "", "event/network")
	for _, topic := range broker.Published() {
		assert.NotContains(t, topic, "event/network")
	}
}
