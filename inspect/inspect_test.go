package inspect

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inmarsat-enterprise/fieldedge-utilities/errors"
	"github.com/inmarsat-enterprise/fieldedge-utilities/propname"
)

// testModem models a service type declaring its exposed properties.
type testModem struct {
	serialNumber string
	powerMode    int
	props        *PropertySet
}

func newTestModem() *testModem {
	m := &testModem{serialNumber: "SN12345", powerMode: 1}
	m.props = NewPropertySet("modem")
	m.props.MustAdd("serial_number", Accessor{
		Get: func() any { return m.serialNumber },
	})
	m.props.MustAdd("power_mode", Accessor{
		Get: func() any { return m.powerMode },
		Set: func(v any) error {
			mode, ok := v.(int)
			if !ok {
				if f, isFloat := v.(float64); isFloat {
					mode = int(f)
				} else {
					return errors.WrapInvalid(errors.ErrInvalidInput, "testModem", "power_mode",
						fmt.Sprintf("%T", v))
				}
			}
			m.powerMode = mode
			return nil
		},
	})
	return m
}

func TestAddValidation(t *testing.T) {
	ps := NewPropertySet("thing")
	assert.Error(t, ps.Add("", Accessor{Get: func() any { return nil }}))
	assert.Error(t, ps.Add("_private", Accessor{Get: func() any { return nil }}))
	assert.Error(t, ps.Add("no_getter", Accessor{}))

	require.NoError(t, ps.Add("val", Accessor{Get: func() any { return 1 }}))
	err := ps.Add("val", Accessor{Get: func() any { return 2 }})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestListSkipsConstantsAndIgnored(t *testing.T) {
	ps := NewPropertySet("thing")
	ps.MustAdd("normal", Accessor{Get: func() any { return 1 }})
	ps.MustAdd("LOG_LEVELS", Accessor{Get: func() any { return []string{"DEBUG"} }})
	ps.MustAdd("hidden", Accessor{Get: func() any { return 2 }})

	assert.Equal(t, []string{"normal"}, ps.List("hidden"))
}

func TestClassifyWithoutGetterInvocation(t *testing.T) {
	called := false
	ps := NewPropertySet("thing")
	ps.MustAdd("ro", Accessor{Get: func() any { called = true; return 1 }})
	ps.MustAdd("rw", Accessor{
		Get: func() any { called = true; return 1 },
		Set: func(any) error { return nil },
	})

	class, err := ps.Classify("ro")
	require.NoError(t, err)
	assert.Equal(t, ReadOnly, class)

	class, err = ps.Classify("rw")
	require.NoError(t, err)
	assert.Equal(t, ReadWrite, class)

	assert.False(t, called, "classification must not invoke getters")

	_, err = ps.Classify("missing")
	assert.True(t, errors.Is(err, errors.ErrUnknownProperty))
}

func TestGetSet(t *testing.T) {
	m := newTestModem()

	v, err := m.props.Get("power_mode")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, m.props.Set("power_mode", 2))
	assert.Equal(t, 2, m.powerMode)

	err = m.props.Set("serial_number", "other")
	assert.True(t, errors.Is(err, errors.ErrReadOnlyProperty))

	err = m.props.Set("missing", 1)
	assert.True(t, errors.Is(err, errors.ErrUnknownProperty))
}

func TestValues(t *testing.T) {
	m := newTestModem()
	values := m.props.Values()
	assert.Equal(t, map[string]any{"serial_number": "SN12345", "power_mode": 1}, values)
}

func TestTaggedNamesAutoTag(t *testing.T) {
	m := newTestModem()
	names, err := TaggedNames(m.props, TagOptions{AutoTag: true, WireCase: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"modemSerialNumber", "modemPowerMode"}, names)
}

func TestTaggedNamesExplicitTagAndIgnore(t *testing.T) {
	m := newTestModem()
	names, err := TaggedNames(m.props, TagOptions{
		Tag: "mdm", WireCase: true, Ignore: []string{"serial_number"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"mdmPowerMode"}, names)
}

func TestTaggedNamesUntaggedInternalCase(t *testing.T) {
	m := newTestModem()
	names, err := TaggedNames(m.props, TagOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"serial_number", "power_mode"}, names)
}

func TestTaggedByClass(t *testing.T) {
	m := newTestModem()
	grouped, err := TaggedByClass(m.props, TagOptions{AutoTag: true, WireCase: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"modemSerialNumber"}, grouped[propname.ReadOnlyWire])
	assert.Equal(t, []string{"modemPowerMode"}, grouped[propname.ReadWriteWire])
}

func TestTaggedByClassOmitsEmptyCategory(t *testing.T) {
	ps := NewPropertySet("ro")
	ps.MustAdd("only_read", Accessor{Get: func() any { return 1 }})
	grouped, err := TaggedByClass(ps, TagOptions{WireCase: true})
	require.NoError(t, err)
	_, hasRW := grouped[propname.ReadWriteWire]
	assert.False(t, hasRW)
	assert.Len(t, grouped, 1)
}
