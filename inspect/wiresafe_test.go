package inspect

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nestedStatus struct {
	FixQuality int
	Source     string
	callback   func() // unexported, must not appear
}

type statusReport struct {
	PowerMode int
	Gnss      nestedStatus
	RAW_NMEA  string
}

func TestWireSafePrimitives(t *testing.T) {
	assert.Equal(t, 42, WireSafe(42, true, true))
	assert.Equal(t, "text", WireSafe("text", true, true))
	assert.Equal(t, true, WireSafe(true, true, true))
	assert.Nil(t, WireSafe(nil, true, true))
}

func TestWireSafeMapKeys(t *testing.T) {
	in := map[string]any{
		"power_mode": 2,
		"LOG_LEVELS": []string{"DEBUG", "INFO"},
		"nested": map[string]any{
			"fix_quality": 1,
		},
	}
	out, ok := WireSafe(in, true, true).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 2, out["powerMode"])
	assert.Contains(t, out, "LOG_LEVELS")
	nested, ok := out["nested"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, nested["fixQuality"])
}

func TestWireSafeMapNonStringKeys(t *testing.T) {
	in := map[int]string{1: "one"}
	out, ok := WireSafe(in, true, true).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "one", out["1"])
}

func TestWireSafeStructExpansion(t *testing.T) {
	report := statusReport{
		PowerMode: 2,
		Gnss:      nestedStatus{FixQuality: 3, Source: "gps"},
		RAW_NMEA:  "$GPGGA",
	}
	out, ok := WireSafe(report, true, true).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 2, out["powerMode"])
	assert.Contains(t, out, "RAW_NMEA")

	nested, ok := out["gnss"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 3, nested["fixQuality"])
	assert.Equal(t, "gps", nested["source"])
	assert.NotContains(t, nested, "callback")
}

func TestWireSafeSlices(t *testing.T) {
	in := []any{map[string]any{"fix_quality": 1}, "plain", 3}
	out, ok := WireSafe(in, true, true).([]any)
	require.True(t, ok)
	require.Len(t, out, 3)
	nested, ok := out[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, nested["fixQuality"])
}

func TestWireSafeNonSerializableLeaf(t *testing.T) {
	in := map[string]any{
		"good": 1,
		"bad":  func() {},
		"ch":   make(chan int),
	}
	out, ok := WireSafe(in, true, true).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, out["good"])
	assert.Equal(t, Placeholder, out["bad"])
	assert.Equal(t, Placeholder, out["ch"])

	// The whole payload still marshals.
	_, err := json.Marshal(out)
	assert.NoError(t, err)
}

func TestWireSafeResultAlwaysMarshals(t *testing.T) {
	type tricky struct {
		Name string
		Fn   func()
		Ptr  *nestedStatus
	}
	out := WireSafe(tricky{Name: "x"}, true, true)
	_, err := json.Marshal(out)
	require.NoError(t, err)
}

func TestEquivalent(t *testing.T) {
	a := statusReport{PowerMode: 1, Gnss: nestedStatus{FixQuality: 2}}
	b := statusReport{PowerMode: 1, Gnss: nestedStatus{FixQuality: 2}}
	c := statusReport{PowerMode: 1, Gnss: nestedStatus{FixQuality: 3}}

	assert.True(t, Equivalent(a, b))
	assert.False(t, Equivalent(a, c))
}

func TestEquivalentTypeMismatch(t *testing.T) {
	assert.False(t, Equivalent(statusReport{}, nestedStatus{}))
	assert.False(t, Equivalent(1, "1"))
}

func TestEquivalentExclude(t *testing.T) {
	a := statusReport{PowerMode: 1, Gnss: nestedStatus{FixQuality: 2}}
	c := statusReport{PowerMode: 1, Gnss: nestedStatus{FixQuality: 3}}
	assert.True(t, Equivalent(a, c, "FixQuality"))
}

func TestEquivalentPointers(t *testing.T) {
	a := &nestedStatus{FixQuality: 1}
	b := &nestedStatus{FixQuality: 1}
	var null *nestedStatus

	assert.True(t, Equivalent(a, b))
	assert.False(t, Equivalent(a, null))
	assert.True(t, Equivalent(null, null))
}

func TestEquivalentMapsAndSlices(t *testing.T) {
	assert.True(t, Equivalent(map[string]int{"a": 1}, map[string]int{"a": 1}))
	assert.False(t, Equivalent(map[string]int{"a": 1}, map[string]int{"a": 2}))
	assert.True(t, Equivalent([]int{1, 2}, []int{1, 2}))
	assert.False(t, Equivalent([]int{1, 2}, []int{2, 1}))
}
