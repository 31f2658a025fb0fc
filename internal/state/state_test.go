package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(start time.Time) (*Registry, *time.Time) {
	r := NewRegistry()
	now := start
	r.now = func() time.Time { return now }
	return r, &now
}

func TestSet_LastChangedOnlyMovesOnValueChange(t *testing.T) {
	start := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	r, now := newTestRegistry(start)

	r.Set("switch.heater", "off", nil)
	*now = start.Add(time.Minute)
	r.Set("switch.heater", "off", map[string]any{"power": 0})

	s, ok := r.Get("switch.heater")
	require.True(t, ok)
	assert.Equal(t, start, s.LastChanged)
	assert.Equal(t, start.Add(time.Minute), s.LastUpdated)

	*now = start.Add(2 * time.Minute)
	r.Set("switch.heater", "on", nil)
	s, _ = r.Get("switch.heater")
	assert.Equal(t, start.Add(2*time.Minute), s.LastChanged)
}

func TestSubscribe_DeliversChanges(t *testing.T) {
	r := NewRegistry()

	var got []Change
	cancel := r.Subscribe([]string{"sensor.room"}, func(c Change) {
		got = append(got, c)
	})

	r.Set("sensor.room", "20.5", nil)
	r.Set("sensor.other", "1", nil)
	r.Set("sensor.room", "21.0", nil)

	require.Len(t, got, 2)
	assert.Nil(t, got[0].Old)
	assert.Equal(t, "20.5", got[0].New.Value)
	require.NotNil(t, got[1].Old)
	assert.Equal(t, "20.5", got[1].Old.Value)
	assert.Equal(t, "21.0", got[1].New.Value)

	cancel()
	r.Set("sensor.room", "22.0", nil)
	assert.Len(t, got, 2)
}

func TestMerge_KeepsExistingAttributes(t *testing.T) {
	r := NewRegistry()
	r.Set("climate.ac", "cool", map[string]any{"min_temp": 16.0, "temperature": 24.0})

	r.Merge("climate.ac", nil, map[string]any{"temperature": 23.0})

	s, ok := r.Get("climate.ac")
	require.True(t, ok)
	assert.Equal(t, "cool", s.Value)
	assert.Equal(t, 16.0, s.Attr("min_temp"))
	assert.Equal(t, 23.0, s.Attr("temperature"))
}

func TestGet_ReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.Set("number.valve", "10", map[string]any{"min": 0.0})

	s, _ := r.Get("number.valve")
	s.Attributes["min"] = 99.0

	again, _ := r.Get("number.valve")
	assert.Equal(t, 0.0, again.Attr("min"))
}
