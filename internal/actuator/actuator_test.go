package actuator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/state"
)

type recordingCommander struct {
	calls []Command
	err   error
}

func (r *recordingCommander) Call(_ context.Context, cmd Command) error {
	r.calls = append(r.calls, cmd)
	return r.err
}

func TestRouter_DispatchesByEntity(t *testing.T) {
	mqttSide := &recordingCommander{}
	modbusSide := &recordingCommander{}

	r := NewRouter(mqttSide)
	r.Route("switch.boiler", modbusSide)

	ctx := WithCommandID(context.Background(), "ctx-1")
	require.NoError(t, r.Call(ctx, Command{EntityID: "switch.boiler", Service: ServiceTurnOn}))
	require.NoError(t, r.Call(ctx, Command{EntityID: "switch.fan", Service: ServiceTurnOn}))

	assert.Len(t, modbusSide.calls, 1)
	assert.Len(t, mqttSide.calls, 1)
}

func TestRouter_NoRoute(t *testing.T) {
	r := NewRouter(nil)
	err := r.Call(context.Background(), Command{EntityID: "switch.x"})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestSwitch_CommandsCarryContext(t *testing.T) {
	reg := state.NewRegistry()
	rec := &recordingCommander{}
	sw := NewSwitch(reg, rec, "switch.heater")

	ctx := WithCommandID(context.Background(), "abc")
	require.NoError(t, sw.TurnOn(ctx))
	require.NoError(t, sw.TurnOff(ctx))

	require.Len(t, rec.calls, 2)
	assert.Equal(t, Command{EntityID: "switch.heater", Service: ServiceTurnOn, ContextID: "abc"}, rec.calls[0])
	assert.Equal(t, ServiceTurnOff, rec.calls[1].Service)
}

func TestSwitch_ErrorWrapped(t *testing.T) {
	boom := errors.New("broker down")
	sw := NewSwitch(state.NewRegistry(), &recordingCommander{err: boom}, "switch.heater")

	err := sw.TurnOn(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "turn_on switch.heater")
}

func TestLoopback_DrivesRegistry(t *testing.T) {
	reg := state.NewRegistry()
	lb := NewLoopback(reg)
	ctx := context.Background()

	sw := NewSwitch(reg, lb, "switch.heater")
	assert.False(t, sw.IsOn())
	require.NoError(t, sw.TurnOn(ctx))
	assert.True(t, sw.IsOn())
	_, ok := sw.LastChanged()
	assert.True(t, ok)

	reg.Set("climate.ac", "off", map[string]any{AttrMinTemp: 16.0, AttrMaxTemp: 30.0, AttrTempStep: 0.5})
	cl := NewClimate(reg, lb, "climate.ac")
	require.NoError(t, cl.SetHVACMode(ctx, model.ModeCool))
	require.NoError(t, cl.SetTemperature(ctx, 23.5))

	cs, ok := cl.Climate()
	require.True(t, ok)
	assert.Equal(t, model.ModeCool, cs.HVACMode)
	require.NotNil(t, cs.Temperature)
	assert.Equal(t, 23.5, *cs.Temperature)
	assert.Equal(t, 16.0, *cs.MinTemp)
	assert.Equal(t, 0.5, *cs.Step)

	reg.Set("number.valve", "0", map[string]any{AttrMin: 0, AttrMax: 100, AttrStep: 1})
	num := NewNumber(reg, lb, "number.valve")
	require.NoError(t, num.SetValue(ctx, 42))
	ns, ok := num.Number()
	require.True(t, ok)
	assert.Equal(t, 42.0, *ns.Value)
	assert.Equal(t, 100.0, *ns.Max)
}

func TestClimate_Unavailable(t *testing.T) {
	reg := state.NewRegistry()
	cl := NewClimate(reg, nil, "climate.ac")

	_, ok := cl.Climate()
	assert.False(t, ok)

	reg.Set("climate.ac", model.StateUnavailable, nil)
	_, ok = cl.Climate()
	assert.False(t, ok)
}
