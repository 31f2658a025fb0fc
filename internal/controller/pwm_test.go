package controller

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/universal-thermostat/internal/actuator"
	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/template"
)

// newPWMForDuty builds a running PWM controller whose PID settles on duty
// percent for a 1 degree error.
func newPWMForDuty(t *testing.T, duty float64, period time.Duration) (*Controller, *fakeSwitch) {
	t.Helper()
	host := newFakeHost(20, 21)
	sw := &fakeSwitch{id: "switch.floor"}
	c, err := NewPWM(Config{Name: "floor", Side: model.SideHeat}, sw, PWMOptions{
		PIDOptions: PIDOptions{Kp: template.Static(duty)},
		Period:     period,
	})
	require.NoError(t, err)
	c.SetHost(host)
	require.NoError(t, c.Restore(context.Background(), nil))
	require.NoError(t, c.Start(context.Background()))
	return c, sw
}

func TestNewPWM_RequiresPeriod(t *testing.T) {
	_, err := NewPWM(Config{Name: "floor", Side: model.SideHeat}, &fakeSwitch{id: "switch.floor"}, PWMOptions{})
	assert.ErrorIs(t, err, ErrInvalidPWMPeriod)
}

func TestPWM_DurationsSumToPeriod(t *testing.T) {
	periods := []time.Duration{7 * time.Second, 20 * time.Minute, time.Hour + 13*time.Millisecond}

	for _, period := range periods {
		t.Run(period.String(), func(t *testing.T) {
			c, err := NewPWM(Config{Name: "floor", Side: model.SideHeat}, &fakeSwitch{id: "switch.floor"}, PWMOptions{Period: period})
			require.NoError(t, err)
			v := c.impl.(*pwmSwitch)

			for duty := model.PWMMinValue; duty <= model.PWMMaxValue; duty++ {
				v.value = &duty
				on, off := v.durations()
				assert.Equal(t, period, on+off, "duty %d", duty)
				assert.GreaterOrEqual(t, off, time.Duration(0))
			}
		})
	}
}

func TestPWM_Scenario(t *testing.T) {
	c, sw := newPWMForDuty(t, 25, 20*time.Minute)
	ctx := context.Background()

	v := c.impl.(*pwmSwitch)
	v.value = new(int)
	*v.value = 25
	on, off := v.durations()
	assert.Equal(t, 5*time.Minute, on)
	assert.Equal(t, 15*time.Minute, off)

	require.NoError(t, c.Control(ctx, t0, false, model.ReasonPWMControl))
	assert.True(t, sw.on, "first tick without prior phase starts ON")

	steps := []struct {
		at   time.Duration
		want bool
	}{
		{4 * time.Minute, true},
		{5 * time.Minute, false},
		{19 * time.Minute, false},
		{20 * time.Minute, true},
	}
	for _, st := range steps {
		require.NoError(t, c.Control(ctx, t0.Add(st.at), false, model.ReasonPWMControl))
		assert.Equal(t, st.want, sw.on, "at %s", st.at)
	}

	attrs := c.Attributes()
	assert.Equal(t, 25, attrs[model.AttrPWMValue])
	assert.Equal(t, model.StateOn, attrs[model.AttrLastControlState])
	assert.Equal(t, t0.Add(20*time.Minute).Format(time.RFC3339), attrs[model.AttrLastControlTime])
}

func TestPWM_ExtremesNeverEnterEmptyPhase(t *testing.T) {
	tests := []struct {
		duty      float64
		forbidden string
	}{
		{0, actuator.ServiceTurnOn},
		{100, actuator.ServiceTurnOff},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("duty %v", tt.duty), func(t *testing.T) {
			c, sw := newPWMForDuty(t, tt.duty, 10*time.Minute)

			for i := 0; i < 300; i++ {
				at := t0.Add(time.Duration(i) * 7 * time.Second)
				require.NoError(t, c.Control(context.Background(), at, false, model.ReasonPWMControl))
			}
			assert.False(t, slices.Contains(sw.calls, tt.forbidden), "calls: %v", sw.calls)
		})
	}
}

func TestPWM_ReconcilesExternalChanges(t *testing.T) {
	c, sw := newPWMForDuty(t, 50, 10*time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Control(ctx, t0, false, model.ReasonPWMControl))
	require.True(t, sw.on)

	// Someone switched it off by hand mid phase.
	sw.on = false
	sw.reset()
	require.NoError(t, c.Control(ctx, t0.Add(time.Minute), false, model.ReasonSensorChanged))
	assert.Equal(t, []string{actuator.ServiceTurnOn}, sw.calls)

	sw.reset()
	require.NoError(t, c.Control(ctx, t0.Add(2*time.Minute), false, model.ReasonKeepAlive))
	assert.Equal(t, []string{actuator.ServiceTurnOn}, sw.calls, "keep-alive re-asserts the phase")
}

func TestPWM_StopClearsPhase(t *testing.T) {
	c, sw := newPWMForDuty(t, 25, 20*time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Control(ctx, t0, false, model.ReasonPWMControl))
	require.True(t, sw.on)

	require.NoError(t, c.Stop(ctx))
	assert.False(t, sw.on)
	attrs := c.Attributes()
	assert.Contains(t, attrs, model.AttrPWMValue, "duty cycle survives a stop")
	assert.NotContains(t, attrs, model.AttrLastControlState)
	assert.NotContains(t, attrs, model.AttrLastControlTime)

	require.NoError(t, c.Start(ctx))
	sw.reset()
	require.NoError(t, c.Control(ctx, t0.Add(2*time.Hour), false, model.ReasonSensorChanged))
	assert.Empty(t, sw.calls, "no phase decided yet")
	assert.False(t, sw.on)

	require.NoError(t, c.Control(ctx, t0.Add(2*time.Hour+time.Second), false, model.ReasonPWMControl))
	assert.True(t, sw.on)
}

func TestPWM_NoPhaseKeepsSwitchOff(t *testing.T) {
	c, sw := newPWMForDuty(t, 50, 10*time.Minute)
	sw.on = true

	require.NoError(t, c.Control(context.Background(), t0, false, model.ReasonSensorChanged))
	assert.Equal(t, []string{actuator.ServiceTurnOff}, sw.calls)
}

func TestPWM_RestoreRoundTrip(t *testing.T) {
	c, _ := newPWMForDuty(t, 40, 10*time.Minute)
	require.NoError(t, c.Control(context.Background(), t0, false, model.ReasonPWMControl))
	saved := c.Attributes()

	restored, err := NewPWM(Config{Name: "floor", Side: model.SideHeat}, &fakeSwitch{id: "switch.floor"}, PWMOptions{Period: 10 * time.Minute})
	require.NoError(t, err)
	restored.SetHost(newFakeHost(20, 21))
	require.NoError(t, restored.Restore(context.Background(), saved))

	v := restored.impl.(*pwmSwitch)
	require.NotNil(t, v.value)
	assert.Equal(t, 40, *v.value)
	assert.Equal(t, model.StateOn, v.lastState)
	require.NotNil(t, v.lastTime)
	assert.True(t, t0.Equal(*v.lastTime))
}

func TestPWM_DefaultsToHalfDuty(t *testing.T) {
	c, err := NewPWM(Config{Name: "floor", Side: model.SideHeat}, &fakeSwitch{id: "switch.floor"}, PWMOptions{Period: time.Minute})
	require.NoError(t, err)
	require.NoError(t, c.Restore(context.Background(), map[string]any{model.AttrPWMValue: "n/a"}))

	assert.Equal(t, 50, c.Attributes()[model.AttrPWMValue])
}

func TestPWM_ControlPeriod(t *testing.T) {
	tests := []struct {
		period time.Duration
		want   time.Duration
	}{
		{20 * time.Minute, 12 * time.Second},
		{50 * time.Second, time.Second},
	}
	for _, tt := range tests {
		c, err := NewPWM(Config{Name: "floor", Side: model.SideHeat}, &fakeSwitch{id: "switch.floor"}, PWMOptions{Period: tt.period})
		require.NoError(t, err)

		timers := c.Timers()
		require.Len(t, timers, 1)
		assert.Equal(t, Timer{Interval: tt.want, Reason: model.ReasonPWMControl, RunningOnly: true}, timers[0])
	}
}
