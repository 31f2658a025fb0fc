package thermostat

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/universal-thermostat/internal/actuator"
	"github.com/thatsimonsguy/universal-thermostat/internal/controller"
	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/preset"
	"github.com/thatsimonsguy/universal-thermostat/internal/state"
	"github.com/thatsimonsguy/universal-thermostat/internal/template"
	"github.com/thatsimonsguy/universal-thermostat/internal/window"
)

const (
	sensorID = "sensor.living_room"
	heaterID = "switch.heater"
	coolerID = "switch.ac"
	windowID = "binary_sensor.living_room_window"
)

type registrySensor struct {
	reg *state.Registry
}

func (s registrySensor) EntityID() string { return sensorID }

func (s registrySensor) CurrentTemperature() (float64, bool) {
	st, ok := s.reg.Get(sensorID)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(st.Value, 64)
	return f, err == nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *fakeNotifier) Send(title, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	return nil
}

func (n *fakeNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.titles...)
}

type fakeMetrics struct {
	mu     sync.Mutex
	gauges map[string]float64
}

func (m *fakeMetrics) Gauge(name string, value float64, _ ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gauges == nil {
		m.gauges = map[string]float64{}
	}
	m.gauges[name] = value
}

type fakeWriter struct {
	mu     sync.Mutex
	writes []Status
}

func (w *fakeWriter) WriteState(st Status) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, st)
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.writes)
}

// recordingCommander remembers every command before handing it on.
type recordingCommander struct {
	next actuator.Commander
	mu   sync.Mutex
	cmds []actuator.Command
}

func (c *recordingCommander) Call(ctx context.Context, cmd actuator.Command) error {
	c.mu.Lock()
	c.cmds = append(c.cmds, cmd)
	c.mu.Unlock()
	return c.next.Call(ctx, cmd)
}

func (c *recordingCommander) count(entityID, service string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, cmd := range c.cmds {
		if cmd.EntityID == entityID && cmd.Service == service {
			n++
		}
	}
	return n
}

type rigOptions struct {
	cfg           Config
	keepAlive     time.Duration
	presets       map[string]preset.Preset
	windowTimeout *template.Value
	withWindow    bool
	ignoreWindows bool
	heatOnly      bool
}

type rig struct {
	reg      *state.Registry
	cmd      *recordingCommander
	th       *Thermostat
	heater   *controller.Controller
	cooler   *controller.Controller
	notifier *fakeNotifier
	metrics  *fakeMetrics
	writer   *fakeWriter
}

func newRig(t *testing.T, opts rigOptions) *rig {
	t.Helper()
	reg := state.NewRegistry()
	cmd := &recordingCommander{next: actuator.NewLoopback(reg)}
	reg.Set(heaterID, model.StateOff, nil)
	reg.Set(coolerID, model.StateOff, nil)

	heater, err := controller.NewSwitch(controller.Config{Name: "heater", Side: model.SideHeat, KeepAlive: opts.keepAlive}, actuator.NewSwitch(reg, cmd, heaterID), controller.SwitchOptions{})
	require.NoError(t, err)
	ctrls := []*controller.Controller{heater}

	var cooler *controller.Controller
	if !opts.heatOnly {
		cooler, err = controller.NewSwitch(controller.Config{Name: "ac", Side: model.SideCool, IgnoreWindows: opts.ignoreWindows}, actuator.NewSwitch(reg, cmd, coolerID), controller.SwitchOptions{})
		require.NoError(t, err)
		ctrls = append(ctrls, cooler)
	}

	presets, err := preset.NewManager(opts.presets)
	require.NoError(t, err)

	windows := window.NewSet(reg)
	if opts.withWindow {
		reg.Set(windowID, model.StateOff, nil)
		windows = window.NewSet(reg, window.New(windowID, opts.windowTimeout, false))
	}

	r := &rig{
		reg:      reg,
		cmd:      cmd,
		heater:   heater,
		cooler:   cooler,
		notifier: &fakeNotifier{},
		metrics:  &fakeMetrics{},
		writer:   &fakeWriter{},
	}
	if opts.cfg.Name == "" {
		opts.cfg.Name = "living_room"
	}
	r.th, err = New(opts.cfg, Deps{
		Registry:    reg,
		Sensor:      registrySensor{reg: reg},
		Controllers: ctrls,
		Windows:     windows,
		Presets:     presets,
		Metrics:     r.metrics,
		Notifier:    r.notifier,
		Writers:     []StateWriter{r.writer},
	})
	require.NoError(t, err)
	return r
}

func (r *rig) start(t *testing.T, cur float64) {
	t.Helper()
	r.reg.Set(sensorID, strconv.FormatFloat(cur, 'f', -1, 64), nil)
	require.NoError(t, r.th.Restore(context.Background(), nil))
	require.NoError(t, r.th.Start(context.Background()))
	t.Cleanup(func() { _ = r.th.Close(context.Background()) })
}

func (r *rig) isOn(id string) bool {
	st, ok := r.reg.Get(id)
	return ok && st.Value == model.StateOn
}

func (r *rig) running(c *controller.Controller) bool {
	r.th.mu.Lock()
	defer r.th.mu.Unlock()
	return c.Running()
}

func (r *rig) targets() (heat, cool float64) {
	r.th.mu.Lock()
	defer r.th.mu.Unlock()
	heat, _ = r.th.controllerTarget(model.SideHeat)
	cool, _ = r.th.controllerTarget(model.SideCool)
	return heat, cool
}

func f(v float64) *float64 { return &v }

func TestNew_Validation(t *testing.T) {
	reg := state.NewRegistry()
	sw := actuator.NewSwitch(reg, actuator.NewLoopback(reg), heaterID)
	mk := func(name string) *controller.Controller {
		c, err := controller.NewSwitch(controller.Config{Name: name, Side: model.SideHeat}, sw, controller.SwitchOptions{})
		require.NoError(t, err)
		return c
	}

	tests := []struct {
		name string
		cfg  Config
		deps Deps
		want error
	}{
		{"no controllers", Config{}, Deps{Sensor: registrySensor{reg}}, ErrNoControllers},
		{"no sensor", Config{}, Deps{Controllers: []*controller.Controller{mk("a")}}, ErrNoSensor},
		{"duplicate", Config{}, Deps{Sensor: registrySensor{reg}, Controllers: []*controller.Controller{mk("a"), mk("a")}}, ErrDuplicateController},
		{"inverted range", Config{MinTemp: f(30), MaxTemp: f(10)}, Deps{Sensor: registrySensor{reg}, Controllers: []*controller.Controller{mk("a")}}, ErrInvalidTempRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.deps)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHVACModes(t *testing.T) {
	tests := []struct {
		name string
		opts rigOptions
		want []model.HVACMode
	}{
		{"heat only", rigOptions{heatOnly: true}, []model.HVACMode{model.ModeOff, model.ModeHeat}},
		{"both sides", rigOptions{}, []model.HVACMode{model.ModeOff, model.ModeHeat, model.ModeCool, model.ModeAuto, model.ModeHeatCool}},
		{"heat_cool disabled", rigOptions{cfg: Config{HeatCoolDisabled: true}}, []model.HVACMode{model.ModeOff, model.ModeHeat, model.ModeCool, model.ModeAuto}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, tt.opts)
			assert.Equal(t, tt.want, r.th.HVACModes())
		})
	}
}

func TestRestore_Defaults(t *testing.T) {
	r := newRig(t, rigOptions{})
	require.NoError(t, r.th.Restore(context.Background(), nil))

	st := r.th.Status()
	assert.Equal(t, model.ModeOff, st.HVACMode)
	assert.Equal(t, model.ActionOff, st.HVACAction)
	require.NotNil(t, st.TargetTemperature)
	assert.Equal(t, model.DefaultMinTemp, *st.TargetTemperature)
}

// Scenario: heat_cool 18..24, switching to auto targets the midpoint and
// splits it by the auto deltas.
func TestScenario_HeatCoolToAuto(t *testing.T) {
	r := newRig(t, rigOptions{})
	r.start(t, 21)
	ctx := context.Background()

	require.NoError(t, r.th.SetHVACMode(ctx, model.ModeHeatCool))
	require.NoError(t, r.th.SetTemperature(ctx, TemperatureRequest{Low: f(18), High: f(24)}))
	heat, cool := r.targets()
	assert.Equal(t, 18.0, heat)
	assert.Equal(t, 24.0, cool)

	require.NoError(t, r.th.SetHVACMode(ctx, model.ModeAuto))
	st := r.th.Status()
	require.NotNil(t, st.TargetTemperature)
	assert.InDelta(t, 21.0, *st.TargetTemperature, 1e-9)

	heat, cool = r.targets()
	assert.InDelta(t, 20.0, heat, 1e-9)
	assert.InDelta(t, 22.0, cool, 1e-9)
}

func TestAutoSplitConsistency(t *testing.T) {
	tests := []struct {
		target, heatDelta, coolDelta float64
	}{
		{21, 1, 1},
		{21, 0, 0},
		{18.5, 2.5, 0.5},
		{25, 0.3, 3},
	}
	for _, tt := range tests {
		r := newRig(t, rigOptions{cfg: Config{
			AutoHeatDelta: template.Static(tt.heatDelta),
			AutoCoolDelta: template.Static(tt.coolDelta),
		}})
		r.start(t, tt.target)
		ctx := context.Background()
		require.NoError(t, r.th.SetHVACMode(ctx, model.ModeAuto))
		require.NoError(t, r.th.SetTemperature(ctx, TemperatureRequest{Temperature: f(tt.target)}))

		heat, cool := r.targets()
		assert.InDelta(t, tt.target-tt.heatDelta, heat, 1e-9)
		assert.InDelta(t, tt.target+tt.coolDelta, cool, 1e-9)
		assert.LessOrEqual(t, heat, cool)
	}
}

func TestToggleTargets(t *testing.T) {
	ctx := context.Background()

	t.Run("heat to heat_cool keeps low and adds cool delta", func(t *testing.T) {
		r := newRig(t, rigOptions{cfg: Config{AutoCoolDelta: template.Static(2)}})
		r.start(t, 21)
		require.NoError(t, r.th.SetHVACMode(ctx, model.ModeHeat))
		require.NoError(t, r.th.SetTemperature(ctx, TemperatureRequest{Temperature: f(20)}))
		require.NoError(t, r.th.SetHVACMode(ctx, model.ModeHeatCool))

		st := r.th.Status()
		require.NotNil(t, st.TargetTempLow)
		assert.InDelta(t, 20.0, *st.TargetTempLow, 1e-9)
		assert.InDelta(t, 22.0, *st.TargetTempHigh, 1e-9)
		assert.Nil(t, st.TargetTemperature)
	})

	t.Run("heat_cool to cool takes high", func(t *testing.T) {
		r := newRig(t, rigOptions{})
		r.start(t, 21)
		require.NoError(t, r.th.SetHVACMode(ctx, model.ModeHeatCool))
		require.NoError(t, r.th.SetTemperature(ctx, TemperatureRequest{Low: f(19), High: f(25)}))
		require.NoError(t, r.th.SetHVACMode(ctx, model.ModeCool))

		st := r.th.Status()
		require.NotNil(t, st.TargetTemperature)
		assert.Equal(t, 25.0, *st.TargetTemperature)
	})
}

func TestSetTemperature(t *testing.T) {
	r := newRig(t, rigOptions{cfg: Config{TargetTempStep: f(0.5)}})
	r.start(t, 21)
	ctx := context.Background()
	require.NoError(t, r.th.SetHVACMode(ctx, model.ModeHeat))

	require.NoError(t, r.th.SetTemperature(ctx, TemperatureRequest{Temperature: f(21.3)}))
	assert.Equal(t, 21.5, *r.th.Status().TargetTemperature)

	assert.ErrorIs(t, r.th.SetTemperature(ctx, TemperatureRequest{Low: f(18)}), ErrMissingTemperature)

	require.NoError(t, r.th.SetHVACMode(ctx, model.ModeHeatCool))
	assert.ErrorIs(t, r.th.SetTemperature(ctx, TemperatureRequest{Temperature: f(20)}), ErrMissingTemperature)
	require.NoError(t, r.th.SetTemperature(ctx, TemperatureRequest{High: f(26.2)}))
	assert.Equal(t, 26.0, *r.th.Status().TargetTempHigh)
}

func TestSetHVACMode_Errors(t *testing.T) {
	r := newRig(t, rigOptions{heatOnly: true})
	r.start(t, 21)
	ctx := context.Background()

	assert.ErrorIs(t, r.th.SetHVACMode(ctx, model.ModeCool), ErrUnsupportedMode)
	require.NoError(t, r.th.SetHVACMode(ctx, model.ModeOff), "no-op change")
}

func TestControlPass_StartsAndStopsBySide(t *testing.T) {
	r := newRig(t, rigOptions{})
	r.start(t, 18)
	ctx := context.Background()

	require.NoError(t, r.th.SetHVACMode(ctx, model.ModeHeat))
	require.NoError(t, r.th.SetTemperature(ctx, TemperatureRequest{Temperature: f(21)}))
	assert.True(t, r.heater.Running())
	assert.False(t, r.cooler.Running())
	assert.True(t, r.isOn(heaterID))
	assert.Equal(t, model.ActionHeating, r.th.Status().HVACAction)

	require.NoError(t, r.th.SetHVACMode(ctx, model.ModeCool))
	assert.False(t, r.heater.Running())
	assert.True(t, r.cooler.Running())
	assert.False(t, r.isOn(heaterID))
	assert.Equal(t, model.ActionIdle, r.th.Status().HVACAction)

	require.NoError(t, r.th.TurnOff(ctx))
	assert.False(t, r.cooler.Running())
	assert.Equal(t, model.ActionOff, r.th.Status().HVACAction)

	require.NoError(t, r.th.TurnOn(ctx))
	assert.Equal(t, model.ModeCool, r.th.Status().HVACMode, "turn on restores the last active mode")
}

func TestSensorChangeDrivesControl(t *testing.T) {
	r := newRig(t, rigOptions{heatOnly: true})
	r.start(t, 22)
	ctx := context.Background()
	require.NoError(t, r.th.SetHVACMode(ctx, model.ModeHeat))
	require.NoError(t, r.th.SetTemperature(ctx, TemperatureRequest{Temperature: f(21)}))
	require.False(t, r.isOn(heaterID))

	r.reg.Set(sensorID, "20.1", nil)
	require.Eventually(t, func() bool { return r.isOn(heaterID) }, time.Second, 5*time.Millisecond)

	r.reg.Set(sensorID, model.StateUnavailable, nil)
	r.reg.Set(sensorID, "21.5", nil)
	require.Eventually(t, func() bool { return !r.isOn(heaterID) }, time.Second, 5*time.Millisecond)

	st := r.th.Status()
	require.NotNil(t, st.CurrentTemperature)
	assert.Equal(t, 21.5, *st.CurrentTemperature)
}

func TestKeepAliveTimerReasserts(t *testing.T) {
	r := newRig(t, rigOptions{heatOnly: true, keepAlive: 20 * time.Millisecond})
	r.start(t, 18)
	ctx := context.Background()
	require.NoError(t, r.th.SetHVACMode(ctx, model.ModeHeat))
	require.NoError(t, r.th.SetTemperature(ctx, TemperatureRequest{Temperature: f(21)}))
	require.True(t, r.isOn(heaterID))
	turnedOn := r.cmd.count(heaterID, actuator.ServiceTurnOn)

	// no sensor or target change from here on
	require.Eventually(t, func() bool {
		return r.cmd.count(heaterID, actuator.ServiceTurnOn) >= turnedOn+2
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, r.cmd.count(heaterID, actuator.ServiceTurnOff))

	// a relay dropped behind the thermostat's back is switched on again
	r.reg.Set(heaterID, model.StateOff, nil)
	require.Eventually(t, func() bool { return r.isOn(heaterID) }, time.Second, 5*time.Millisecond)
}

func TestWindowInterlock(t *testing.T) {
	r := newRig(t, rigOptions{withWindow: true, ignoreWindows: true})
	r.start(t, 18)
	ctx := context.Background()
	require.NoError(t, r.th.SetHVACMode(ctx, model.ModeHeatCool))
	require.NoError(t, r.th.SetTemperature(ctx, TemperatureRequest{Low: f(21), High: f(25)}))
	require.True(t, r.isOn(heaterID))

	r.reg.Set(windowID, model.StateOn, nil)
	require.Eventually(t, func() bool { return !r.running(r.heater) && !r.isOn(heaterID) }, time.Second, 5*time.Millisecond)
	assert.True(t, r.running(r.cooler), "controllers ignoring windows keep running")
	assert.Contains(t, r.notifier.sent(), "living_room: window open")

	r.reg.Set(windowID, model.StateOff, nil)
	require.Eventually(t, func() bool { return r.running(r.heater) && r.isOn(heaterID) }, time.Second, 5*time.Millisecond)
}

func TestWindowInterlock_Debounced(t *testing.T) {
	r := newRig(t, rigOptions{withWindow: true, windowTimeout: template.Static(0.2)})
	r.start(t, 18)
	require.NoError(t, r.th.SetHVACMode(context.Background(), model.ModeHeat))
	require.True(t, r.heater.Running())

	r.reg.Set(windowID, model.StateOn, nil)
	time.Sleep(50 * time.Millisecond)
	assert.True(t, r.running(r.heater), "open shorter than the timeout does not interlock")

	require.Eventually(t, func() bool { return !r.running(r.heater) }, 2*time.Second, 10*time.Millisecond)
}

// Scenario: a preset defining only a cool target switches a heating
// thermostat to cool, and "none" puts everything back.
func TestPreset_RoundTrip(t *testing.T) {
	r := newRig(t, rigOptions{presets: map[string]preset.Preset{
		preset.Away:  {CoolTargetTemp: f(26)},
		preset.Sleep: {TempDelta: f(-2)},
	}})
	r.start(t, 21)
	ctx := context.Background()
	require.NoError(t, r.th.SetHVACMode(ctx, model.ModeHeat))
	require.NoError(t, r.th.SetTemperature(ctx, TemperatureRequest{Temperature: f(21)}))

	require.NoError(t, r.th.SetPresetMode(ctx, preset.Away))
	st := r.th.Status()
	assert.Equal(t, model.ModeCool, st.HVACMode)
	assert.Equal(t, 26.0, *st.TargetTemperature)
	assert.Equal(t, preset.Away, st.PresetMode)

	require.NoError(t, r.th.SetPresetMode(ctx, preset.Sleep))
	st = r.th.Status()
	assert.Equal(t, model.ModeHeat, st.HVACMode, "computed from the saved baseline")
	assert.Equal(t, 19.0, *st.TargetTemperature)

	require.NoError(t, r.th.SetPresetMode(ctx, model.PresetNone))
	st = r.th.Status()
	assert.Equal(t, model.ModeHeat, st.HVACMode)
	assert.Equal(t, 21.0, *st.TargetTemperature)
	assert.NotContains(t, r.th.Attributes(), model.AttrPresetNoneSavedState)

	assert.ErrorIs(t, r.th.SetPresetMode(ctx, "vacation"), ErrUnknownPreset)
}

func TestPreset_RestoresZero(t *testing.T) {
	r := newRig(t, rigOptions{
		cfg:     Config{MinTemp: f(-10)},
		presets: map[string]preset.Preset{preset.Eco: {TempDelta: f(2)}},
	})
	r.start(t, 0)
	ctx := context.Background()
	require.NoError(t, r.th.SetHVACMode(ctx, model.ModeHeat))
	require.NoError(t, r.th.SetTemperature(ctx, TemperatureRequest{Temperature: f(0)}))

	require.NoError(t, r.th.SetPresetMode(ctx, preset.Eco))
	assert.Equal(t, 2.0, *r.th.Status().TargetTemperature)

	require.NoError(t, r.th.SetPresetMode(ctx, model.PresetNone))
	assert.Equal(t, 0.0, *r.th.Status().TargetTemperature)
}

func TestSetHVACMode_DropsPreset(t *testing.T) {
	r := newRig(t, rigOptions{presets: map[string]preset.Preset{preset.Eco: {TempDelta: f(-3)}}})
	r.start(t, 21)
	ctx := context.Background()
	require.NoError(t, r.th.SetHVACMode(ctx, model.ModeHeat))
	require.NoError(t, r.th.SetTemperature(ctx, TemperatureRequest{Temperature: f(21)}))
	require.NoError(t, r.th.SetPresetMode(ctx, preset.Eco))

	require.NoError(t, r.th.SetHVACMode(ctx, model.ModeCool))
	st := r.th.Status()
	assert.Equal(t, model.PresetNone, st.PresetMode)
	assert.Equal(t, 18.0, *st.TargetTemperature, "the preset target stays, nothing is restored")
}

func TestAttributes_RestoreRoundTrip(t *testing.T) {
	presets := map[string]preset.Preset{preset.Away: {HeatDelta: f(-4), CoolDelta: f(3)}}
	r := newRig(t, rigOptions{presets: presets})
	r.start(t, 21)
	ctx := context.Background()
	require.NoError(t, r.th.SetHVACMode(ctx, model.ModeHeatCool))
	require.NoError(t, r.th.SetTemperature(ctx, TemperatureRequest{Low: f(19), High: f(24)}))
	require.NoError(t, r.th.SetPresetMode(ctx, preset.Away))

	raw, err := json.Marshal(r.th.Attributes())
	require.NoError(t, err)
	var attrs map[string]any
	require.NoError(t, json.Unmarshal(raw, &attrs))
	assert.Contains(t, attrs, "ctrl_heater")

	restored := newRig(t, rigOptions{presets: presets})
	require.NoError(t, restored.th.Restore(ctx, attrs))

	want := r.th.Status()
	got := restored.th.Status()
	got.CurrentTemperature, want.CurrentTemperature = nil, nil
	got.HVACAction, want.HVACAction = "", ""
	assert.Equal(t, want, got)

	saved, ok := restored.th.presets.Saved()
	require.True(t, ok)
	assert.Equal(t, model.ModeHeatCool, saved.HVACMode)
	assert.Equal(t, 19.0, *saved.TargetTempLow)

	require.NoError(t, restored.th.SetPresetMode(ctx, model.PresetNone))
	got = restored.th.Status()
	assert.Equal(t, 19.0, *got.TargetTempLow)
	assert.Equal(t, 24.0, *got.TargetTempHigh)
}

func TestMetricsAndStateWrites(t *testing.T) {
	r := newRig(t, rigOptions{heatOnly: true})
	r.start(t, 18)
	require.NoError(t, r.th.SetHVACMode(context.Background(), model.ModeHeat))

	r.metrics.mu.Lock()
	assert.Equal(t, 18.0, r.metrics.gauges["thermostat.current_temp"])
	assert.Equal(t, 1.0, r.metrics.gauges["controller.running"])
	r.metrics.mu.Unlock()
	assert.GreaterOrEqual(t, r.writer.count(), 2)
}

func TestClose_StopsControllers(t *testing.T) {
	r := newRig(t, rigOptions{heatOnly: true})
	r.start(t, 18)
	ctx := context.Background()
	require.NoError(t, r.th.SetHVACMode(ctx, model.ModeHeat))
	require.NoError(t, r.th.SetTemperature(ctx, TemperatureRequest{Temperature: f(21)}))
	require.True(t, r.isOn(heaterID))

	require.NoError(t, r.th.Close(ctx))
	assert.False(t, r.heater.Running())
	assert.False(t, r.isOn(heaterID))
	require.NoError(t, r.th.Start(ctx), "a closed thermostat can be started again")
	require.NoError(t, r.th.Close(ctx))
}
