// Package thermostat coordinates a set of heat and cool controllers around
// one temperature sensor: it owns the HVAC mode, the setpoints, the preset
// engine and the window interlock, and serializes every control pass.
package thermostat

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/universal-thermostat/internal/actuator"
	"github.com/thatsimonsguy/universal-thermostat/internal/controller"
	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/preset"
	"github.com/thatsimonsguy/universal-thermostat/internal/state"
	"github.com/thatsimonsguy/universal-thermostat/internal/template"
	"github.com/thatsimonsguy/universal-thermostat/internal/window"
)

// Sensor reads the room temperature the thermostat regulates.
type Sensor interface {
	EntityID() string
	CurrentTemperature() (float64, bool)
}

// Metrics receives gauges after every control pass.
type Metrics interface {
	Gauge(name string, value float64, tags ...string)
}

// Notifier delivers human readable events (mode changes, interlock, start
// failures).
type Notifier interface {
	Send(title, message string) error
}

// StateWriter is told about every state change. It is called with the
// engine lock held and must not call back into the thermostat.
type StateWriter interface {
	WriteState(st Status)
}

type Config struct {
	Name             string
	MinTemp          *float64
	MaxTemp          *float64
	Precision        *float64
	TargetTempStep   *float64
	HeatCoolDisabled bool
	AutoHeatDelta    *template.Value
	AutoCoolDelta    *template.Value
}

type Deps struct {
	Registry    *state.Registry
	Sensor      Sensor
	Controllers []*controller.Controller
	Windows     *window.Set
	Presets     *preset.Manager
	Metrics     Metrics
	Notifier    Notifier
	Writers     []StateWriter
	Now         func() time.Time
}

type Thermostat struct {
	mu sync.Mutex

	cfg         Config
	reg         *state.Registry
	sensor      Sensor
	controllers []*controller.Controller
	windows     *window.Set
	presets     *preset.Manager
	metrics     Metrics
	notifier    Notifier
	writers     []StateWriter
	now         func() time.Time
	env         template.Env
	commandID   string

	hvacModes      []model.HVACMode
	hvacMode       model.HVACMode
	lastActiveMode model.HVACMode
	lastAsyncMode  model.HVACMode
	targetTemp     float64
	targetTempLow  float64
	targetTempHigh float64
	curTemp        *float64
	interlocked    bool

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	unsubs    []func()
	windowGen map[string]uint64
	queue     *eventQueue
	started   bool
}

func New(cfg Config, deps Deps) (*Thermostat, error) {
	if len(deps.Controllers) == 0 {
		return nil, ErrNoControllers
	}
	if deps.Sensor == nil {
		return nil, ErrNoSensor
	}
	if deps.Registry == nil {
		deps.Registry = state.NewRegistry()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Presets == nil {
		deps.Presets = preset.NoPresets()
	}
	if deps.Windows == nil {
		deps.Windows = window.NewSet(deps.Registry)
	}

	t := &Thermostat{
		cfg:         cfg,
		reg:         deps.Registry,
		sensor:      deps.Sensor,
		controllers: deps.Controllers,
		windows:     deps.Windows,
		presets:     deps.Presets,
		metrics:     deps.Metrics,
		notifier:    deps.Notifier,
		writers:     deps.Writers,
		now:         deps.Now,
		commandID:   actuator.NewCommandID(),
		hvacMode:    model.ModeOff,
		windowGen:   map[string]uint64{},
		queue:       newEventQueue(),
	}
	if t.MinTemp() >= t.MaxTemp() {
		return nil, fmt.Errorf("%s: %w", cfg.Name, ErrInvalidTempRange)
	}
	t.env = template.Env{
		template.StateFunc: func(entityID string) any {
			st, ok := t.reg.Get(entityID)
			if !ok {
				return nil
			}
			return st.Value
		},
		template.AttrFunc: func(entityID, name string) any {
			st, ok := t.reg.Get(entityID)
			if !ok {
				return nil
			}
			return st.Attr(name)
		},
	}

	seen := map[string]bool{}
	hasSide := map[model.Side]bool{}
	for _, c := range t.controllers {
		key := string(c.Side()) + "/" + c.Name()
		if seen[key] {
			return nil, fmt.Errorf("%w: %s controller %q", ErrDuplicateController, c.Side(), c.Name())
		}
		seen[key] = true
		hasSide[c.Side()] = true
		c.SetHost(hostView{t})
	}

	t.hvacModes = []model.HVACMode{model.ModeOff}
	if hasSide[model.SideHeat] {
		t.hvacModes = append(t.hvacModes, model.ModeHeat)
	}
	if hasSide[model.SideCool] {
		t.hvacModes = append(t.hvacModes, model.ModeCool)
	}
	if hasSide[model.SideHeat] && hasSide[model.SideCool] {
		t.hvacModes = append(t.hvacModes, model.ModeAuto)
		if !cfg.HeatCoolDisabled {
			t.hvacModes = append(t.hvacModes, model.ModeHeatCool)
		}
	}

	t.targetTemp = t.MinTemp()
	t.targetTempLow = t.MinTemp()
	t.targetTempHigh = t.MaxTemp()
	return t, nil
}

func (t *Thermostat) Name() string { return t.cfg.Name }

func (t *Thermostat) MinTemp() float64 {
	if t.cfg.MinTemp != nil {
		return *t.cfg.MinTemp
	}
	return model.DefaultMinTemp
}

func (t *Thermostat) MaxTemp() float64 {
	if t.cfg.MaxTemp != nil {
		return *t.cfg.MaxTemp
	}
	return model.DefaultMaxTemp
}

func (t *Thermostat) Precision() float64 {
	if t.cfg.Precision != nil {
		return *t.cfg.Precision
	}
	return model.DefaultPrecision
}

func (t *Thermostat) TargetTempStep() float64 {
	if t.cfg.TargetTempStep != nil {
		return *t.cfg.TargetTempStep
	}
	return t.Precision()
}

// HVACModes lists the supported modes, "off" first.
func (t *Thermostat) HVACModes() []model.HVACMode {
	return slices.Clone(t.hvacModes)
}

func (t *Thermostat) supports(mode model.HVACMode) bool {
	return slices.Contains(t.hvacModes, mode)
}

// ranged reports whether setpoints are a low/high pair.
func (t *Thermostat) ranged() bool {
	return t.hvacMode == model.ModeHeatCool ||
		(t.hvacMode == model.ModeOff && t.lastActiveMode == model.ModeHeatCool)
}

func (t *Thermostat) roundToStep(v float64) float64 {
	step := t.TargetTempStep()
	if step <= 0 {
		return v
	}
	return math.RoundToEven(v/step) * step
}

func (t *Thermostat) renderDelta(v *template.Value, param string, def float64) float64 {
	if v == nil {
		return def
	}
	out, err := v.Render(t.env)
	if err != nil {
		log.Warn().
			Err(err).
			Str("thermostat", t.cfg.Name).
			Str("param", param).
			Float64("default", def).
			Msg("Template render failed, using default")
		return def
	}
	return out
}

func (t *Thermostat) autoHeatDelta() float64 {
	return t.renderDelta(t.cfg.AutoHeatDelta, model.AttrAutoHeatDelta, model.DefaultAutoHeatDelta)
}

func (t *Thermostat) autoCoolDelta() float64 {
	return t.renderDelta(t.cfg.AutoCoolDelta, model.AttrAutoCoolDelta, model.DefaultAutoCoolDelta)
}

// controllerTarget is the setpoint handed to controllers of side.
func (t *Thermostat) controllerTarget(side model.Side) (float64, bool) {
	switch t.hvacMode {
	case model.ModeHeatCool:
		if side == model.SideHeat {
			return t.targetTempLow, true
		}
		return t.targetTempHigh, true
	case model.ModeAuto:
		if side == model.SideHeat {
			if v, ok := t.presets.AutoHeatTarget(); ok {
				return v, true
			}
			return t.targetTemp - t.autoHeatDelta() + t.presets.AutoHeatDelta(), true
		}
		if v, ok := t.presets.AutoCoolTarget(); ok {
			return v, true
		}
		return t.targetTemp + t.autoCoolDelta() + t.presets.AutoCoolDelta(), true
	}
	return t.targetTemp, true
}

// hvacAction must be called with the lock held.
func (t *Thermostat) hvacAction() model.HVACAction {
	if t.hvacMode == model.ModeOff {
		return model.ActionOff
	}
	for _, c := range t.controllers {
		if !c.Active() {
			continue
		}
		if c.Side() == model.SideCool {
			return model.ActionCooling
		}
		return model.ActionHeating
	}
	return model.ActionIdle
}

// withCommand makes sure every actuator write carries a command id.
func (t *Thermostat) withCommand(ctx context.Context) context.Context {
	if actuator.CommandID(ctx) != "" {
		return ctx
	}
	return actuator.WithCommandID(ctx, t.commandID)
}

func (t *Thermostat) notify(title, message string) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.Send(title, message); err != nil {
		log.Warn().Err(err).Str("thermostat", t.cfg.Name).Str("title", title).Msg("Failed to send notification")
	}
}

// hostView exposes the thermostat to its controllers. Controllers only call
// it from inside a control pass, so it never takes the lock.
type hostView struct{ t *Thermostat }

func (h hostView) Name() string { return h.t.cfg.Name }

func (h hostView) CurrentTemperature() (float64, bool) {
	if h.t.curTemp == nil {
		return 0, false
	}
	return *h.t.curTemp, true
}

func (h hostView) TargetTemperature(side model.Side) (float64, bool) {
	return h.t.controllerTarget(side)
}

func (h hostView) MinTemp() float64          { return h.t.MinTemp() }
func (h hostView) MaxTemp() float64          { return h.t.MaxTemp() }
func (h hostView) TemplateEnv() template.Env { return h.t.env }
