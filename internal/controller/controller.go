// Package controller drives a single actuator toward the thermostat's target.
//
// Every controller shares the same start/stop/control state machine
// (Controller) and delegates the actual regulation to a variant: a
// tolerance-band switch, a climate appliance switched by setpoint delta, or
// one of the PID based outputs (climate setpoint, number value, PWM switch).
package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/template"
)

// Host is the thermostat a controller belongs to.
type Host interface {
	Name() string
	CurrentTemperature() (float64, bool)
	TargetTemperature(side model.Side) (float64, bool)
	MinTemp() float64
	MaxTemp() float64
	TemplateEnv() template.Env
}

// Config holds the settings common to every controller kind.
type Config struct {
	Name          string
	Side          model.Side
	Inverted      bool
	KeepAlive     time.Duration
	IgnoreWindows bool
}

// Timer is a periodic control pass the owner must schedule.
type Timer struct {
	Interval    time.Duration
	Reason      model.Reason
	RunningOnly bool
}

// pass carries the inputs of a single control step.
type pass struct {
	now    time.Time
	cur    float64
	target float64
	force  bool
	reason model.Reason
}

func (p pass) keepAlive() bool { return p.reason == model.ReasonKeepAlive }

type variant interface {
	start(ctx context.Context) error
	stop(ctx context.Context) error
	control(ctx context.Context, p pass) error
	ensureOff(ctx context.Context) error
	isOn() bool
	active() bool
	attributes(attrs map[string]any)
	restore(ctx context.Context, attrs map[string]any) error
	templateEntities() []string
	targetEntities() []string
	timers() []Timer
}

type Controller struct {
	name          string
	side          model.Side
	entityID      string
	inverted      bool
	keepAlive     time.Duration
	ignoreWindows bool

	host    Host
	running bool
	impl    variant
}

func newController(cfg Config, entityID string) (*Controller, error) {
	if !cfg.Side.Valid() {
		return nil, fmt.Errorf("%s: %w: %q", cfg.Name, ErrInvalidSide, cfg.Side)
	}
	if entityID == "" {
		return nil, fmt.Errorf("%s: %w", cfg.Name, ErrNoTarget)
	}
	return &Controller{
		name:          cfg.Name,
		side:          cfg.Side,
		entityID:      entityID,
		inverted:      cfg.Inverted,
		keepAlive:     cfg.KeepAlive,
		ignoreWindows: cfg.IgnoreWindows,
	}, nil
}

func (c *Controller) Name() string        { return c.name }
func (c *Controller) Side() model.Side    { return c.side }
func (c *Controller) EntityID() string    { return c.entityID }
func (c *Controller) Inverted() bool      { return c.inverted }
func (c *Controller) IgnoreWindows() bool { return c.ignoreWindows }
func (c *Controller) Running() bool       { return c.running }

// SetHost attaches the controller to its thermostat. It must be called
// before Start or Control.
func (c *Controller) SetHost(h Host) { c.host = h }

// UniqueID keys the controller's persisted attributes.
func (c *Controller) UniqueID() string {
	return model.ControllerAttrPrefix + model.ObjectID(c.entityID)
}

// IsOn reports whether the actuator is currently switched on.
func (c *Controller) IsOn() bool { return c.impl.isOn() }

// Active reports whether the actuator is delivering heat or cold right now.
func (c *Controller) Active() bool { return c.impl.active() }

// TargetEntities are the actuator entities whose changes should refresh the
// thermostat's published state.
func (c *Controller) TargetEntities() []string { return c.impl.targetEntities() }

// TemplateEntities are the entities referenced by templated parameters.
func (c *Controller) TemplateEntities() []string { return c.impl.templateEntities() }

// Attributes returns the controller's state for persistence.
func (c *Controller) Attributes() map[string]any {
	attrs := map[string]any{model.AttrHVACMode: string(c.side)}
	if c.inverted {
		attrs[model.AttrInverted] = true
	}
	c.impl.attributes(attrs)
	return attrs
}

// Restore loads previously persisted attributes. Call it once, before the
// first control pass.
func (c *Controller) Restore(ctx context.Context, attrs map[string]any) error {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return c.impl.restore(ctx, attrs)
}

// Timers lists the periodic passes this controller needs.
func (c *Controller) Timers() []Timer {
	var out []Timer
	if c.keepAlive > 0 {
		out = append(out, Timer{Interval: c.keepAlive, Reason: model.ReasonKeepAlive})
	}
	return append(out, c.impl.timers()...)
}

func (c *Controller) Start(ctx context.Context) error {
	if c.host == nil {
		return ErrNoHost
	}
	cur, curOK := c.host.CurrentTemperature()
	target, targetOK := c.host.TargetTemperature(c.side)

	logger := log.With().
		Str("thermostat", c.host.Name()).
		Str("controller", c.name).
		Interface("current", optional(cur, curOK)).
		Interface("target", optional(target, targetOK)).
		Logger()

	logger.Debug().Msg("Starting controller")
	if err := c.impl.start(ctx); err != nil {
		logger.Error().Err(err).Msg("Error starting controller")
		return fmt.Errorf("start %s: %w", c.name, err)
	}
	c.running = true
	logger.Debug().Msg("Controller started")
	return nil
}

func (c *Controller) Stop(ctx context.Context) error {
	log.Debug().Str("controller", c.name).Msg("Stopping controller")
	err := c.impl.stop(ctx)
	c.running = false
	if err != nil {
		return fmt.Errorf("stop %s: %w", c.name, err)
	}
	return nil
}

// Control runs one control step. A stopped controller only makes sure its
// actuator is off; a running one regulates when both the current and the
// target temperature are known.
func (c *Controller) Control(ctx context.Context, now time.Time, force bool, reason model.Reason) error {
	if c.host == nil {
		return ErrNoHost
	}
	if !c.running {
		if err := c.impl.ensureOff(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
		return nil
	}

	cur, ok := c.host.CurrentTemperature()
	if !ok {
		return nil
	}
	target, ok := c.host.TargetTemperature(c.side)
	if !ok {
		return nil
	}

	p := pass{now: now, cur: cur, target: target, force: force, reason: reason}
	if err := c.impl.control(ctx, p); err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	return nil
}

// render evaluates a templated parameter, falling back to def when it is
// unset or fails to evaluate.
func (c *Controller) render(v *template.Value, param string, def float64) float64 {
	if v == nil {
		return def
	}
	var env template.Env
	if c.host != nil {
		env = c.host.TemplateEnv()
	}
	out, err := v.Render(env)
	if err != nil {
		log.Warn().
			Err(err).
			Str("controller", c.name).
			Str("param", param).
			Float64("default", def).
			Msg("Unable to render parameter, using default")
		return def
	}
	return out
}

func optional(v float64, ok bool) any {
	if !ok {
		return nil
	}
	return v
}

func collectEntities(values ...*template.Value) []string {
	var out []string
	for _, v := range values {
		out = append(out, v.Entities()...)
	}
	return out
}
