package controller

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/template"
)

type PWMOptions struct {
	PIDOptions
	// Period is the length of one full on/off cycle.
	Period time.Duration
}

// pwmSwitch turns the PID output into a duty cycle on an on/off switch.
type pwmSwitch struct {
	pidCore
	sw     relay
	period time.Duration

	value     *int
	lastState string
	lastTime  *time.Time
}

func NewPWM(cfg Config, dev SwitchDevice, opts PWMOptions) (*Controller, error) {
	if dev == nil {
		return nil, ErrNoTarget
	}
	if opts.Period <= 0 {
		return nil, ErrInvalidPWMPeriod
	}
	c, err := newController(cfg, dev.EntityID())
	if err != nil {
		return nil, err
	}
	// Start from half duty until a persisted value or the PID says otherwise.
	half := (model.PWMMinValue + model.PWMMaxValue) / 2
	v := &pwmSwitch{
		sw:     relay{name: cfg.Name, dev: dev, inverted: cfg.Inverted},
		period: opts.Period,
		value:  &half,
	}
	v.pidCore = newPIDCore(c, opts.PIDOptions)
	v.pidCore.out = v
	c.impl = v
	return c, nil
}

// controlPeriod is how often the duty cycle is checked: a hundredth of the
// period, never faster than once a second.
func (v *pwmSwitch) controlPeriod() time.Duration {
	return max(v.period/model.PWMMaxValue, time.Second)
}

func (v *pwmSwitch) limits() (float64, float64, bool) {
	return model.PWMMinValue, model.PWMMaxValue, true
}

func (v *pwmSwitch) adapt(out float64) float64 { return out }

func (v *pwmSwitch) round(out float64) float64 { return math.Trunc(out) }

func (v *pwmSwitch) current() (float64, bool) {
	if v.value == nil {
		return 0, false
	}
	return float64(*v.value), true
}

func (v *pwmSwitch) apply(_ context.Context, out float64) error {
	n := int(out)
	if v.value == nil || *v.value != n {
		v.value = &n
	}
	return nil
}

func (v *pwmSwitch) start(context.Context) error { return v.setup() }

// stop drops the PID and the current phase. The pwm value survives so the
// next start resumes at the same duty cycle.
func (v *pwmSwitch) stop(ctx context.Context) error {
	v.reset()
	v.lastState = ""
	v.lastTime = nil
	return v.sw.turnOff(ctx, model.ReasonStop)
}

func (v *pwmSwitch) ensureOff(ctx context.Context) error {
	if v.sw.on() {
		return v.sw.turnOff(ctx, model.ReasonNotRunning)
	}
	return nil
}

func (v *pwmSwitch) control(ctx context.Context, p pass) error {
	if err := v.pidCore.control(ctx, p); err != nil {
		return err
	}

	// Keep the real switch in line with the current phase.
	switch {
	case v.lastState == model.StateOn && (p.keepAlive() || !v.sw.on()):
		if err := v.sw.turnOn(ctx, p.reason); err != nil {
			return err
		}
	case v.lastState == model.StateOff && (p.keepAlive() || v.sw.on()):
		if err := v.sw.turnOff(ctx, p.reason); err != nil {
			return err
		}
	case v.lastState == "" && v.sw.on():
		if err := v.sw.turnOff(ctx, p.reason); err != nil {
			return err
		}
	}

	if p.reason == model.ReasonPWMControl {
		return v.phase(ctx, p)
	}
	return nil
}

// durations splits the period by the current duty cycle.
func (v *pwmSwitch) durations() (on, off time.Duration) {
	on = time.Duration(float64(v.period) * float64(*v.value) / model.PWMMaxValue)
	return on, v.period - on
}

func (v *pwmSwitch) phase(ctx context.Context, p pass) error {
	if v.value == nil {
		log.Error().Str("controller", v.c.name).Str("reason", string(p.reason)).Msg("PWM value is not set")
		return nil
	}

	onDur, offDur := v.durations()
	now := p.now.Truncate(time.Second)

	var next string
	switch {
	case v.lastState == "" || v.lastTime == nil:
		next = model.StateOn
		if onDur <= 0 {
			next = model.StateOff
		}
	case v.lastState == model.StateOn && offDur > 0:
		if !now.Before(v.lastTime.Add(onDur)) {
			next = model.StateOff
		}
	case v.lastState == model.StateOff && onDur > 0:
		if !now.Before(v.lastTime.Add(offDur)) {
			next = model.StateOn
		}
	}

	log.Debug().
		Str("controller", v.c.name).
		Int("pwm_value", *v.value).
		Str("last_state", v.lastState).
		Dur("on", onDur).
		Dur("off", offDur).
		Str("next", next).
		Msg("PWM control")

	if next == "" {
		return nil
	}
	v.lastState = next
	v.lastTime = &now
	if next == model.StateOn {
		return v.sw.turnOn(ctx, p.reason)
	}
	return v.sw.turnOff(ctx, p.reason)
}

func (v *pwmSwitch) isOn() bool   { return v.sw.on() }
func (v *pwmSwitch) active() bool { return v.sw.on() }

func (v *pwmSwitch) attributes(attrs map[string]any) {
	v.pidCore.attributes(attrs)
	if v.value != nil {
		attrs[model.AttrPWMValue] = *v.value
	}
	if v.lastState != "" && v.lastTime != nil {
		attrs[model.AttrLastControlState] = v.lastState
		attrs[model.AttrLastControlTime] = v.lastTime.Format(time.RFC3339)
	}
}

func (v *pwmSwitch) restore(_ context.Context, attrs map[string]any) error {
	if raw, ok := attrs[model.AttrPWMValue]; ok && raw != nil {
		if f, err := template.ToFloat(raw); err == nil {
			n := int(v.round(f))
			v.value = &n
		} else {
			log.Warn().Err(err).Str("controller", v.c.name).Msg("Ignoring persisted pwm value")
		}
	}

	switch raw := attrs[model.AttrLastControlTime].(type) {
	case string:
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			v.lastTime = &t
		} else {
			log.Warn().Err(err).Str("controller", v.c.name).Msg("Ignoring persisted control time")
		}
	case time.Time:
		v.lastTime = &raw
	}

	if s, ok := attrs[model.AttrLastControlState].(string); ok && (s == model.StateOn || s == model.StateOff) {
		v.lastState = s
	}

	log.Info().
		Str("controller", v.c.name).
		Int("pwm_value", *v.value).
		Dur("period", v.period).
		Str("last_state", v.lastState).
		Dur("check_every", v.controlPeriod()).
		Msg("Setting up PWM switch")
	return nil
}

func (v *pwmSwitch) targetEntities() []string { return []string{v.sw.dev.EntityID()} }

func (v *pwmSwitch) timers() []Timer {
	return append(v.pidCore.timers(), Timer{
		Interval:    v.controlPeriod(),
		Reason:      model.ReasonPWMControl,
		RunningOnly: true,
	})
}
