package controller

import (
	"context"

	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/template"
)

type NumberPIDOptions struct {
	PIDOptions
	OutputMin, OutputMax *template.Value

	// Switch is an optional companion switch kept on while the controller
	// runs, e.g. a circulation pump in front of a mixing valve.
	Switch         SwitchDevice
	SwitchInverted bool
}

type numberPID struct {
	pidCore
	dev    NumberDevice
	outMin *template.Value
	outMax *template.Value
	sw     *relay
}

func NewNumberPID(cfg Config, dev NumberDevice, opts NumberPIDOptions) (*Controller, error) {
	if dev == nil {
		return nil, ErrNoTarget
	}
	c, err := newController(cfg, dev.EntityID())
	if err != nil {
		return nil, err
	}
	v := &numberPID{dev: dev, outMin: opts.OutputMin, outMax: opts.OutputMax}
	if opts.Switch != nil {
		v.sw = &relay{name: cfg.Name, dev: opts.Switch, inverted: opts.SwitchInverted}
	}
	v.pidCore = newPIDCore(c, opts.PIDOptions)
	v.pidCore.out = v
	c.impl = v
	return c, nil
}

func (v *numberPID) limits() (float64, float64, bool) {
	defMin, defMax := v.c.host.MinTemp(), v.c.host.MaxTemp()
	if st, ok := v.dev.Number(); ok {
		if st.Min != nil {
			defMin = *st.Min
		}
		if st.Max != nil {
			defMax = *st.Max
		}
	}
	lo, hi := v.rangeLimits(v.outMin, v.outMax, defMin, defMax)
	return lo, hi, true
}

func (v *numberPID) adapt(out float64) float64 {
	lo, hi, _ := v.limits()
	return scale(out, lo, hi)
}

func (v *numberPID) round(out float64) float64 {
	st, ok := v.dev.Number()
	if !ok {
		return out
	}
	return roundToStep(out, st.Step)
}

func (v *numberPID) current() (float64, bool) {
	st, ok := v.dev.Number()
	if !ok || st.Value == nil {
		return 0, false
	}
	return *st.Value, true
}

func (v *numberPID) apply(ctx context.Context, out float64) error {
	return v.dev.SetValue(ctx, out)
}

// on follows the companion switch, or the running flag without one.
func (v *numberPID) on() bool {
	if v.sw == nil {
		return v.c.running
	}
	return v.sw.on()
}

func (v *numberPID) turnOn(ctx context.Context, reason model.Reason) error {
	if v.sw == nil {
		return nil
	}
	return v.sw.turnOn(ctx, reason)
}

func (v *numberPID) turnOff(ctx context.Context, reason model.Reason) error {
	if v.sw == nil {
		return nil
	}
	return v.sw.turnOff(ctx, reason)
}

func (v *numberPID) start(context.Context) error { return v.setup() }

func (v *numberPID) stop(ctx context.Context) error {
	v.reset()
	return v.turnOff(ctx, model.ReasonStop)
}

func (v *numberPID) ensureOff(ctx context.Context) error {
	if v.on() {
		return v.turnOff(ctx, model.ReasonNotRunning)
	}
	return nil
}

func (v *numberPID) control(ctx context.Context, p pass) error {
	if err := v.pidCore.control(ctx, p); err != nil {
		return err
	}
	if !v.on() || p.keepAlive() {
		return v.turnOn(ctx, p.reason)
	}
	return nil
}

func (v *numberPID) isOn() bool   { return v.on() }
func (v *numberPID) active() bool { return v.on() }

func (v *numberPID) restore(context.Context, map[string]any) error { return nil }

func (v *numberPID) templateEntities() []string {
	return append(v.pidCore.templateEntities(), collectEntities(v.outMin, v.outMax)...)
}

func (v *numberPID) targetEntities() []string {
	ids := []string{v.dev.EntityID()}
	if v.sw != nil {
		ids = append(ids, v.sw.dev.EntityID())
	}
	return ids
}
