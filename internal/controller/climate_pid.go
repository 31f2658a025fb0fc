package controller

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/template"
)

type ClimatePIDOptions struct {
	PIDOptions
	// OutputMin and OutputMax narrow the appliance's own setpoint range.
	OutputMin, OutputMax *template.Value
}

// climatePID regulates a climate appliance by moving its setpoint.
type climatePID struct {
	pidCore
	dev    ClimateDevice
	outMin *template.Value
	outMax *template.Value
}

func NewClimatePID(cfg Config, dev ClimateDevice, opts ClimatePIDOptions) (*Controller, error) {
	if dev == nil {
		return nil, ErrNoTarget
	}
	c, err := newController(cfg, dev.EntityID())
	if err != nil {
		return nil, err
	}
	v := &climatePID{dev: dev, outMin: opts.OutputMin, outMax: opts.OutputMax}
	v.pidCore = newPIDCore(c, opts.PIDOptions)
	v.pidCore.out = v
	c.impl = v
	return c, nil
}

func (v *climatePID) limits() (float64, float64, bool) {
	defMin, defMax := v.c.host.MinTemp(), v.c.host.MaxTemp()
	if st, ok := v.dev.Climate(); ok {
		if st.MinTemp != nil {
			defMin = *st.MinTemp
		}
		if st.MaxTemp != nil {
			defMax = *st.MaxTemp
		}
	}
	lo, hi := v.rangeLimits(v.outMin, v.outMax, defMin, defMax)
	return lo, hi, true
}

func (v *climatePID) adapt(out float64) float64 {
	lo, hi, _ := v.limits()
	return scale(out, lo, hi)
}

func (v *climatePID) round(out float64) float64 {
	st, ok := v.dev.Climate()
	if !ok {
		return out
	}
	return roundToStep(out, st.Step)
}

func (v *climatePID) current() (float64, bool) {
	st, ok := v.dev.Climate()
	if !ok || st.Temperature == nil {
		return 0, false
	}
	return *st.Temperature, true
}

func (v *climatePID) apply(ctx context.Context, out float64) error {
	return v.dev.SetTemperature(ctx, out)
}

func (v *climatePID) on() bool {
	st, ok := v.dev.Climate()
	return ok && st.HVACMode == model.ModeForSide(v.c.side)
}

func (v *climatePID) start(context.Context) error { return v.setup() }

func (v *climatePID) stop(ctx context.Context) error {
	v.reset()
	return v.dev.TurnOff(ctx)
}

func (v *climatePID) ensureOff(ctx context.Context) error {
	if v.on() {
		log.Debug().Str("controller", v.c.name).Msg("Turning off appliance, controller not running")
		return v.dev.TurnOff(ctx)
	}
	return nil
}

func (v *climatePID) control(ctx context.Context, p pass) error {
	if err := v.pidCore.control(ctx, p); err != nil {
		return err
	}
	if !v.on() || p.keepAlive() {
		return v.dev.SetHVACMode(ctx, model.ModeForSide(v.c.side))
	}
	return nil
}

func (v *climatePID) isOn() bool   { return v.on() }
func (v *climatePID) active() bool { return climateActive(v.dev, v.c, v.on()) }

func (v *climatePID) restore(context.Context, map[string]any) error { return nil }

func (v *climatePID) templateEntities() []string {
	return append(v.pidCore.templateEntities(), collectEntities(v.outMin, v.outMax)...)
}

func (v *climatePID) targetEntities() []string { return []string{v.dev.EntityID()} }
