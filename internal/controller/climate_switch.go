package controller

import (
	"context"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/template"
)

type ClimateSwitchOptions struct {
	SwitchOptions
	// TargetTempDelta is pushed beyond the thermostat target: subtracted
	// for cooling, added for heating.
	TargetTempDelta *template.Value
}

// climateSwitch drives a climate appliance as if it were a switch: "on"
// means the appliance runs in this side's mode with an offset setpoint.
type climateSwitch struct {
	band
	dev   ClimateDevice
	delta *template.Value
}

func NewClimateSwitch(cfg Config, dev ClimateDevice, opts ClimateSwitchOptions) (*Controller, error) {
	if dev == nil {
		return nil, ErrNoTarget
	}
	c, err := newController(cfg, dev.EntityID())
	if err != nil {
		return nil, err
	}
	c.impl = &climateSwitch{
		band:  band{c: c, coldTol: opts.ColdTolerance, hotTol: opts.HotTolerance, minCycle: opts.MinCycleDuration},
		dev:   dev,
		delta: opts.TargetTempDelta,
	}
	return c, nil
}

// deviceMode is the appliance mode that means "on" for this controller.
func (s *climateSwitch) deviceMode() model.HVACMode {
	if (s.c.side == model.SideCool) != s.c.inverted {
		return model.ModeCool
	}
	return model.ModeHeat
}

func (s *climateSwitch) on() bool {
	st, ok := s.dev.Climate()
	return ok && st.HVACMode == s.deviceMode()
}

func (s *climateSwitch) turnOn(ctx context.Context, reason model.Reason) error {
	log.Debug().Str("controller", s.c.name).Str("entity", s.dev.EntityID()).Str("reason", string(reason)).Msg("Turning on")
	if target, ok := s.c.host.TargetTemperature(s.c.side); ok {
		if err := s.setTemperature(ctx, target, reason); err != nil {
			return err
		}
	}
	return s.dev.SetHVACMode(ctx, s.deviceMode())
}

func (s *climateSwitch) turnOff(ctx context.Context, reason model.Reason) error {
	log.Debug().Str("controller", s.c.name).Str("entity", s.dev.EntityID()).Str("reason", string(reason)).Msg("Turning off")
	return s.dev.TurnOff(ctx)
}

func (s *climateSwitch) tempDelta() float64 {
	return s.c.render(s.delta, model.AttrTargetTempDelta, model.DefaultClimateTempDelta)
}

func (s *climateSwitch) setTemperature(ctx context.Context, target float64, reason model.Reason) error {
	if s.c.side == model.SideCool {
		target -= s.tempDelta()
	} else {
		target += s.tempDelta()
	}

	st, ok := s.dev.Climate()
	if ok {
		if st.MinTemp != nil && st.MaxTemp != nil {
			target = math.Min(math.Max(target, *st.MinTemp), *st.MaxTemp)
		}
		target = roundToStep(target, st.Step)
		if st.Temperature != nil && *st.Temperature == target {
			return nil
		}
	}

	log.Debug().
		Str("controller", s.c.name).
		Str("entity", s.dev.EntityID()).
		Float64("temperature", target).
		Str("reason", string(reason)).
		Msg("Setting appliance temperature")
	return s.dev.SetTemperature(ctx, target)
}

func (s *climateSwitch) start(context.Context) error { return nil }

func (s *climateSwitch) stop(ctx context.Context) error {
	return s.turnOff(ctx, model.ReasonStop)
}

func (s *climateSwitch) ensureOff(ctx context.Context) error {
	if s.on() {
		return s.turnOff(ctx, model.ReasonNotRunning)
	}
	return nil
}

func (s *climateSwitch) control(ctx context.Context, p pass) error {
	if err := s.step(ctx, p, s, s.dev); err != nil {
		return err
	}
	if s.on() {
		return s.setTemperature(ctx, p.target, p.reason)
	}
	return nil
}

func (s *climateSwitch) isOn() bool { return s.on() }

func (s *climateSwitch) active() bool {
	return climateActive(s.dev, s.c, s.on())
}

func (s *climateSwitch) attributes(attrs map[string]any) {
	s.band.attributes(attrs)
	attrs[model.AttrTargetTempDelta] = s.tempDelta()
}

func (s *climateSwitch) restore(context.Context, map[string]any) error { return nil }

func (s *climateSwitch) templateEntities() []string {
	return collectEntities(s.coldTol, s.hotTol, s.delta)
}

func (s *climateSwitch) targetEntities() []string { return []string{s.dev.EntityID()} }

func (s *climateSwitch) timers() []Timer { return nil }

// climateActive prefers the appliance's reported hvac_action over its mode.
func climateActive(dev ClimateDevice, c *Controller, on bool) bool {
	st, ok := dev.Climate()
	if !ok || st.HVACAction == "" {
		return on
	}
	coolingSide := model.SideCool
	if c.inverted {
		coolingSide = model.SideHeat
	}
	if c.side == coolingSide {
		return st.HVACAction == model.ActionCooling
	}
	return st.HVACAction == model.ActionHeating
}

func roundToStep(v float64, step *float64) float64 {
	if step == nil || *step == 0 {
		return v
	}
	return math.RoundToEven(v / *step) * *step
}
