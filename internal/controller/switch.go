package controller

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/template"
)

type SwitchOptions struct {
	ColdTolerance    *template.Value
	HotTolerance     *template.Value
	MinCycleDuration time.Duration
}

type output interface {
	on() bool
	turnOn(ctx context.Context, reason model.Reason) error
	turnOff(ctx context.Context, reason model.Reason) error
}

// band is the tolerance-band on/off regulator shared by the switch and the
// climate switch controllers.
type band struct {
	c        *Controller
	coldTol  *template.Value
	hotTol   *template.Value
	minCycle time.Duration
}

func (b *band) coldTolerance() float64 {
	return b.c.render(b.coldTol, model.AttrColdTolerance, model.DefaultColdTolerance)
}

func (b *band) hotTolerance() float64 {
	return b.c.render(b.hotTol, model.AttrHotTolerance, model.DefaultHotTolerance)
}

func (b *band) attributes(attrs map[string]any) {
	attrs[model.AttrColdTolerance] = b.coldTolerance()
	attrs[model.AttrHotTolerance] = b.hotTolerance()
	if b.minCycle > 0 {
		attrs[model.AttrMinCycleDuration] = b.minCycle.String()
	}
}

func (b *band) step(ctx context.Context, p pass, out output, tracker changeTracker) error {
	// Only unforced keep-alive passes honour the minimum cycle.
	if !p.force && p.keepAlive() && b.minCycle > 0 && !heldFor(tracker, p.now, b.minCycle) {
		log.Debug().Str("controller", b.c.name).Dur("min_cycle", b.minCycle).Msg("Minimum cycle not reached, skipping keep-alive")
		return nil
	}

	coldTol := b.coldTolerance()
	hotTol := b.hotTolerance()

	tooCold := p.cur <= p.target-coldTol
	tooHot := p.cur >= p.target+hotTol

	heat := b.c.side == model.SideHeat
	needOn := (tooHot && !heat) || (tooCold && heat)
	needOff := (tooCold && !heat) || (tooHot && heat)
	isOn := out.on()

	log.Debug().
		Str("controller", b.c.name).
		Float64("current", p.cur).
		Float64("target", p.target).
		Float64("cold_tolerance", coldTol).
		Float64("hot_tolerance", hotTol).
		Bool("too_cold", tooCold).
		Bool("too_hot", tooHot).
		Bool("is_on", isOn).
		Str("reason", string(p.reason)).
		Msg("Switch control")

	switch {
	case isOn && needOff:
		return out.turnOff(ctx, p.reason)
	case isOn && p.keepAlive():
		return out.turnOn(ctx, p.reason)
	case !isOn && needOn:
		return out.turnOn(ctx, p.reason)
	case !isOn && p.keepAlive():
		return out.turnOff(ctx, p.reason)
	}
	return nil
}

type switchVariant struct {
	band
	out relay
}

// NewSwitch builds a tolerance-band controller for an on/off switch.
func NewSwitch(cfg Config, dev SwitchDevice, opts SwitchOptions) (*Controller, error) {
	if dev == nil {
		return nil, ErrNoTarget
	}
	c, err := newController(cfg, dev.EntityID())
	if err != nil {
		return nil, err
	}
	c.impl = &switchVariant{
		band: band{c: c, coldTol: opts.ColdTolerance, hotTol: opts.HotTolerance, minCycle: opts.MinCycleDuration},
		out:  relay{name: cfg.Name, dev: dev, inverted: cfg.Inverted},
	}
	return c, nil
}

func (s *switchVariant) start(context.Context) error { return nil }

func (s *switchVariant) stop(ctx context.Context) error {
	return s.out.turnOff(ctx, model.ReasonStop)
}

func (s *switchVariant) ensureOff(ctx context.Context) error {
	if s.out.on() {
		return s.out.turnOff(ctx, model.ReasonNotRunning)
	}
	return nil
}

func (s *switchVariant) control(ctx context.Context, p pass) error {
	return s.step(ctx, p, s.out, s.out.dev)
}

func (s *switchVariant) isOn() bool   { return s.out.on() }
func (s *switchVariant) active() bool { return s.out.on() }

func (s *switchVariant) restore(context.Context, map[string]any) error { return nil }

func (s *switchVariant) templateEntities() []string {
	return collectEntities(s.coldTol, s.hotTol)
}

func (s *switchVariant) targetEntities() []string { return []string{s.out.dev.EntityID()} }

func (s *switchVariant) timers() []Timer { return nil }
