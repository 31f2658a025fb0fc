package controller

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/pid"
	"github.com/thatsimonsguy/universal-thermostat/internal/template"
)

type PIDOptions struct {
	Kp, Ki, Kd *template.Value
	// SamplePeriod schedules periodic pid_control passes and rate limits the
	// PID. Zero disables both.
	SamplePeriod time.Duration
}

// outputAdapter maps the PID's 0..100 output onto a concrete actuator.
type outputAdapter interface {
	// limits returns the actuator range in (min, max) order for heating and
	// (max, min) for cooling.
	limits() (lo, hi float64, ok bool)
	adapt(v float64) float64
	round(v float64) float64
	current() (float64, bool)
	apply(ctx context.Context, v float64) error
}

type limitPair struct{ lo, hi float64 }

// pidCore is the regulation shared by every PID based controller.
type pidCore struct {
	c          *Controller
	out        outputAdapter
	kp, ki, kd *template.Value
	sample     time.Duration

	pid         *pid.PID
	lastOutput  *float64
	lastLimits  *limitPair
	lastCurrent *float64
}

func newPIDCore(c *Controller, opts PIDOptions) pidCore {
	return pidCore{c: c, kp: opts.Kp, ki: opts.Ki, kd: opts.Kd, sample: opts.SamplePeriod}
}

// gain renders a gain and orients it: negated for cooling, and negated
// again for inverted actuators.
func (pc *pidCore) gain(v *template.Value, name string, def float64) float64 {
	g := pc.c.render(v, name, def)
	if pc.c.side == model.SideCool {
		g = -g
	}
	if pc.c.inverted {
		g = -g
	}
	return g
}

func (pc *pidCore) gains() (kp, ki, kd float64) {
	return pc.gain(pc.kp, model.AttrKp, model.DefaultPIDKp),
		pc.gain(pc.ki, model.AttrKi, model.DefaultPIDKi),
		pc.gain(pc.kd, model.AttrKd, model.DefaultPIDKd)
}

// outputLimits are the adapter limits, swapped for inverted actuators.
func (pc *pidCore) outputLimits() (limitPair, bool) {
	lo, hi, ok := pc.out.limits()
	if !ok {
		return limitPair{}, false
	}
	if pc.c.inverted {
		lo, hi = hi, lo
	}
	return limitPair{lo: lo, hi: hi}, true
}

func (pc *pidCore) setup() error {
	limits, ok := pc.outputLimits()
	if !ok {
		return ErrInvalidLimits
	}
	pc.lastLimits = &limits

	kp, ki, kd := pc.gains()
	pc.pid = pid.New(kp, ki, kd, pc.sample)

	log.Debug().
		Str("controller", pc.c.name).
		Float64("kp", kp).
		Float64("ki", ki).
		Float64("kd", kd).
		Float64("limit_lo", limits.lo).
		Float64("limit_hi", limits.hi).
		Msg("PID setup done")
	return nil
}

func (pc *pidCore) reset() {
	pc.pid = nil
	pc.lastOutput = nil
	pc.lastCurrent = nil
}

func (pc *pidCore) control(ctx context.Context, p pass) error {
	if pc.pid == nil {
		log.Error().Str("controller", pc.c.name).Msg("PID is not set up")
		return nil
	}
	logger := log.With().Str("controller", pc.c.name).Str("reason", string(p.reason)).Logger()

	kp, ki, kd := pc.gains()
	if pc.pid.Kp != kp {
		logger.Debug().Float64("from", pc.pid.Kp).Float64("to", kp).Msg("Proportional gain changed")
		pc.pid.Kp = kp
	}
	if pc.pid.Ki != ki {
		logger.Debug().Float64("from", pc.pid.Ki).Float64("to", ki).Msg("Integral gain changed")
		pc.pid.Ki = ki
		pc.pid.Reset()
	}
	if pc.pid.Kd != kd {
		logger.Debug().Float64("from", pc.pid.Kd).Float64("to", kd).Msg("Derivative gain changed")
		pc.pid.Kd = kd
		pc.pid.Reset()
	}
	if pc.pid.SetPoint != p.target {
		logger.Debug().Float64("from", pc.pid.SetPoint).Float64("to", p.target).Msg("Setpoint changed")
		pc.pid.SetPoint = p.target
		pc.pid.Reset()
	}

	limits, ok := pc.outputLimits()
	if !ok {
		logger.Error().Msg("Invalid output limits")
		return nil
	}
	if pc.lastLimits == nil || *pc.lastLimits != limits {
		logger.Debug().Float64("limit_lo", limits.lo).Float64("limit_hi", limits.hi).Msg("Output limits changed")
		if pc.lastLimits != nil {
			pc.pid.Reset()
		}
		pc.lastLimits = &limits
	}

	switch p.reason {
	case model.ReasonKeepAlive:
		if pc.lastOutput != nil {
			return pc.out.apply(ctx, *pc.lastOutput)
		}
	case model.ReasonSensorChanged, model.ReasonTargetTempChanged, model.ReasonPIDControl:
		raw, ok := pc.pid.Update(p.cur, p.now)
		if !ok {
			logger.Debug().Msg("PID produced no output")
			return nil
		}
		output := pc.out.round(pc.out.adapt(raw))

		cur, known := pc.out.current()
		if known {
			cur = pc.out.round(cur)
		}

		pt, it, dt := pc.pid.Components()
		event := logger.Debug().
			Float64("current_temp", p.cur).
			Float64("target_temp", p.target).
			Float64("output", output).
			Float64("p", pt).
			Float64("i", it).
			Float64("d", dt)
		if pc.lastCurrent != nil {
			event = event.Float64("previous_temp", *pc.lastCurrent)
		}

		if !known || cur != output {
			event.Msg("Adjusting output")
			if err := pc.out.apply(ctx, output); err != nil {
				return err
			}
		} else {
			event.Msg("No output change needed")
		}

		pc.lastOutput = &output
		curTemp := p.cur
		pc.lastCurrent = &curTemp
	}
	return nil
}

func (pc *pidCore) attributes(attrs map[string]any) {
	kp, ki, kd := pc.gains()
	attrs[model.AttrKp] = kp
	attrs[model.AttrKi] = ki
	attrs[model.AttrKd] = kd
	if pc.lastOutput != nil {
		attrs[model.AttrPIDOutput] = *pc.lastOutput
	}
	if pc.sample > 0 {
		attrs[model.AttrPIDSamplePeriod] = pc.sample.String()
	}
}

func (pc *pidCore) templateEntities() []string {
	return collectEntities(pc.kp, pc.ki, pc.kd)
}

func (pc *pidCore) timers() []Timer {
	if pc.sample <= 0 {
		return nil
	}
	return []Timer{{Interval: pc.sample, Reason: model.ReasonPIDControl, RunningOnly: true}}
}

// rangeLimits resolves an actuator range: a rendered bound narrows the
// device default, never widens it.
func (pc *pidCore) rangeLimits(minV, maxV *template.Value, defMin, defMax float64) (lo, hi float64) {
	lo, hi = defMin, defMax
	if minV != nil {
		if v := pc.c.render(minV, "output_min", defMin); v > lo {
			lo = v
		}
	}
	if maxV != nil {
		if v := pc.c.render(maxV, "output_max", defMax); v < hi {
			hi = v
		}
	}
	if pc.c.side == model.SideCool {
		return hi, lo
	}
	return lo, hi
}

// scale maps a 0..100 PID output linearly onto [lo, hi].
func scale(v, lo, hi float64) float64 {
	return lo + v*(hi-lo)/100
}
