package controller

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/universal-thermostat/internal/actuator"
	"github.com/thatsimonsguy/universal-thermostat/internal/model"
)

type SwitchDevice interface {
	EntityID() string
	IsOn() bool
	LastChanged() (time.Time, bool)
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
}

type ClimateDevice interface {
	EntityID() string
	Climate() (actuator.ClimateState, bool)
	LastChanged() (time.Time, bool)
	SetHVACMode(ctx context.Context, mode model.HVACMode) error
	SetTemperature(ctx context.Context, temp float64) error
	TurnOff(ctx context.Context) error
}

type NumberDevice interface {
	EntityID() string
	Number() (actuator.NumberState, bool)
	SetValue(ctx context.Context, v float64) error
}

// relay is an on/off output that may be wired inverted, so that "on" for the
// controller means the physical switch is off.
type relay struct {
	name     string
	dev      SwitchDevice
	inverted bool
}

func (r relay) on() bool {
	return r.dev.IsOn() != r.inverted
}

func (r relay) turnOn(ctx context.Context, reason model.Reason) error {
	log.Debug().Str("controller", r.name).Str("entity", r.dev.EntityID()).Str("reason", string(reason)).Msg("Turning on")
	if r.inverted {
		return r.dev.TurnOff(ctx)
	}
	return r.dev.TurnOn(ctx)
}

func (r relay) turnOff(ctx context.Context, reason model.Reason) error {
	log.Debug().Str("controller", r.name).Str("entity", r.dev.EntityID()).Str("reason", string(reason)).Msg("Turning off")
	if r.inverted {
		return r.dev.TurnOn(ctx)
	}
	return r.dev.TurnOff(ctx)
}

type changeTracker interface {
	LastChanged() (time.Time, bool)
}

// heldFor reports whether the device has kept its current state for at least
// d. An unknown change time never counts as long enough.
func heldFor(dev changeTracker, now time.Time, d time.Duration) bool {
	changed, ok := dev.LastChanged()
	if !ok {
		return false
	}
	return now.Sub(changed) >= d
}
