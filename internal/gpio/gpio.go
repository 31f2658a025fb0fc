// Package gpio drives relay outputs on the host's GPIO header and exposes
// them as switch entities.
package gpio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/universal-thermostat/internal/actuator"
	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/pinctrl"
	"github.com/thatsimonsguy/universal-thermostat/internal/state"
)

type Pin struct {
	EntityID   string
	Number     int
	ActiveHigh bool
}

type Config struct {
	// SafeMode keeps every pin untouched; commands only update the
	// registry.
	SafeMode bool
	Pins     []Pin
}

var (
	setPin    = pinctrl.SetPin
	readLevel = pinctrl.ReadLevel
)

var ErrUnknownPin = errors.New("gpio: unknown entity")

type Gateway struct {
	reg  *state.Registry
	cfg  Config
	pins map[string]Pin
	mu   sync.Mutex
}

func New(reg *state.Registry, cfg Config) (*Gateway, error) {
	pins := make(map[string]Pin, len(cfg.Pins))
	used := make(map[int]string, len(cfg.Pins))
	for _, p := range cfg.Pins {
		if other, ok := used[p.Number]; ok {
			return nil, fmt.Errorf("gpio: %s and %s both use pin %d", other, p.EntityID, p.Number)
		}
		if _, ok := pins[p.EntityID]; ok {
			return nil, fmt.Errorf("gpio: duplicate entity %s", p.EntityID)
		}
		used[p.Number] = p.EntityID
		pins[p.EntityID] = p
	}
	if cfg.SafeMode {
		log.Warn().Msg("GPIO safe mode enabled, relays will not be driven")
	}
	return &Gateway{reg: reg, cfg: cfg, pins: pins}, nil
}

func (g *Gateway) Entities() []string {
	ids := make([]string, 0, len(g.cfg.Pins))
	for _, p := range g.cfg.Pins {
		ids = append(ids, p.EntityID)
	}
	return ids
}

func (g *Gateway) drive(p Pin, active bool) error {
	if g.cfg.SafeMode {
		return nil
	}
	return setPin(p.Number, pinctrl.DriveArgs(p.ActiveHigh, active)...)
}

// Call switches a relay and records the new state in the registry.
func (g *Gateway) Call(_ context.Context, cmd actuator.Command) error {
	p, ok := g.pins[cmd.EntityID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPin, cmd.EntityID)
	}

	var active bool
	switch cmd.Service {
	case actuator.ServiceTurnOn:
		active = true
	case actuator.ServiceTurnOff:
	default:
		return fmt.Errorf("gpio: %s does not support %s", cmd.EntityID, cmd.Service)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.drive(p, active); err != nil {
		log.Error().Err(err).Int("pin", p.Number).Str("entity", p.EntityID).Msg("Failed to drive relay")
		return err
	}
	log.Debug().
		Str("entity", p.EntityID).
		Int("pin", p.Number).
		Bool("active", active).
		Str("context", cmd.ContextID).
		Msg("Relay switched")
	g.reg.Set(p.EntityID, onOff(active), nil)
	return nil
}

func onOff(active bool) string {
	if active {
		return model.StateOn
	}
	return model.StateOff
}

// Sync reads every pin level into the registry. In safe mode every relay
// is reported off.
func (g *Gateway) Sync() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for _, p := range g.cfg.Pins {
		if g.cfg.SafeMode {
			g.reg.Set(p.EntityID, model.StateOff, nil)
			continue
		}
		level, err := readLevel(p.Number)
		if err != nil {
			errs = append(errs, err)
			g.reg.Set(p.EntityID, model.StateUnavailable, nil)
			continue
		}
		g.reg.Set(p.EntityID, onOff(level == p.ActiveHigh), nil)
	}
	return errors.Join(errs...)
}

// ValidateInitialPinStates checks that no relay is energized before the
// engine takes control. The boot script leaves every pin inactive.
func (g *Gateway) ValidateInitialPinStates() error {
	if g.cfg.SafeMode {
		return nil
	}
	for _, p := range g.cfg.Pins {
		level, err := readLevel(p.Number)
		if err != nil {
			return fmt.Errorf("failed to read pin level for %s (GPIO %d): %w", p.EntityID, p.Number, err)
		}
		if level == p.ActiveHigh {
			return fmt.Errorf("pin %d (%s) is in wrong state at startup (expected active=false)", p.Number, p.EntityID)
		}
	}
	return nil
}

// AllOff deactivates every relay, continuing past failures.
func (g *Gateway) AllOff() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for _, p := range g.cfg.Pins {
		if err := g.drive(p, false); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.EntityID, err))
			continue
		}
		g.reg.Set(p.EntityID, model.StateOff, nil)
	}
	if len(errs) == 0 {
		log.Info().Int("pins", len(g.cfg.Pins)).Msg("All relays off")
	}
	return errors.Join(errs...)
}
