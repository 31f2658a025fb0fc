// Package actuator exposes entities in the state registry as switches,
// climate appliances and numeric outputs, and routes their commands to
// whichever gateway owns the entity.
package actuator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/universal-thermostat/internal/state"
)

const (
	ServiceTurnOn         = "turn_on"
	ServiceTurnOff        = "turn_off"
	ServiceSetHVACMode    = "set_hvac_mode"
	ServiceSetTemperature = "set_temperature"
	ServiceSetValue       = "set_value"
)

var ErrNoRoute = errors.New("no gateway for entity")

// Command is a single service call against an entity.
type Command struct {
	EntityID  string `json:"entity_id"`
	Service   string `json:"service"`
	Value     any    `json:"value,omitempty"`
	ContextID string `json:"context,omitempty"`
}

// Commander delivers commands to physical or virtual devices.
type Commander interface {
	Call(ctx context.Context, cmd Command) error
}

type ctxKey struct{}

// WithCommandID attaches a causality token that travels with every command
// issued under ctx.
func WithCommandID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func CommandID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func NewCommandID() string {
	return uuid.New().String()
}

func call(ctx context.Context, c Commander, entityID, service string, value any) error {
	cmd := Command{
		EntityID:  entityID,
		Service:   service,
		Value:     value,
		ContextID: CommandID(ctx),
	}
	if err := c.Call(ctx, cmd); err != nil {
		return fmt.Errorf("%s %s: %w", service, entityID, err)
	}
	return nil
}

// Router dispatches commands by entity id.
type Router struct {
	routes   map[string]Commander
	fallback Commander
}

func NewRouter(fallback Commander) *Router {
	return &Router{routes: map[string]Commander{}, fallback: fallback}
}

func (r *Router) Route(entityID string, c Commander) {
	r.routes[entityID] = c
}

func (r *Router) Call(ctx context.Context, cmd Command) error {
	c, ok := r.routes[cmd.EntityID]
	if !ok {
		c = r.fallback
	}
	if c == nil {
		return fmt.Errorf("%w: %s", ErrNoRoute, cmd.EntityID)
	}
	return c.Call(ctx, cmd)
}

// Loopback applies commands straight to the registry, acting as an ideal
// device. It backs simulated entities and tests.
type Loopback struct {
	reg *state.Registry
}

func NewLoopback(reg *state.Registry) *Loopback {
	return &Loopback{reg: reg}
}

func (l *Loopback) Call(_ context.Context, cmd Command) error {
	log.Debug().
		Str("entity", cmd.EntityID).
		Str("service", cmd.Service).
		Interface("value", cmd.Value).
		Str("context", cmd.ContextID).
		Msg("Loopback command")

	on, off := "on", "off"
	switch cmd.Service {
	case ServiceTurnOn:
		l.reg.Merge(cmd.EntityID, &on, nil)
	case ServiceTurnOff:
		l.reg.Merge(cmd.EntityID, &off, nil)
	case ServiceSetHVACMode:
		mode := fmt.Sprint(cmd.Value)
		l.reg.Merge(cmd.EntityID, &mode, nil)
	case ServiceSetTemperature:
		l.reg.Merge(cmd.EntityID, nil, map[string]any{AttrTemperature: cmd.Value})
	case ServiceSetValue:
		v := fmt.Sprint(cmd.Value)
		l.reg.Merge(cmd.EntityID, &v, nil)
	default:
		return fmt.Errorf("unsupported service %q", cmd.Service)
	}
	return nil
}
