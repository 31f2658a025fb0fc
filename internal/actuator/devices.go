package actuator

import (
	"context"
	"time"

	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/state"
	"github.com/thatsimonsguy/universal-thermostat/internal/template"
)

// Climate and number attribute names as published by gateways.
const (
	AttrHVACAction  = "hvac_action"
	AttrTemperature = "temperature"
	AttrMinTemp     = "min_temp"
	AttrMaxTemp     = "max_temp"
	AttrTempStep    = "target_temp_step"
	AttrMin         = "min"
	AttrMax         = "max"
	AttrStep        = "step"
)

type Switch struct {
	reg      *state.Registry
	cmd      Commander
	entityID string
}

func NewSwitch(reg *state.Registry, cmd Commander, entityID string) *Switch {
	return &Switch{reg: reg, cmd: cmd, entityID: entityID}
}

func (s *Switch) EntityID() string { return s.entityID }

func (s *Switch) IsOn() bool {
	st, ok := s.reg.Get(s.entityID)
	return ok && st.Value == model.StateOn
}

// LastChanged reports when the switch last flipped state.
func (s *Switch) LastChanged() (time.Time, bool) {
	st, ok := s.reg.Get(s.entityID)
	if !ok {
		return time.Time{}, false
	}
	return st.LastChanged, true
}

func (s *Switch) TurnOn(ctx context.Context) error {
	return call(ctx, s.cmd, s.entityID, ServiceTurnOn, nil)
}

func (s *Switch) TurnOff(ctx context.Context) error {
	return call(ctx, s.cmd, s.entityID, ServiceTurnOff, nil)
}

// ClimateState is what the thermostat knows about a downstream climate
// appliance. Nil pointers mean the appliance did not report the value.
type ClimateState struct {
	HVACMode    model.HVACMode
	HVACAction  model.HVACAction
	Temperature *float64
	MinTemp     *float64
	MaxTemp     *float64
	Step        *float64
}

type Climate struct {
	reg      *state.Registry
	cmd      Commander
	entityID string
}

func NewClimate(reg *state.Registry, cmd Commander, entityID string) *Climate {
	return &Climate{reg: reg, cmd: cmd, entityID: entityID}
}

func (c *Climate) EntityID() string { return c.entityID }

// Climate returns the appliance state, false when it is unknown.
func (c *Climate) Climate() (ClimateState, bool) {
	st, ok := c.reg.Get(c.entityID)
	if !ok || st.Value == model.StateUnavailable || st.Value == model.StateUnknown {
		return ClimateState{}, false
	}

	cs := ClimateState{
		HVACMode:    model.HVACMode(st.Value),
		Temperature: floatAttr(st, AttrTemperature),
		MinTemp:     floatAttr(st, AttrMinTemp),
		MaxTemp:     floatAttr(st, AttrMaxTemp),
		Step:        floatAttr(st, AttrTempStep),
	}
	if a, ok := st.Attr(AttrHVACAction).(string); ok {
		cs.HVACAction = model.HVACAction(a)
	}
	return cs, true
}

func (c *Climate) LastChanged() (time.Time, bool) {
	st, ok := c.reg.Get(c.entityID)
	if !ok {
		return time.Time{}, false
	}
	return st.LastChanged, true
}

func (c *Climate) SetHVACMode(ctx context.Context, mode model.HVACMode) error {
	return call(ctx, c.cmd, c.entityID, ServiceSetHVACMode, string(mode))
}

func (c *Climate) SetTemperature(ctx context.Context, temp float64) error {
	return call(ctx, c.cmd, c.entityID, ServiceSetTemperature, temp)
}

func (c *Climate) TurnOff(ctx context.Context) error {
	return call(ctx, c.cmd, c.entityID, ServiceTurnOff, nil)
}

type NumberState struct {
	Value *float64
	Min   *float64
	Max   *float64
	Step  *float64
}

type Number struct {
	reg      *state.Registry
	cmd      Commander
	entityID string
}

func NewNumber(reg *state.Registry, cmd Commander, entityID string) *Number {
	return &Number{reg: reg, cmd: cmd, entityID: entityID}
}

func (n *Number) EntityID() string { return n.entityID }

func (n *Number) Number() (NumberState, bool) {
	st, ok := n.reg.Get(n.entityID)
	if !ok || st.Value == model.StateUnavailable || st.Value == model.StateUnknown {
		return NumberState{}, false
	}

	ns := NumberState{
		Min:  floatAttr(st, AttrMin),
		Max:  floatAttr(st, AttrMax),
		Step: floatAttr(st, AttrStep),
	}
	if v, err := template.ToFloat(st.Value); err == nil {
		ns.Value = &v
	}
	return ns, true
}

func (n *Number) SetValue(ctx context.Context, v float64) error {
	return call(ctx, n.cmd, n.entityID, ServiceSetValue, v)
}

func floatAttr(st state.State, name string) *float64 {
	raw := st.Attr(name)
	if raw == nil {
		return nil
	}
	f, err := template.ToFloat(raw)
	if err != nil {
		return nil
	}
	return &f
}
