package controller

import (
	"context"
	"time"

	"github.com/thatsimonsguy/universal-thermostat/internal/actuator"
	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/template"
)

type fakeHost struct {
	cur     *float64
	targets map[model.Side]float64
	env     template.Env
}

func newFakeHost(cur, target float64) *fakeHost {
	return &fakeHost{
		cur:     &cur,
		targets: map[model.Side]float64{model.SideHeat: target, model.SideCool: target},
		env:     template.Env{},
	}
}

func (h *fakeHost) Name() string { return "climate.test" }

func (h *fakeHost) CurrentTemperature() (float64, bool) {
	if h.cur == nil {
		return 0, false
	}
	return *h.cur, true
}

func (h *fakeHost) TargetTemperature(side model.Side) (float64, bool) {
	t, ok := h.targets[side]
	return t, ok
}

func (h *fakeHost) MinTemp() float64          { return model.DefaultMinTemp }
func (h *fakeHost) MaxTemp() float64          { return model.DefaultMaxTemp }
func (h *fakeHost) TemplateEnv() template.Env { return h.env }

func (h *fakeHost) setCurrent(v float64) { h.cur = &v }

type fakeSwitch struct {
	id      string
	on      bool
	changed time.Time
	calls   []string
}

func (s *fakeSwitch) EntityID() string { return s.id }
func (s *fakeSwitch) IsOn() bool       { return s.on }

func (s *fakeSwitch) LastChanged() (time.Time, bool) {
	return s.changed, !s.changed.IsZero()
}

func (s *fakeSwitch) TurnOn(context.Context) error {
	s.calls = append(s.calls, actuator.ServiceTurnOn)
	s.on = true
	return nil
}

func (s *fakeSwitch) TurnOff(context.Context) error {
	s.calls = append(s.calls, actuator.ServiceTurnOff)
	s.on = false
	return nil
}

func (s *fakeSwitch) reset() { s.calls = nil }

type fakeClimate struct {
	id      string
	state   actuator.ClimateState
	changed time.Time
	calls   []actuator.Command
}

func newFakeClimate(id string, minT, maxT, step float64) *fakeClimate {
	return &fakeClimate{
		id: id,
		state: actuator.ClimateState{
			HVACMode: model.ModeOff,
			MinTemp:  &minT,
			MaxTemp:  &maxT,
			Step:     &step,
		},
	}
}

func (c *fakeClimate) EntityID() string { return c.id }

func (c *fakeClimate) Climate() (actuator.ClimateState, bool) { return c.state, true }

func (c *fakeClimate) LastChanged() (time.Time, bool) {
	return c.changed, !c.changed.IsZero()
}

func (c *fakeClimate) SetHVACMode(_ context.Context, mode model.HVACMode) error {
	c.calls = append(c.calls, actuator.Command{EntityID: c.id, Service: actuator.ServiceSetHVACMode, Value: mode})
	c.state.HVACMode = mode
	return nil
}

func (c *fakeClimate) SetTemperature(_ context.Context, temp float64) error {
	c.calls = append(c.calls, actuator.Command{EntityID: c.id, Service: actuator.ServiceSetTemperature, Value: temp})
	c.state.Temperature = &temp
	return nil
}

func (c *fakeClimate) TurnOff(context.Context) error {
	c.calls = append(c.calls, actuator.Command{EntityID: c.id, Service: actuator.ServiceTurnOff})
	c.state.HVACMode = model.ModeOff
	return nil
}

func (c *fakeClimate) services() []string {
	var out []string
	for _, cmd := range c.calls {
		out = append(out, cmd.Service)
	}
	return out
}

type fakeNumber struct {
	id    string
	state actuator.NumberState
	sets  []float64
}

func newFakeNumber(id string, minV, maxV, step float64) *fakeNumber {
	return &fakeNumber{id: id, state: actuator.NumberState{Min: &minV, Max: &maxV, Step: &step}}
}

func (n *fakeNumber) EntityID() string                     { return n.id }
func (n *fakeNumber) Number() (actuator.NumberState, bool) { return n.state, true }

func (n *fakeNumber) SetValue(_ context.Context, v float64) error {
	n.sets = append(n.sets, v)
	n.state.Value = &v
	return nil
}
