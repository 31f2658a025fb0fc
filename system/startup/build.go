// Package startup assembles a thermostat and its device gateways from
// configuration, and installs the host boot units.
package startup

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/universal-thermostat/internal/actuator"
	"github.com/thatsimonsguy/universal-thermostat/internal/config"
	"github.com/thatsimonsguy/universal-thermostat/internal/controller"
	"github.com/thatsimonsguy/universal-thermostat/internal/gpio"
	"github.com/thatsimonsguy/universal-thermostat/internal/modbus"
	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/mqtt"
	"github.com/thatsimonsguy/universal-thermostat/internal/preset"
	"github.com/thatsimonsguy/universal-thermostat/internal/state"
	"github.com/thatsimonsguy/universal-thermostat/internal/temperature"
	"github.com/thatsimonsguy/universal-thermostat/internal/template"
	"github.com/thatsimonsguy/universal-thermostat/internal/thermostat"
	"github.com/thatsimonsguy/universal-thermostat/internal/window"
)

// Deps are the process level services a thermostat reports to. All of them
// are optional.
type Deps struct {
	Notifier thermostat.Notifier
	Metrics  thermostat.Metrics
	Now      func() time.Time
}

// System is a fully wired thermostat. Gateways are nil when disabled.
type System struct {
	Registry   *state.Registry
	Router     *actuator.Router
	Sensor     *temperature.Service
	Thermostat *thermostat.Thermostat
	MQTT       *mqtt.Bridge
	Modbus     *modbus.Gateway
	GPIO       *gpio.Gateway
}

// Build wires the thermostat described by cfg. Entities owned by the
// Modbus or GPIO gateways are routed to them; everything else goes to MQTT
// when enabled and otherwise loops straight back into the registry.
func Build(cfg config.Config, deps Deps) (*System, error) {
	sys := &System{Registry: state.NewRegistry()}
	reg := sys.Registry

	var fallback actuator.Commander = actuator.NewLoopback(reg)
	if cfg.MQTT.Enabled {
		bridge, err := mqtt.New(reg, mqtt.Config{
			BrokerURL: cfg.MQTT.BrokerURL,
			ClientID:  cfg.MQTT.ClientID,
			BaseTopic: cfg.MQTT.BaseTopic,
			QoS:       cfg.MQTT.QoS,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
		})
		if err != nil {
			return nil, err
		}
		sys.MQTT = bridge
		fallback = bridge
	}
	sys.Router = actuator.NewRouter(fallback)

	if cfg.Modbus.Enabled {
		points := make([]modbus.Point, 0, len(cfg.Modbus.Points))
		for _, p := range cfg.Modbus.Points {
			points = append(points, modbus.Point{
				EntityID: p.EntityID,
				Type:     modbus.PointType(p.Type),
				Address:  p.Address,
				Scale:    p.Scale,
			})
		}
		gw, err := modbus.New(reg, modbus.Config{
			Addr:         cfg.Modbus.Addr,
			UnitID:       cfg.Modbus.UnitID,
			Timeout:      cfg.Modbus.Timeout,
			PollInterval: cfg.Modbus.PollInterval,
			Points:       points,
		})
		if err != nil {
			return nil, err
		}
		for _, id := range gw.Entities() {
			sys.Router.Route(id, gw)
		}
		sys.Modbus = gw
	}

	if cfg.GPIO.Enabled {
		gw, err := gpio.New(reg, GPIOConfig(cfg.GPIO))
		if err != nil {
			return nil, err
		}
		for _, id := range gw.Entities() {
			sys.Router.Route(id, gw)
		}
		sys.GPIO = gw
	}

	controllers := make([]*controller.Controller, 0, len(cfg.Controllers))
	for _, cc := range cfg.Controllers {
		c, err := buildController(cc, reg, sys.Router)
		if err != nil {
			return nil, fmt.Errorf("controller %s: %w", cc.Name, err)
		}
		controllers = append(controllers, c)
	}

	windows := make([]*window.Window, 0, len(cfg.Windows))
	for _, wc := range cfg.Windows {
		timeout, err := optionalTemplate(wc.Timeout)
		if err != nil {
			return nil, fmt.Errorf("window %s: %w", wc.EntityID, err)
		}
		windows = append(windows, window.New(wc.EntityID, timeout, wc.Inverted))
	}

	presets, err := preset.NewManager(cfg.Presets)
	if err != nil {
		return nil, err
	}

	var sensorNotifier temperature.Notifier
	if deps.Notifier != nil {
		sensorNotifier = deps.Notifier
	}
	sys.Sensor = temperature.NewService(reg, temperature.Config{
		EntityID:     cfg.Sensor.EntityID,
		MaxDelta:     cfg.Sensor.MaxDelta,
		MaxAnomalies: cfg.Sensor.MaxAnomalies,
	}, sensorNotifier)

	tc, err := thermostatConfig(cfg.Thermostat)
	if err != nil {
		return nil, err
	}

	var writers []thermostat.StateWriter
	if sys.MQTT != nil {
		writers = append(writers, sys.MQTT)
	}

	th, err := thermostat.New(tc, thermostat.Deps{
		Registry:    reg,
		Sensor:      sys.Sensor,
		Controllers: controllers,
		Windows:     window.NewSet(reg, windows...),
		Presets:     presets,
		Metrics:     deps.Metrics,
		Notifier:    deps.Notifier,
		Writers:     writers,
		Now:         deps.Now,
	})
	if err != nil {
		return nil, err
	}
	sys.Thermostat = th
	if sys.MQTT != nil {
		sys.MQTT.Attach(th)
	}

	log.Info().
		Str("thermostat", tc.Name).
		Int("controllers", len(controllers)).
		Int("windows", len(windows)).
		Strs("presets", presets.Modes()).
		Bool("mqtt", sys.MQTT != nil).
		Bool("modbus", sys.Modbus != nil).
		Bool("gpio", sys.GPIO != nil).
		Msg("Thermostat assembled")
	return sys, nil
}

func GPIOConfig(cfg config.GPIO) gpio.Config {
	pins := make([]gpio.Pin, 0, len(cfg.Pins))
	for _, p := range cfg.Pins {
		pins = append(pins, gpio.Pin{EntityID: p.EntityID, Number: p.Pin, ActiveHigh: p.ActiveHigh})
	}
	return gpio.Config{SafeMode: cfg.SafeMode, Pins: pins}
}

func thermostatConfig(t config.Thermostat) (thermostat.Config, error) {
	heat, err := optionalTemplate(t.AutoHeatDelta)
	if err != nil {
		return thermostat.Config{}, fmt.Errorf("auto_heat_delta: %w", err)
	}
	cool, err := optionalTemplate(t.AutoCoolDelta)
	if err != nil {
		return thermostat.Config{}, fmt.Errorf("auto_cool_delta: %w", err)
	}
	return thermostat.Config{
		Name:             t.Name,
		MinTemp:          t.MinTemp,
		MaxTemp:          t.MaxTemp,
		Precision:        t.Precision,
		TargetTempStep:   t.TargetTempStep,
		HeatCoolDisabled: t.HeatCoolDisabled,
		AutoHeatDelta:    heat,
		AutoCoolDelta:    cool,
	}, nil
}

func buildController(cc config.Controller, reg *state.Registry, cmd actuator.Commander) (*controller.Controller, error) {
	side, err := model.ParseSide(cc.Side)
	if err != nil {
		return nil, err
	}
	base := controller.Config{
		Name:          cc.Name,
		Side:          side,
		Inverted:      cc.Inverted,
		KeepAlive:     cc.KeepAlive,
		IgnoreWindows: cc.IgnoreWindows,
	}

	t := templates{}
	switchOpts := controller.SwitchOptions{
		ColdTolerance:    t.parse("cold_tolerance", cc.ColdTolerance),
		HotTolerance:     t.parse("hot_tolerance", cc.HotTolerance),
		MinCycleDuration: cc.MinCycleDuration,
	}
	pidOpts := controller.PIDOptions{
		Kp:           t.parse("kp", cc.Kp),
		Ki:           t.parse("ki", cc.Ki),
		Kd:           t.parse("kd", cc.Kd),
		SamplePeriod: cc.SamplePeriod,
	}
	outMin := t.parse("output_min", cc.OutputMin)
	outMax := t.parse("output_max", cc.OutputMax)
	delta := t.parse("target_temp_delta", cc.TargetTempDelta)
	if t.err != nil {
		return nil, t.err
	}

	switch cc.Kind {
	case config.KindSwitch:
		return controller.NewSwitch(base, actuator.NewSwitch(reg, cmd, cc.EntityID), switchOpts)
	case config.KindClimateSwitch:
		return controller.NewClimateSwitch(base, actuator.NewClimate(reg, cmd, cc.EntityID), controller.ClimateSwitchOptions{
			SwitchOptions:   switchOpts,
			TargetTempDelta: delta,
		})
	case config.KindClimatePID:
		return controller.NewClimatePID(base, actuator.NewClimate(reg, cmd, cc.EntityID), controller.ClimatePIDOptions{
			PIDOptions: pidOpts,
			OutputMin:  outMin,
			OutputMax:  outMax,
		})
	case config.KindNumberPID:
		opts := controller.NumberPIDOptions{
			PIDOptions:     pidOpts,
			OutputMin:      outMin,
			OutputMax:      outMax,
			SwitchInverted: cc.SwitchInverted,
		}
		if cc.SwitchEntityID != "" {
			opts.Switch = actuator.NewSwitch(reg, cmd, cc.SwitchEntityID)
		}
		return controller.NewNumberPID(base, actuator.NewNumber(reg, cmd, cc.EntityID), opts)
	case config.KindPWM:
		return controller.NewPWM(base, actuator.NewSwitch(reg, cmd, cc.EntityID), controller.PWMOptions{
			PIDOptions: pidOpts,
			Period:     cc.PWMPeriod,
		})
	default:
		return nil, fmt.Errorf("unknown controller kind %q", cc.Kind)
	}
}

// templates parses a run of optional templates and keeps the first error.
type templates struct {
	err error
}

func (t *templates) parse(field, src string) *template.Value {
	if t.err != nil {
		return nil
	}
	v, err := optionalTemplate(src)
	if err != nil {
		t.err = fmt.Errorf("%s: %w", field, err)
	}
	return v
}

func optionalTemplate(src string) (*template.Value, error) {
	if src == "" {
		return nil, nil
	}
	return template.Parse(src)
}
