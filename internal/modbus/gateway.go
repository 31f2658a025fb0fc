// Package modbus polls a Modbus TCP field device into the state registry
// and turns actuator commands into coil and register writes.
package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/universal-thermostat/internal/actuator"
	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/state"
	"github.com/thatsimonsguy/universal-thermostat/internal/template"
)

type PointType string

const (
	// Coil points are on/off switches.
	Coil PointType = "coil"
	// Holding points are numbers stored in one holding register.
	Holding PointType = "holding"
)

const (
	coilOn  = 0xFF00
	coilOff = 0x0000
)

var ErrUnknownPoint = errors.New("modbus: unknown point")

// Point binds an entity to a coil or holding register. The entity value is
// the register value divided by Scale.
type Point struct {
	EntityID string
	Type     PointType
	Address  uint16
	Scale    float64
}

type Config struct {
	Addr         string
	UnitID       byte
	Timeout      time.Duration
	PollInterval time.Duration
	Points       []Point
}

type Gateway struct {
	reg     *state.Registry
	cfg     Config
	points  map[string]Point
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

func New(reg *state.Registry, cfg Config) (*Gateway, error) {
	if cfg.Addr == "" {
		return nil, errors.New("modbus: Addr is required")
	}
	if cfg.UnitID == 0 {
		cfg.UnitID = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}

	points := make(map[string]Point, len(cfg.Points))
	for _, p := range cfg.Points {
		if p.Type != Coil && p.Type != Holding {
			return nil, fmt.Errorf("modbus: point %s has invalid type %q", p.EntityID, p.Type)
		}
		if p.Scale == 0 {
			p.Scale = 1
		}
		points[p.EntityID] = p
	}
	return &Gateway{reg: reg, cfg: cfg, points: points}, nil
}

// Entities lists the entity ids this gateway owns.
func (g *Gateway) Entities() []string {
	ids := make([]string, 0, len(g.cfg.Points))
	for _, p := range g.cfg.Points {
		ids = append(ids, p.EntityID)
	}
	return ids
}

func (g *Gateway) Connect() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	handler := modbus.NewTCPClientHandler(g.cfg.Addr)
	handler.Timeout = g.cfg.Timeout
	handler.SlaveId = g.cfg.UnitID
	if err := handler.Connect(); err != nil {
		return fmt.Errorf("modbus connect %s: %w", g.cfg.Addr, err)
	}
	g.handler = handler
	g.client = modbus.NewClient(handler)
	log.Info().Str("addr", g.cfg.Addr).Int("points", len(g.points)).Msg("Modbus gateway connected")
	return nil
}

func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.handler == nil {
		return nil
	}
	return g.handler.Close()
}

// Run polls every point until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := g.Poll(); err != nil {
			log.Warn().Err(err).Str("addr", g.cfg.Addr).Msg("Modbus poll failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll reads every point once. Points that fail to read are marked
// unavailable.
func (g *Gateway) Poll() error {
	var errs []error
	for _, p := range g.cfg.Points {
		value, attrs, err := g.read(g.points[p.EntityID])
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.EntityID, err))
			g.reg.Set(p.EntityID, model.StateUnavailable, nil)
			continue
		}
		g.reg.Set(p.EntityID, value, attrs)
	}
	return errors.Join(errs...)
}

func (g *Gateway) read(p Point) (string, map[string]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		return "", nil, errors.New("modbus: not connected")
	}

	switch p.Type {
	case Coil:
		res, err := g.client.ReadCoils(p.Address, 1)
		if err != nil {
			return "", nil, err
		}
		if len(res) < 1 {
			return "", nil, errors.New("short coil response")
		}
		if res[0]&0x01 == 1 {
			return model.StateOn, nil, nil
		}
		return model.StateOff, nil, nil
	default:
		res, err := g.client.ReadHoldingRegisters(p.Address, 1)
		if err != nil {
			return "", nil, err
		}
		if len(res) < 2 {
			return "", nil, errors.New("short register response")
		}
		raw := binary.BigEndian.Uint16(res[0:2])
		return formatValue(float64(raw) / p.Scale), registerAttrs(p), nil
	}
}

func registerAttrs(p Point) map[string]any {
	return map[string]any{
		actuator.AttrMin:  0.0,
		actuator.AttrMax:  math.MaxUint16 / p.Scale,
		actuator.AttrStep: 1 / p.Scale,
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Call writes a command to the device and mirrors the result into the
// registry without waiting for the next poll.
func (g *Gateway) Call(_ context.Context, cmd actuator.Command) error {
	p, ok := g.points[cmd.EntityID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPoint, cmd.EntityID)
	}

	var value string
	var attrs map[string]any
	var err error
	switch {
	case p.Type == Coil && cmd.Service == actuator.ServiceTurnOn:
		err = g.writeCoil(p.Address, coilOn)
		value = model.StateOn
	case p.Type == Coil && cmd.Service == actuator.ServiceTurnOff:
		err = g.writeCoil(p.Address, coilOff)
		value = model.StateOff
	case p.Type == Holding && cmd.Service == actuator.ServiceSetValue:
		var v float64
		if v, err = template.ToFloat(cmd.Value); err != nil {
			return err
		}
		raw := math.Round(v * p.Scale)
		if raw < 0 || raw > math.MaxUint16 {
			return fmt.Errorf("modbus: %v out of register range for %s", v, p.EntityID)
		}
		err = g.writeRegister(p.Address, uint16(raw))
		value = formatValue(raw / p.Scale)
		attrs = registerAttrs(p)
	default:
		return fmt.Errorf("modbus: %s does not support %s", p.EntityID, cmd.Service)
	}
	if err != nil {
		log.Error().Err(err).Str("entity", cmd.EntityID).Str("service", cmd.Service).Msg("Modbus write failed")
		return err
	}

	log.Debug().
		Str("entity", cmd.EntityID).
		Str("service", cmd.Service).
		Str("value", value).
		Str("context", cmd.ContextID).
		Msg("Modbus write")
	g.reg.Set(cmd.EntityID, value, attrs)
	return nil
}

func (g *Gateway) writeCoil(addr, value uint16) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		return errors.New("modbus: not connected")
	}
	_, err := g.client.WriteSingleCoil(addr, value)
	return err
}

func (g *Gateway) writeRegister(addr, value uint16) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		return errors.New("modbus: not connected")
	}
	_, err := g.client.WriteSingleRegister(addr, value)
	return err
}
