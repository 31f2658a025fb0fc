// Package preset implements named override profiles (sleep, away, eco, ...)
// applied on top of the thermostat's own targets, and the snapshot taken
// while a preset is active.
package preset

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/template"
)

var (
	ErrUnknownPreset = errors.New("unknown preset")
	ErrReservedName  = errors.New("reserved preset name")
)

// Well known preset names.
const (
	Sleep = "sleep"
	Away  = "away"
	Eco   = "eco"
)

// Preset holds optional overrides. A nil field is "not defined".
type Preset struct {
	TempDelta      *float64 `koanf:"temp_delta" json:"temp_delta,omitempty"`
	HeatDelta      *float64 `koanf:"heat_delta" json:"heat_delta,omitempty"`
	CoolDelta      *float64 `koanf:"cool_delta" json:"cool_delta,omitempty"`
	TargetTemp     *float64 `koanf:"target_temp" json:"target_temp,omitempty"`
	HeatTargetTemp *float64 `koanf:"heat_target_temp" json:"heat_target_temp,omitempty"`
	CoolTargetTemp *float64 `koanf:"cool_target_temp" json:"cool_target_temp,omitempty"`
}

func (p Preset) hasDelta() bool {
	return p.TempDelta != nil || p.HeatDelta != nil || p.CoolDelta != nil
}

// HVACMode returns the mode the preset implies when the thermostat is in
// current. Only a preset that defines a single side's absolute target and
// nothing else moves the mode.
func (p Preset) HVACMode(current model.HVACMode) model.HVACMode {
	if p.hasDelta() || p.TargetTemp != nil {
		return current
	}
	onlyHeat := p.HeatTargetTemp != nil && p.CoolTargetTemp == nil
	onlyCool := p.CoolTargetTemp != nil && p.HeatTargetTemp == nil

	switch current {
	case model.ModeHeatCool, model.ModeAuto:
		if onlyCool {
			return model.ModeCool
		}
		if onlyHeat {
			return model.ModeHeat
		}
	case model.ModeHeat:
		if onlyCool {
			return model.ModeCool
		}
	case model.ModeCool:
		if onlyHeat {
			return model.ModeHeat
		}
	}
	return current
}

// ApplyTargetTemp applies the preset to the single setpoint t for mode.
func (p Preset) ApplyTargetTemp(mode model.HVACMode, t float64) float64 {
	switch {
	case p.TempDelta != nil:
		return t + *p.TempDelta
	case mode == model.ModeCool && p.CoolDelta != nil:
		return t + *p.CoolDelta
	case mode == model.ModeHeat && p.HeatDelta != nil:
		return t + *p.HeatDelta
	case mode == model.ModeCool && p.CoolTargetTemp != nil:
		return *p.CoolTargetTemp
	case mode == model.ModeHeat && p.HeatTargetTemp != nil:
		return *p.HeatTargetTemp
	case mode == model.ModeAuto && p.HeatTargetTemp != nil && p.CoolTargetTemp != nil:
		return t
	case p.TargetTemp != nil:
		return *p.TargetTemp
	}
	return t
}

// TargetTempLow applies the preset to the heat end of a range.
func (p Preset) TargetTempLow(t float64) float64 {
	switch {
	case p.TempDelta != nil:
		return t + *p.TempDelta
	case p.HeatDelta != nil:
		return t + *p.HeatDelta
	case p.HeatTargetTemp != nil:
		return *p.HeatTargetTemp
	case p.TargetTemp != nil:
		return *p.TargetTemp
	}
	return t
}

// TargetTempHigh applies the preset to the cool end of a range.
func (p Preset) TargetTempHigh(t float64) float64 {
	switch {
	case p.TempDelta != nil:
		return t + *p.TempDelta
	case p.CoolDelta != nil:
		return t + *p.CoolDelta
	case p.CoolTargetTemp != nil:
		return *p.CoolTargetTemp
	case p.TargetTemp != nil:
		return *p.TargetTemp
	}
	return t
}

// AutoHeatDelta is added to the heat side's share of an auto setpoint.
func (p Preset) AutoHeatDelta() float64 {
	if p.HeatDelta == nil {
		return model.DefaultPresetAutoDelta
	}
	return *p.HeatDelta
}

func (p Preset) AutoCoolDelta() float64 {
	if p.CoolDelta == nil {
		return model.DefaultPresetAutoDelta
	}
	return *p.CoolDelta
}

// AutoHeatTarget is the absolute heat target used in auto mode, when the
// preset defines one and no delta outranks it.
func (p Preset) AutoHeatTarget() (float64, bool) {
	if p.TempDelta != nil || p.HeatDelta != nil || p.HeatTargetTemp == nil {
		return 0, false
	}
	return *p.HeatTargetTemp, true
}

func (p Preset) AutoCoolTarget() (float64, bool) {
	if p.TempDelta != nil || p.CoolDelta != nil || p.CoolTargetTemp == nil {
		return 0, false
	}
	return *p.CoolTargetTemp, true
}

// Saved is the thermostat state captured when leaving the "none" preset.
// Each field is restored only if it was captured.
type Saved struct {
	HVACMode       model.HVACMode
	TargetTemp     *float64
	TargetTempLow  *float64
	TargetTempHigh *float64
}

// Attributes renders the snapshot for persistence.
func (s Saved) Attributes() map[string]any {
	out := map[string]any{}
	if s.HVACMode != "" {
		out[model.PresetSavedHVACMode] = string(s.HVACMode)
	}
	put := func(k string, v *float64) {
		if v != nil {
			out[k] = *v
		}
	}
	put(model.PresetSavedTargetTemp, s.TargetTemp)
	put(model.PresetSavedTargetTempLow, s.TargetTempLow)
	put(model.PresetSavedTargetTempHigh, s.TargetTempHigh)
	return out
}

// SavedFromAttributes is the inverse of Saved.Attributes. Unparseable
// entries are dropped.
func SavedFromAttributes(attrs map[string]any) Saved {
	var s Saved
	if v, ok := attrs[model.PresetSavedHVACMode]; ok {
		if m, err := model.ParseHVACMode(fmt.Sprint(v)); err == nil {
			s.HVACMode = m
		}
	}
	s.TargetTemp = floatAttr(attrs, model.PresetSavedTargetTemp)
	s.TargetTempLow = floatAttr(attrs, model.PresetSavedTargetTempLow)
	s.TargetTempHigh = floatAttr(attrs, model.PresetSavedTargetTempHigh)
	return s
}

func floatAttr(attrs map[string]any, key string) *float64 {
	v, ok := attrs[key]
	if !ok || v == nil {
		return nil
	}
	f, err := template.ToFloat(v)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Dropping unparseable saved preset value")
		return nil
	}
	return &f
}

// Manager tracks the active preset and the saved "none" state. It is not
// safe for concurrent use; the thermostat serializes access.
type Manager struct {
	presets map[string]Preset
	names   []string
	current string
	saved   *Saved
}

// NoPresets returns a manager that only knows "none".
func NoPresets() *Manager {
	return &Manager{presets: map[string]Preset{}, current: model.PresetNone}
}

func NewManager(presets map[string]Preset) (*Manager, error) {
	m := NoPresets()
	for name, p := range presets {
		if name == "" || name == model.PresetNone {
			return nil, fmt.Errorf("%w: %q", ErrReservedName, name)
		}
		m.presets[name] = p
		m.names = append(m.names, name)
	}
	sort.Strings(m.names)
	return m, nil
}

// Modes lists "none" followed by every configured preset.
func (m *Manager) Modes() []string {
	return append([]string{model.PresetNone}, m.names...)
}

func (m *Manager) Empty() bool { return len(m.presets) == 0 }

func (m *Manager) Has(name string) bool {
	if name == model.PresetNone {
		return true
	}
	_, ok := m.presets[name]
	return ok
}

func (m *Manager) Mode() string { return m.current }

// Set makes name the active preset. It does not touch the snapshot.
func (m *Manager) Set(name string) error {
	if !m.Has(name) {
		return fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	m.current = name
	return nil
}

// Active returns the active preset, false for "none".
func (m *Manager) Active() (Preset, bool) {
	if m.current == model.PresetNone {
		return Preset{}, false
	}
	p, ok := m.presets[m.current]
	return p, ok
}

func (m *Manager) Save(s Saved) { m.saved = &s }

func (m *Manager) Saved() (Saved, bool) {
	if m.saved == nil {
		return Saved{}, false
	}
	return *m.saved, true
}

func (m *Manager) ClearSaved() { m.saved = nil }

// HVACMode applies the active preset to the saved baseline mode, falling
// back to current when nothing was saved.
func (m *Manager) HVACMode(current model.HVACMode) model.HVACMode {
	p, ok := m.Active()
	if !ok {
		return current
	}
	if m.saved != nil && m.saved.HVACMode != "" {
		current = m.saved.HVACMode
	}
	return p.HVACMode(current)
}

func (m *Manager) TargetTemp(mode model.HVACMode, t float64) float64 {
	p, ok := m.Active()
	if !ok {
		return t
	}
	if m.saved != nil && m.saved.TargetTemp != nil {
		t = *m.saved.TargetTemp
	}
	return p.ApplyTargetTemp(mode, t)
}

func (m *Manager) TargetTempLow(t float64) float64 {
	p, ok := m.Active()
	if !ok {
		return t
	}
	if m.saved != nil && m.saved.TargetTempLow != nil {
		t = *m.saved.TargetTempLow
	}
	return p.TargetTempLow(t)
}

func (m *Manager) TargetTempHigh(t float64) float64 {
	p, ok := m.Active()
	if !ok {
		return t
	}
	if m.saved != nil && m.saved.TargetTempHigh != nil {
		t = *m.saved.TargetTempHigh
	}
	return p.TargetTempHigh(t)
}

func (m *Manager) AutoHeatDelta() float64 {
	if p, ok := m.Active(); ok {
		return p.AutoHeatDelta()
	}
	return model.DefaultPresetAutoDelta
}

func (m *Manager) AutoCoolDelta() float64 {
	if p, ok := m.Active(); ok {
		return p.AutoCoolDelta()
	}
	return model.DefaultPresetAutoDelta
}

func (m *Manager) AutoHeatTarget() (float64, bool) {
	if p, ok := m.Active(); ok {
		return p.AutoHeatTarget()
	}
	return 0, false
}

func (m *Manager) AutoCoolTarget() (float64, bool) {
	if p, ok := m.Active(); ok {
		return p.AutoCoolTarget()
	}
	return 0, false
}
