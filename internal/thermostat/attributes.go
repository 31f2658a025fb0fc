package thermostat

import (
	"context"
	"fmt"
	"maps"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/preset"
	"github.com/thatsimonsguy/universal-thermostat/internal/template"
)

// Status is the externally visible thermostat state.
type Status struct {
	Name               string           `json:"name"`
	HVACMode           model.HVACMode   `json:"hvac_mode"`
	HVACModes          []model.HVACMode `json:"hvac_modes"`
	HVACAction         model.HVACAction `json:"hvac_action"`
	CurrentTemperature *float64         `json:"current_temperature"`
	TargetTemperature  *float64         `json:"temperature,omitempty"`
	TargetTempLow      *float64         `json:"target_temp_low,omitempty"`
	TargetTempHigh     *float64         `json:"target_temp_high,omitempty"`
	TargetTempStep     float64          `json:"target_temp_step"`
	MinTemp            float64          `json:"min_temp"`
	MaxTemp            float64          `json:"max_temp"`
	PresetMode         string           `json:"preset_mode,omitempty"`
	PresetModes        []string         `json:"preset_modes,omitempty"`
}

func (t *Thermostat) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status()
}

func (t *Thermostat) status() Status {
	st := Status{
		Name:           t.cfg.Name,
		HVACMode:       t.hvacMode,
		HVACModes:      t.HVACModes(),
		HVACAction:     t.hvacAction(),
		TargetTempStep: t.TargetTempStep(),
		MinTemp:        t.MinTemp(),
		MaxTemp:        t.MaxTemp(),
	}
	if t.curTemp != nil {
		cur := *t.curTemp
		st.CurrentTemperature = &cur
	}
	if t.ranged() {
		low, high := t.targetTempLow, t.targetTempHigh
		st.TargetTempLow, st.TargetTempHigh = &low, &high
	} else {
		temp := t.targetTemp
		st.TargetTemperature = &temp
	}
	if !t.presets.Empty() {
		st.PresetMode = t.presets.Mode()
		st.PresetModes = t.presets.Modes()
	}
	return st
}

// Attributes returns everything needed to resume after a restart. Each
// controller's attributes sit under its unique id.
func (t *Thermostat) Attributes() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()

	attrs := map[string]any{
		model.AttrState:                string(t.hvacMode),
		model.AttrTargetTemp:           t.targetTemp,
		model.AttrTargetTempLow:        t.targetTempLow,
		model.AttrTargetTempHigh:       t.targetTempHigh,
		model.AttrHVACAction:           string(t.hvacAction()),
		model.AttrAutoCoolDelta:        t.autoCoolDelta(),
		model.AttrAutoHeatDelta:        t.autoHeatDelta(),
		model.AttrLastAsyncControlMode: string(t.lastAsyncMode),
		model.AttrLastActiveHVACMode:   string(t.lastActiveMode),
	}
	if t.curTemp != nil {
		attrs[model.AttrCurrentTemperature] = *t.curTemp
	}
	if !t.presets.Empty() {
		attrs[model.AttrPresetMode] = t.presets.Mode()
	}
	if saved, ok := t.presets.Saved(); ok {
		attrs[model.AttrPresetNoneSavedState] = saved.Attributes()
	}
	for _, c := range t.controllers {
		if ca := c.Attributes(); len(ca) > 0 {
			attrs[c.UniqueID()] = ca
		}
	}
	return attrs
}

// Restore loads attributes saved by Attributes. It must run before Start; a
// nil map resets to defaults.
func (t *Thermostat) Restore(ctx context.Context, attrs map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, c := range t.controllers {
		cattrs, _ := attrs[c.UniqueID()].(map[string]any)
		if err := c.Restore(ctx, maps.Clone(cattrs)); err != nil {
			return fmt.Errorf("restore %s: %w", c.Name(), err)
		}
	}

	if attrs == nil {
		t.targetTemp, t.targetTempLow, t.targetTempHigh = t.MinTemp(), t.MinTemp(), t.MaxTemp()
		t.hvacMode = model.ModeOff
		t.lastActiveMode = ""
		log.Debug().Str("thermostat", t.cfg.Name).Msg("No saved state, using defaults")
		return nil
	}

	t.targetTempLow = floatOr(attrs, model.AttrTargetTempLow, t.MinTemp())
	t.targetTempHigh = floatOr(attrs, model.AttrTargetTempHigh, t.MaxTemp())
	t.targetTemp = floatOr(attrs, model.AttrTargetTemp, t.MinTemp())

	mode, ok := modeAttr(attrs, model.AttrState)
	if ok && t.supports(mode) {
		t.hvacMode = mode
	} else {
		t.hvacMode = model.ModeOff
		t.lastActiveMode = ""
	}
	t.lastAsyncMode, _ = modeAttr(attrs, model.AttrLastAsyncControlMode)

	if saved, ok := attrs[model.AttrPresetNoneSavedState].(map[string]any); ok && len(saved) > 0 && !t.presets.Empty() {
		t.presets.Save(preset.SavedFromAttributes(saved))
	}
	if name, ok := attrs[model.AttrPresetMode].(string); ok && name != "" && !t.presets.Empty() {
		if err := t.presets.Set(name); err != nil {
			log.Warn().Err(err).Str("thermostat", t.cfg.Name).Msg("Saved preset no longer configured")
		}
	}
	if last, ok := modeAttr(attrs, model.AttrLastActiveHVACMode); ok && t.supports(last) {
		t.lastActiveMode = last
	}

	log.Info().
		Str("thermostat", t.cfg.Name).
		Str("hvac_mode", string(t.hvacMode)).
		Str("preset", t.presets.Mode()).
		Float64("target", t.targetTemp).
		Msg("Restored thermostat state")
	return nil
}

func floatOr(attrs map[string]any, key string, def float64) float64 {
	v, ok := attrs[key]
	if !ok || v == nil {
		return def
	}
	f, err := template.ToFloat(v)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Float64("default", def).Msg("Unparseable saved value, using default")
		return def
	}
	return f
}

func modeAttr(attrs map[string]any, key string) (model.HVACMode, bool) {
	s, ok := attrs[key].(string)
	if !ok || s == "" {
		return "", false
	}
	m, err := model.ParseHVACMode(s)
	if err != nil {
		return "", false
	}
	return m, true
}
