package thermostat

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/preset"
)

// SetHVACMode switches the thermostat to mode. Leaving a preset by changing
// the mode drops the preset and its saved state.
func (t *Thermostat) SetHVACMode(ctx context.Context, mode model.HVACMode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setHVACMode(ctx, mode)
}

func (t *Thermostat) setHVACMode(ctx context.Context, mode model.HVACMode) error {
	if !t.supports(mode) {
		log.Error().Str("thermostat", t.cfg.Name).Str("hvac_mode", string(mode)).Msg("Unsupported HVAC mode")
		return fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}
	if mode == t.hvacMode {
		log.Info().Str("thermostat", t.cfg.Name).Str("hvac_mode", string(mode)).Msg("HVAC mode already set")
		return nil
	}

	if t.presets.Mode() != model.PresetNone {
		log.Info().Str("thermostat", t.cfg.Name).Str("preset", t.presets.Mode()).Msg("HVAC mode changed by hand, resetting preset")
		_ = t.presets.Set(model.PresetNone)
		t.presets.ClearSaved()
	}

	t.toggleTargets(mode)
	t.hvacMode = mode

	t.control(ctx, true, model.ReasonHVACModeChanged)
	t.writeState()
	t.notify(t.cfg.Name+": mode "+string(mode), fmt.Sprintf("HVAC mode set to %s", mode))
	return nil
}

// TurnOn restores the last active mode.
func (t *Thermostat) TurnOn(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	mode := t.lastActiveMode
	if mode == "" {
		for _, m := range []model.HVACMode{model.ModeHeatCool, model.ModeHeat, model.ModeCool} {
			if t.supports(m) {
				mode = m
				break
			}
		}
	}
	return t.setHVACMode(ctx, mode)
}

func (t *Thermostat) TurnOff(ctx context.Context) error {
	return t.SetHVACMode(ctx, model.ModeOff)
}

// toggleTargets converts between a single setpoint and a low/high range when
// the mode moves in or out of heat_cool.
func (t *Thermostat) toggleTargets(newMode model.HVACMode) {
	if newMode == model.ModeHeatCool && t.lastActiveMode != model.ModeHeatCool {
		switch t.lastActiveMode {
		case model.ModeCool:
			t.targetTempHigh = t.targetTemp
			t.targetTempLow = t.roundToStep(t.targetTemp - t.autoHeatDelta())
		case model.ModeHeat:
			t.targetTempLow = t.targetTemp
			t.targetTempHigh = t.roundToStep(t.targetTemp + t.autoCoolDelta())
		case model.ModeAuto:
			t.targetTempLow = t.roundToStep(t.targetTemp - t.autoHeatDelta())
			t.targetTempHigh = t.roundToStep(t.targetTemp + t.autoCoolDelta())
		default:
			return
		}
		log.Info().
			Str("thermostat", t.cfg.Name).
			Float64("low", t.targetTempLow).
			Float64("high", t.targetTempHigh).
			Msg("Calculated ranged target temperatures")
		return
	}

	if t.lastActiveMode != model.ModeHeatCool {
		return
	}
	switch newMode {
	case model.ModeCool:
		t.targetTemp = t.targetTempHigh
	case model.ModeHeat:
		t.targetTemp = t.targetTempLow
	case model.ModeAuto:
		t.targetTemp = t.roundToStep((t.targetTempLow + t.targetTempHigh) / 2)
	default:
		return
	}
	log.Info().Str("thermostat", t.cfg.Name).Float64("target", t.targetTemp).Msg("Calculated target temperature")
}

// TemperatureRequest carries a new setpoint. Temperature is used in single
// setpoint modes, Low and High in ranged mode.
type TemperatureRequest struct {
	Temperature *float64 `json:"temperature,omitempty"`
	Low         *float64 `json:"target_temp_low,omitempty"`
	High        *float64 `json:"target_temp_high,omitempty"`
}

func (t *Thermostat) SetTemperature(ctx context.Context, req TemperatureRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ranged() {
		if req.Low == nil && req.High == nil {
			log.Warn().Str("thermostat", t.cfg.Name).Msg("Undefined low/high target temperatures")
			return fmt.Errorf("%w: target_temp_low or target_temp_high", ErrMissingTemperature)
		}
		if req.Low != nil {
			t.targetTempLow = t.roundToStep(*req.Low)
		}
		if req.High != nil {
			t.targetTempHigh = t.roundToStep(*req.High)
		}
	} else {
		if req.Temperature == nil {
			log.Warn().Str("thermostat", t.cfg.Name).Msg("Undefined target temperature")
			return fmt.Errorf("%w: temperature", ErrMissingTemperature)
		}
		t.targetTemp = t.roundToStep(*req.Temperature)
	}

	t.control(ctx, true, model.ReasonTargetTempChanged)
	t.writeState()
	return nil
}

// SetPresetMode activates a preset, or restores the saved state on "none".
func (t *Thermostat) SetPresetMode(ctx context.Context, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.presets.Empty() || !t.presets.Has(name) {
		log.Warn().Str("thermostat", t.cfg.Name).Str("preset", name).Strs("presets", t.presets.Modes()).Msg("Unsupported preset")
		return fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	if name == t.presets.Mode() {
		log.Info().Str("thermostat", t.cfg.Name).Str("preset", name).Msg("Preset already set")
		return nil
	}

	if t.presets.Mode() == model.PresetNone {
		temp, low, high := t.targetTemp, t.targetTempLow, t.targetTempHigh
		t.presets.Save(preset.Saved{HVACMode: t.hvacMode, TargetTemp: &temp, TargetTempLow: &low, TargetTempHigh: &high})
	}
	if err := t.presets.Set(name); err != nil {
		return err
	}

	if name == model.PresetNone {
		t.restoreSaved()
	} else {
		t.applyPreset(name)
	}

	t.control(ctx, true, model.ReasonPresetChanged)
	t.writeState()
	t.notify(t.cfg.Name+": preset "+name, fmt.Sprintf("Preset set to %s", name))
	return nil
}

func (t *Thermostat) changeModeForPreset(mode model.HVACMode) {
	if mode == "" || mode == t.hvacMode || !t.supports(mode) {
		return
	}
	log.Info().Str("thermostat", t.cfg.Name).Str("hvac_mode", string(mode)).Msg("Preset changes HVAC mode")
	t.hvacMode = mode
	t.toggleTargets(mode)
}

func (t *Thermostat) applyPreset(name string) {
	t.changeModeForPreset(t.presets.HVACMode(t.hvacMode))

	if !t.ranged() {
		if v := t.presets.TargetTemp(t.hvacMode, t.targetTemp); v != t.targetTemp {
			log.Info().Str("thermostat", t.cfg.Name).Str("preset", name).Float64("target", v).Msg("Preset changes target temperature")
			t.targetTemp = v
		}
		return
	}
	if v := t.presets.TargetTempLow(t.targetTempLow); v != t.targetTempLow {
		log.Info().Str("thermostat", t.cfg.Name).Str("preset", name).Float64("low", v).Msg("Preset changes low target temperature")
		t.targetTempLow = v
	}
	if v := t.presets.TargetTempHigh(t.targetTempHigh); v != t.targetTempHigh {
		log.Info().Str("thermostat", t.cfg.Name).Str("preset", name).Float64("high", v).Msg("Preset changes high target temperature")
		t.targetTempHigh = v
	}
}

// restoreSaved puts back whatever was captured when leaving "none". A
// captured zero is restored like any other value.
func (t *Thermostat) restoreSaved() {
	saved, ok := t.presets.Saved()
	t.presets.ClearSaved()
	if !ok {
		return
	}
	t.changeModeForPreset(saved.HVACMode)
	if saved.TargetTemp != nil {
		t.targetTemp = *saved.TargetTemp
	}
	if saved.TargetTempLow != nil {
		t.targetTempLow = *saved.TargetTempLow
	}
	if saved.TargetTempHigh != nil {
		t.targetTempHigh = *saved.TargetTempHigh
	}
	log.Info().
		Str("thermostat", t.cfg.Name).
		Str("hvac_mode", string(t.hvacMode)).
		Float64("target", t.targetTemp).
		Msg("Restored state saved before the preset")
}
