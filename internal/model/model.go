package model

import (
	"fmt"
	"strings"
)

// Side is the function a controller serves.
type Side string

const (
	SideHeat Side = "heat"
	SideCool Side = "cool"
)

func (s Side) Valid() bool {
	return s == SideHeat || s == SideCool
}

func ParseSide(s string) (Side, error) {
	side := Side(strings.ToLower(strings.TrimSpace(s)))
	if !side.Valid() {
		return "", fmt.Errorf("invalid hvac side %q", s)
	}
	return side, nil
}

type HVACMode string

const (
	ModeOff      HVACMode = "off"
	ModeHeat     HVACMode = "heat"
	ModeCool     HVACMode = "cool"
	ModeHeatCool HVACMode = "heat_cool"
	ModeAuto     HVACMode = "auto"
)

// Includes reports whether controllers of the given side run in this mode.
func (m HVACMode) Includes(s Side) bool {
	switch m {
	case ModeHeatCool, ModeAuto:
		return s.Valid()
	case ModeHeat:
		return s == SideHeat
	case ModeCool:
		return s == SideCool
	default:
		return false
	}
}

func (m HVACMode) Valid() bool {
	switch m {
	case ModeOff, ModeHeat, ModeCool, ModeHeatCool, ModeAuto:
		return true
	default:
		return false
	}
}

func ParseHVACMode(s string) (HVACMode, error) {
	m := HVACMode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("invalid hvac mode %q", s)
	}
	return m, nil
}

// ModeForSide maps a side to the single-side HVAC mode of the same name.
func ModeForSide(s Side) HVACMode {
	if s == SideCool {
		return ModeCool
	}
	return ModeHeat
}

type HVACAction string

const (
	ActionOff     HVACAction = "off"
	ActionHeating HVACAction = "heating"
	ActionCooling HVACAction = "cooling"
	ActionIdle    HVACAction = "idle"
)

// Reason tags every control pass with what triggered it.
type Reason string

const (
	ReasonKeepAlive                       Reason = "keep_alive"
	ReasonPIDControl                      Reason = "pid_control"
	ReasonPWMControl                      Reason = "pwm_control"
	ReasonPresetChanged                   Reason = "preset_changed"
	ReasonTemplateEntityChanged           Reason = "template_entity_changed"
	ReasonControllerTemplateEntityChanged Reason = "controller_template_entity_changed"
	ReasonFirstRun                        Reason = "first_run"
	ReasonHVACModeChanged                 Reason = "hvac_mode_changed"
	ReasonNotRunning                      Reason = "not_running"
	ReasonSensorChanged                   Reason = "sensor_changed"
	ReasonStop                            Reason = "stop"
	ReasonTargetTempChanged               Reason = "target_temp_changed"
	ReasonWindowEntityChanged             Reason = "window_entity_changed"
)

// Persisted attribute keys.
const (
	AttrHVACMode              = "hvac_mode"
	AttrInverted              = "inverted"
	AttrKp                    = "kp"
	AttrKi                    = "ki"
	AttrKd                    = "kd"
	AttrPIDSamplePeriod       = "pid_sample_period"
	AttrColdTolerance         = "cold_tolerance"
	AttrHotTolerance          = "hot_tolerance"
	AttrMinCycleDuration      = "min_cycle_duration"
	AttrTargetTempDelta       = "target_temp_delta"
	AttrPWMValue              = "pwm_value"
	AttrPIDOutput             = "pid_output"
	AttrLastControlState      = "last_control_state"
	AttrLastControlTime       = "last_control_time"
	AttrAutoCoolDelta         = "auto_cool_delta"
	AttrAutoHeatDelta         = "auto_heat_delta"
	AttrLastAsyncControlMode  = "async_control_hvac_mode"
	AttrLastActiveHVACMode    = "last_active_hvac_mode"
	AttrPresetNoneSavedState  = "saved_preset_state"
	AttrPresetMode            = "preset_mode"
	AttrTargetTemp            = "temperature"
	AttrTargetTempLow         = "target_temp_low"
	AttrTargetTempHigh        = "target_temp_high"
	AttrState                 = "state"
	AttrCurrentTemperature    = "current_temperature"
	AttrHVACAction            = "hvac_action"
	ControllerAttrPrefix      = "ctrl_"
	PresetNone                = "none"
	PresetSavedHVACMode       = "saved_hvac_mode"
	PresetSavedTargetTemp     = "saved_target_temp"
	PresetSavedTargetTempLow  = "saved_target_temp_low"
	PresetSavedTargetTempHigh = "saved_target_temp_high"
	StateOn                   = "on"
	StateOff                  = "off"
	StateUnavailable          = "unavailable"
	StateUnknown              = "unknown"
)

// Defaults shared across controllers and the coordinator.
const (
	DefaultAutoCoolDelta    = 1.0
	DefaultAutoHeatDelta    = 1.0
	DefaultClimateTempDelta = 0.0
	DefaultColdTolerance    = 0.3
	DefaultHotTolerance     = 0.3
	DefaultPIDKp            = 0.0
	DefaultPIDKi            = 0.0
	DefaultPIDKd            = 0.0
	DefaultPIDMin           = 0.0
	DefaultPIDMax           = 100.0
	DefaultPresetAutoDelta  = 0.0
	DefaultMinTemp          = 7.0
	DefaultMaxTemp          = 35.0
	DefaultPrecision        = 0.1
	PWMMinValue             = 0
	PWMMaxValue             = 100
)

// ObjectID strips the domain part of an entity id ("switch.heater" -> "heater").
func ObjectID(entityID string) string {
	if i := strings.IndexByte(entityID, '.'); i >= 0 {
		return entityID[i+1:]
	}
	return entityID
}
