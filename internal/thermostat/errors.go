package thermostat

import "errors"

var (
	ErrNoControllers       = errors.New("thermostat has no controllers")
	ErrNoSensor            = errors.New("thermostat has no sensor")
	ErrDuplicateController = errors.New("duplicate controller")
	ErrInvalidTempRange    = errors.New("min_temp must be below max_temp")
	ErrUnsupportedMode     = errors.New("unsupported hvac mode")
	ErrUnknownPreset       = errors.New("unknown preset")
	ErrMissingTemperature  = errors.New("missing target temperature")
	ErrAlreadyStarted      = errors.New("thermostat already started")
)
