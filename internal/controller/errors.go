package controller

import "errors"

var (
	ErrInvalidSide      = errors.New("unsupported controller side")
	ErrNoTarget         = errors.New("controller target entity is required")
	ErrNoHost           = errors.New("controller has no thermostat")
	ErrInvalidLimits    = errors.New("invalid output limits")
	ErrInvalidPWMPeriod = errors.New("pwm period must be positive")
)
