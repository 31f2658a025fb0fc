// Package shutdown stops a running thermostat and leaves the relays safe.
package shutdown

import (
	"context"
	"errors"
	"os"

	"github.com/rs/zerolog/log"
)

// Engine is the part of the thermostat that shutdown needs.
type Engine interface {
	Name() string
	Attributes() map[string]any
	Close(ctx context.Context) error
}

// Relays can drive every output to its inactive level.
type Relays interface {
	AllOff() error
}

type Saver interface {
	Save(attrs map[string]any) error
}

// Shutdown saves the restart attributes, stops the engine and switches
// every relay off. Each step runs even if an earlier one failed.
func Shutdown(ctx context.Context, engine Engine, saver Saver, relays Relays) error {
	var errs []error
	if engine != nil {
		if saver != nil {
			if err := saver.Save(engine.Attributes()); err != nil {
				log.Error().Err(err).Str("thermostat", engine.Name()).Msg("Failed to save thermostat state")
				errs = append(errs, err)
			}
		}
		if err := engine.Close(ctx); err != nil {
			log.Error().Err(err).Str("thermostat", engine.Name()).Msg("Failed to stop thermostat")
			errs = append(errs, err)
		}
	}
	if relays != nil {
		if err := relays.AllOff(); err != nil {
			log.Error().Err(err).Msg("Failed to deactivate relays")
			errs = append(errs, err)
		} else {
			log.Info().Msg("Relays deactivated")
		}
	}
	return errors.Join(errs...)
}

// ShutdownWithError logs err, runs Shutdown and exits non-zero.
func ShutdownWithError(ctx context.Context, err error, msg string, engine Engine, saver Saver, relays Relays) {
	log.Error().Err(err).Msg(msg)
	_ = Shutdown(ctx, engine, saver, relays)
	exit(1)
}

var exit = os.Exit
