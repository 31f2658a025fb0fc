package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/universal-thermostat/db"
	"github.com/thatsimonsguy/universal-thermostat/internal/api"
	"github.com/thatsimonsguy/universal-thermostat/internal/config"
	"github.com/thatsimonsguy/universal-thermostat/internal/datadog"
	"github.com/thatsimonsguy/universal-thermostat/internal/logging"
	"github.com/thatsimonsguy/universal-thermostat/internal/notifications"
	"github.com/thatsimonsguy/universal-thermostat/system/shutdown"
	"github.com/thatsimonsguy/universal-thermostat/system/startup"
)

const (
	saveInterval    = time.Minute
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load(os.Args[1:], os.Environ)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	closer, err := logging.Init(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	log.Info().
		Str("config_file", cfg.ConfigFile).
		Str("db", cfg.DBPath).
		Str("thermostat", cfg.Thermostat.Name).
		Msg("Starting thermostat")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("Thermostat stopped with error")
		closer.Close()
		os.Exit(1)
	}
	log.Info().Msg("Thermostat stopped")
}

// newMetrics returns nil when metrics are off or the client cannot be
// created; the thermostat runs without them.
func newMetrics(cfg config.Datadog) *datadog.Client {
	if !cfg.Enabled {
		return nil
	}
	dd, err := datadog.New(datadog.Config{
		AgentAddr: cfg.AgentAddr,
		Namespace: cfg.Namespace,
		Tags:      cfg.Tags,
	})
	if err != nil {
		log.Warn().Err(err).Str("agent", cfg.AgentAddr).Msg("Datadog disabled, client could not be created")
		return nil
	}
	return dd
}

func run(ctx context.Context, cfg config.Config) error {
	var (
		attrs     startup.AttributeStore
		events    api.EventSource
		notifiers notifications.Multi
	)

	if cfg.DBPath != "" {
		conn, err := db.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer conn.Close()
		attrs = startup.DBStore{DB: conn, Name: cfg.Thermostat.Name}
		eventLog := db.NewEventLog(conn, cfg.Thermostat.Name)
		events = eventLog
		notifiers = append(notifiers, eventLog)
	} else {
		attrs = startup.FileStore(cfg.StateFile)
	}

	if cfg.Ntfy.Topic != "" {
		notifiers = append(notifiers, notifications.NewNtfy(cfg.Ntfy.Server, cfg.Ntfy.Topic))
	}
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic != "" {
		k := notifications.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Thermostat.Name)
		defer k.Close()
		notifiers = append(notifiers, k)
	}

	var deps startup.Deps
	if len(notifiers) > 0 {
		deps.Notifier = notifiers
	}
	if dd := newMetrics(cfg.Datadog); dd != nil {
		defer dd.Close()
		deps.Metrics = dd
	}

	sys, err := startup.Build(cfg, deps)
	if err != nil {
		return err
	}

	var relays shutdown.Relays
	if sys.GPIO != nil {
		relays = sys.GPIO
	}
	// abort drives the relays off before exiting. Nothing is saved: the
	// engine has not run yet, so the stored state is still the good one.
	abort := func(err error, msg string) error {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdown.ShutdownWithError(stopCtx, err, msg, sys.Thermostat, nil, relays)
		return err
	}

	if sys.GPIO != nil {
		if cfg.GPIO.ValidateOnStartup {
			if err := sys.GPIO.ValidateInitialPinStates(); err != nil {
				return abort(err, "Refusing to enable relay board due to unsafe pin states")
			}
		}
		if err := sys.GPIO.Sync(); err != nil {
			log.Warn().Err(err).Msg("Failed to read relay states")
		}
	}
	if sys.Modbus != nil {
		if err := sys.Modbus.Connect(); err != nil {
			return abort(err, "Failed to connect to Modbus device")
		}
		defer sys.Modbus.Close()
		go sys.Modbus.Run(ctx)
	}
	if sys.MQTT != nil {
		if err := sys.MQTT.Connect(ctx); err != nil {
			return abort(err, "Failed to connect to MQTT broker")
		}
		defer sys.MQTT.Close()
	}

	saved, err := attrs.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load saved thermostat state, starting with defaults")
	}
	if saved != nil {
		if err := sys.Thermostat.Restore(ctx, saved); err != nil {
			log.Warn().Err(err).Msg("Failed to restore thermostat state")
		}
	}
	if err := sys.Thermostat.Start(ctx); err != nil {
		return abort(err, "Failed to start thermostat")
	}

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(sys.Thermostat, events, sys.Registry)
		go func() {
			if err := server.Start(cfg.API.Addr); err != nil {
				log.Error().Err(err).Str("addr", cfg.API.Addr).Msg("REST API server failed")
			}
		}()
	}

	ticker := time.NewTicker(saveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := attrs.Save(sys.Thermostat.Attributes()); err != nil {
				log.Warn().Err(err).Msg("Failed to save thermostat state")
			}
		case <-ctx.Done():
			log.Info().Msg("Shutdown requested")
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if server != nil {
				if err := server.Shutdown(stopCtx); err != nil {
					log.Warn().Err(err).Msg("REST API shutdown failed")
				}
			}
			return shutdown.Shutdown(stopCtx, sys.Thermostat, attrs, relays)
		}
	}
}
