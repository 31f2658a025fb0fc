// Package temperature reads the room sensor out of the state registry and
// filters out readings the thermostat must not act on.
package temperature

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/state"
	"github.com/thatsimonsguy/universal-thermostat/internal/template"
)

type Reading struct {
	Temperature float64
	Timestamp   time.Time
	Valid       bool
}

type ReadingHistory struct {
	Readings        []Reading
	MaxSize         int
	AnomalyCount    int
	LastGoodReading Reading
}

// Notifier interface for sending notifications
type Notifier interface {
	Send(title, message string) error
}

type Config struct {
	EntityID string
	// MaxDelta is the largest jump from the last good reading accepted
	// without suspicion. Zero disables the spike filter.
	MaxDelta float64
	// MaxAnomalies is how many suspicious readings in a row are rejected
	// before the new level is accepted as the baseline.
	MaxAnomalies int
}

const defaultHistorySize = 20

// Service implements the thermostat's sensor on top of the registry.
type Service struct {
	reg      *state.Registry
	cfg      Config
	mutex    sync.Mutex
	history  ReadingHistory
	current  *Reading
	lastSeen time.Time

	notifier Notifier
}

func NewService(reg *state.Registry, cfg Config, notifier Notifier) *Service {
	if cfg.MaxDelta > 0 && cfg.MaxAnomalies <= 0 {
		cfg.MaxAnomalies = 3
	}
	return &Service{
		reg:      reg,
		cfg:      cfg,
		history:  ReadingHistory{MaxSize: defaultHistorySize},
		notifier: notifier,
	}
}

// TestDeps holds test dependencies
type TestDeps struct {
	Registry *state.Registry
	Notifier Notifier
}

// NewServiceForTest creates a service with a five degree spike filter that
// gives up after three anomalies.
func NewServiceForTest(deps *TestDeps) *Service {
	reg := deps.Registry
	if reg == nil {
		reg = state.NewRegistry()
	}
	return NewService(reg, Config{EntityID: "sensor.test", MaxDelta: 5.0, MaxAnomalies: 3}, deps.Notifier)
}

func (s *Service) EntityID() string { return s.cfg.EntityID }

// CurrentTemperature returns the latest accepted reading. Each registry
// update is filtered once; while a spike is being rejected the last good
// reading is returned instead.
func (s *Service) CurrentTemperature() (float64, bool) {
	st, ok := s.reg.Get(s.cfg.EntityID)
	if !ok {
		log.Warn().Str("sensor_id", s.cfg.EntityID).Msg("No temperature reading available for sensor")
		return 0, false
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if st.LastUpdated.IsZero() || !st.LastUpdated.Equal(s.lastSeen) {
		s.lastSeen = st.LastUpdated
		temp, err := parseReading(st.Value)
		if err != nil {
			log.Error().Err(err).Str("sensor_id", s.cfg.EntityID).Msg("Unable to update from sensor")
			s.current = nil
			return 0, false
		}
		s.processReading(temp, st.LastUpdated)
	}

	if s.current == nil || !s.current.Valid {
		return 0, false
	}
	return s.current.Temperature, true
}

func parseReading(value string) (float64, error) {
	if value == model.StateUnavailable || value == model.StateUnknown || value == "" {
		return 0, fmt.Errorf("sensor is %q", value)
	}
	return template.ToFloat(value)
}

// processReading runs the spike filter and reports whether temp was
// accepted. The caller holds the mutex.
func (s *Service) processReading(temp float64, timestamp time.Time) bool {
	newReading := Reading{Temperature: temp, Timestamp: timestamp, Valid: true}
	history := &s.history

	if s.cfg.MaxDelta <= 0 || !history.LastGoodReading.Valid {
		s.accept(newReading)
		return true
	}

	if !s.isAnomalousReading(temp) {
		s.accept(newReading)
		return true
	}

	history.AnomalyCount++
	if history.AnomalyCount >= s.cfg.MaxAnomalies {
		previous := history.LastGoodReading.Temperature
		s.accept(newReading)
		log.Info().
			Str("sensor_id", s.cfg.EntityID).
			Float64("temp", temp).
			Float64("previous", previous).
			Msg("Stable new baseline detected, accepting temperature")
		s.sendBaselineNotification(temp, previous)
		return true
	}

	log.Warn().
		Str("sensor_id", s.cfg.EntityID).
		Float64("temp", temp).
		Float64("last_good", history.LastGoodReading.Temperature).
		Int("anomalies", history.AnomalyCount).
		Msg("Temperature reading rejected as anomalous")
	s.addToHistory(Reading{Temperature: temp, Timestamp: timestamp})
	return false
}

func (s *Service) accept(r Reading) {
	s.history.AnomalyCount = 0
	s.history.LastGoodReading = r
	s.addToHistory(r)
	s.current = &r
	log.Debug().
		Str("sensor_id", s.cfg.EntityID).
		Float64("temp", r.Temperature).
		Msg("Temperature reading accepted")
}

func (s *Service) isAnomalousReading(temp float64) bool {
	return math.Abs(temp-s.history.LastGoodReading.Temperature) > s.cfg.MaxDelta
}

// addToHistory adds a reading to the circular buffer
func (s *Service) addToHistory(reading Reading) {
	history := &s.history
	if len(history.Readings) >= history.MaxSize {
		history.Readings = history.Readings[1:]
	}
	history.Readings = append(history.Readings, reading)
}

func (s *Service) sendBaselineNotification(temp, previous float64) {
	if s.notifier == nil {
		return
	}
	message := fmt.Sprintf("%s: %.1f° accepted after %d anomalous readings (last good: %.1f°)",
		s.cfg.EntityID, temp, s.cfg.MaxAnomalies, previous)
	if err := s.notifier.Send("Thermostat Sensor Jump", message); err != nil {
		log.Error().Err(err).Msg("Failed to send sensor notification")
	}
}

// History returns a copy of the recent readings, rejected ones included
// with Valid unset.
func (s *Service) History() []Reading {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]Reading(nil), s.history.Readings...)
}
