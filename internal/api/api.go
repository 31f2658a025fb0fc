// Package api serves the thermostat over a small REST interface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/universal-thermostat/db"
	"github.com/thatsimonsguy/universal-thermostat/internal/actuator"
	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/state"
	"github.com/thatsimonsguy/universal-thermostat/internal/thermostat"
)

// Thermostat is the engine surface exposed over HTTP.
type Thermostat interface {
	Status() thermostat.Status
	Attributes() map[string]any
	SetHVACMode(ctx context.Context, mode model.HVACMode) error
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
	SetTemperature(ctx context.Context, req thermostat.TemperatureRequest) error
	SetPresetMode(ctx context.Context, name string) error
}

// EventSource lists recorded notifications, newest first.
type EventSource interface {
	Recent(limit int) ([]db.Event, error)
}

// EntitySource exposes the last known state of every entity.
type EntitySource interface {
	Snapshot() map[string]state.State
}

type Server struct {
	thermo   Thermostat
	events   EventSource
	entities EntitySource

	mu   sync.Mutex
	http *http.Server
}

type ModeRequest struct {
	HVACMode string `json:"hvac_mode"`
}

type PresetRequest struct {
	PresetMode string `json:"preset_mode"`
}

type EventResponse struct {
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

const defaultEventLimit = 50

// NewServer builds the API. events and entities may be nil.
func NewServer(thermo Thermostat, events EventSource, entities EntitySource) *Server {
	return &Server{thermo: thermo, events: events, entities: entities}
}

// Router builds the route table. It is exported for tests and for
// embedding under another mux.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(commandIDMiddleware)

	api := r.PathPrefix("/api/thermostat").Subrouter()
	api.HandleFunc("", s.getStatus).Methods(http.MethodGet)
	api.HandleFunc("/attributes", s.getAttributes).Methods(http.MethodGet)
	api.HandleFunc("/events", s.getEvents).Methods(http.MethodGet)
	api.HandleFunc("/mode", s.setMode).Methods(http.MethodPut)
	api.HandleFunc("/temperature", s.setTemperature).Methods(http.MethodPut)
	api.HandleFunc("/preset", s.setPreset).Methods(http.MethodPut)
	api.HandleFunc("/turn_on", s.turnOn).Methods(http.MethodPost)
	api.HandleFunc("/turn_off", s.turnOff).Methods(http.MethodPost)
	r.HandleFunc("/api/entities", s.getEntities).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	return r
}

// Handler wraps the router with CORS and access logging.
func (s *Server) Handler() http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	return handlers.LoggingHandler(os.Stdout, cors(s.Router()))
}

func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	log.Info().Str("address", addr).Msg("Starting REST API server")
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// commandIDMiddleware tags every request with a command id so device
// calls made on its behalf can be traced back to it.
func commandIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = actuator.NewCommandID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(actuator.WithCommandID(r.Context(), id)))
	})
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.thermo.Status())
}

func (s *Server) getAttributes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.thermo.Attributes())
}

func (s *Server) getEntities(w http.ResponseWriter, _ *http.Request) {
	if s.entities == nil {
		writeJSON(w, http.StatusOK, map[string]state.State{})
		return
	}
	writeJSON(w, http.StatusOK, s.entities.Snapshot())
}

func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusOK, []EventResponse{})
		return
	}
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := s.events.Recent(limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list events")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response := make([]EventResponse, 0, len(events))
	for _, e := range events {
		response = append(response, EventResponse{Title: e.Title, Message: e.Message, CreatedAt: e.CreatedAt})
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) setMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if !decode(w, r, &req) {
		return
	}
	mode, err := model.ParseHVACMode(req.HVACMode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.thermo.SetHVACMode(r.Context(), mode); err != nil {
		writeEngineError(w, err)
		return
	}
	log.Info().Str("mode", string(mode)).Msg("HVAC mode updated via API")
	writeJSON(w, http.StatusOK, s.thermo.Status())
}

func (s *Server) setTemperature(w http.ResponseWriter, r *http.Request) {
	var req thermostat.TemperatureRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.thermo.SetTemperature(r.Context(), req); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.thermo.Status())
}

func (s *Server) setPreset(w http.ResponseWriter, r *http.Request) {
	var req PresetRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.thermo.SetPresetMode(r.Context(), req.PresetMode); err != nil {
		writeEngineError(w, err)
		return
	}
	log.Info().Str("preset", req.PresetMode).Msg("Preset updated via API")
	writeJSON(w, http.StatusOK, s.thermo.Status())
}

func (s *Server) turnOn(w http.ResponseWriter, r *http.Request) {
	if err := s.thermo.TurnOn(r.Context()); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.thermo.Status())
}

func (s *Server) turnOff(w http.ResponseWriter, r *http.Request) {
	if err := s.thermo.TurnOff(r.Context()); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.thermo.Status())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return false
	}
	return true
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, thermostat.ErrUnsupportedMode),
		errors.Is(err, thermostat.ErrUnknownPreset),
		errors.Is(err, thermostat.ErrMissingTemperature):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		log.Error().Err(err).Msg("Thermostat command failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}
