// Package window tracks window/door sensors that interlock the thermostat.
package window

import (
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/state"
	"github.com/thatsimonsguy/universal-thermostat/internal/template"
)

// Window is one opening sensor. Timeout is rendered in seconds.
type Window struct {
	EntityID string
	Timeout  *template.Value
	Inverted bool

	prevOpened bool
}

func New(entityID string, timeout *template.Value, inverted bool) *Window {
	return &Window{EntityID: entityID, Timeout: timeout, Inverted: inverted}
}

func (w *Window) opened(value string) bool {
	switch value {
	case model.StateOn:
		return !w.Inverted
	case model.StateOff:
		return w.Inverted
	}
	return false
}

// TimeoutDuration renders the debounce timeout; zero means none.
func (w *Window) TimeoutDuration(env template.Env) time.Duration {
	if w.Timeout == nil {
		return 0
	}
	secs, err := w.Timeout.Render(env)
	if err != nil {
		log.Warn().Err(err).Str("window", w.EntityID).Msg("Window timeout render failed, using no timeout")
		return 0
	}
	if secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// Observe records the state a change replaced, used while the new state is
// still inside the debounce timeout.
func (w *Window) Observe(c state.Change) {
	if c.Old != nil && c.Old.Value != c.New.Value {
		w.prevOpened = w.opened(c.Old.Value)
	}
}

// IsOpened reports whether the window counts as open at now.
func (w *Window) IsOpened(reg *state.Registry, env template.Env, now time.Time) bool {
	st, ok := reg.Get(w.EntityID)
	if !ok {
		return false
	}
	open := w.opened(st.Value)
	if timeout := w.TimeoutDuration(env); timeout > 0 && now.Sub(st.LastChanged) < timeout {
		return w.prevOpened
	}
	return open
}

// Set is the group of windows guarding one thermostat.
type Set struct {
	reg     *state.Registry
	windows []*Window
}

func NewSet(reg *state.Registry, windows ...*Window) *Set {
	return &Set{reg: reg, windows: windows}
}

func (s *Set) Len() int { return len(s.windows) }

func (s *Set) Entities() []string {
	out := make([]string, 0, len(s.windows))
	for _, w := range s.windows {
		out = append(out, w.EntityID)
	}
	return out
}

// Templates lists entities referenced by the timeout templates.
func (s *Set) TemplateEntities() []string {
	var out []string
	for _, w := range s.windows {
		if w.Timeout == nil {
			continue
		}
		for _, id := range w.Timeout.Entities() {
			if !slices.Contains(out, id) {
				out = append(out, id)
			}
		}
	}
	return out
}

func (s *Set) Get(entityID string) (*Window, bool) {
	for _, w := range s.windows {
		if w.EntityID == entityID {
			return w, true
		}
	}
	return nil, false
}

// IsSafeOpened is true when any window counts as open.
func (s *Set) IsSafeOpened(env template.Env, now time.Time) bool {
	for _, w := range s.windows {
		if w.IsOpened(s.reg, env, now) {
			return true
		}
	}
	return false
}

// MaxTimeout is the longest debounce of all windows.
func (s *Set) MaxTimeout(env template.Env) time.Duration {
	var maxTimeout time.Duration
	for _, w := range s.windows {
		maxTimeout = max(maxTimeout, w.TimeoutDuration(env))
	}
	return maxTimeout
}
