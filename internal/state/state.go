// Package state keeps the last known state of every entity the thermostat
// reads or drives. Gateways (MQTT, Modbus, GPIO) write into the registry,
// actuators and sensors read from it, and the thermostat subscribes to it.
package state

import (
	"maps"
	"sync"
	"time"
)

type State struct {
	EntityID    string         `json:"entity_id"`
	Value       string         `json:"state"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Attr returns an attribute value, or nil if missing.
func (s State) Attr(name string) any {
	if s.Attributes == nil {
		return nil
	}
	return s.Attributes[name]
}

// Change is delivered to subscribers. Old is nil for the first state.
type Change struct {
	EntityID string
	Old      *State
	New      State
}

type subscription struct {
	id  uint64
	ids map[string]bool
	fn  func(Change)
}

type Registry struct {
	mu     sync.RWMutex
	states map[string]State
	subs   map[uint64]*subscription
	nextID uint64
	now    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		states: map[string]State{},
		subs:   map[uint64]*subscription{},
		now:    time.Now,
	}
}

// Get returns the state of an entity.
func (r *Registry) Get(entityID string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.states[entityID]
	if !ok {
		return State{}, false
	}
	s.Attributes = maps.Clone(s.Attributes)
	return s, true
}

// Set stores a new value and attributes, notifying subscribers. LastChanged
// only moves when the value itself changes.
func (r *Registry) Set(entityID, value string, attrs map[string]any) {
	now := r.now()

	r.mu.Lock()
	old, existed := r.states[entityID]
	next := State{
		EntityID:    entityID,
		Value:       value,
		Attributes:  maps.Clone(attrs),
		LastChanged: now,
		LastUpdated: now,
	}
	if existed && old.Value == value {
		next.LastChanged = old.LastChanged
	}
	r.states[entityID] = next

	var targets []func(Change)
	for _, sub := range r.subs {
		if sub.ids[entityID] {
			targets = append(targets, sub.fn)
		}
	}
	r.mu.Unlock()

	change := Change{EntityID: entityID, New: next}
	if existed {
		change.Old = &old
	}
	for _, fn := range targets {
		fn(change)
	}
}

// Merge updates a subset of attributes, keeping the current value.
func (r *Registry) Merge(entityID string, value *string, attrs map[string]any) {
	cur, _ := r.Get(entityID)
	merged := maps.Clone(cur.Attributes)
	if merged == nil {
		merged = map[string]any{}
	}
	maps.Copy(merged, attrs)

	v := cur.Value
	if value != nil {
		v = *value
	}
	r.Set(entityID, v, merged)
}

// Subscribe registers fn for changes to any of the given entities. The
// returned function unregisters it.
func (r *Registry) Subscribe(entityIDs []string, fn func(Change)) func() {
	if len(entityIDs) == 0 {
		return func() {}
	}

	r.mu.Lock()
	r.nextID++
	sub := &subscription{id: r.nextID, ids: map[string]bool{}, fn: fn}
	for _, id := range entityIDs {
		sub.ids[id] = true
	}
	r.subs[sub.id] = sub
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, sub.id)
		r.mu.Unlock()
	}
}

// Snapshot copies every known state.
func (r *Registry) Snapshot() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.states))
	for k, v := range r.states {
		v.Attributes = maps.Clone(v.Attributes)
		out[k] = v
	}
	return out
}
