package thermostat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/universal-thermostat/internal/controller"
	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/state"
	"github.com/thatsimonsguy/universal-thermostat/internal/template"
)

// control runs one pass over every controller. Must be called with the lock
// held.
func (t *Thermostat) control(ctx context.Context, force bool, reason model.Reason) {
	ctx = t.withCommand(ctx)
	now := t.now()

	if t.lastAsyncMode != t.hvacMode {
		log.Info().
			Str("thermostat", t.cfg.Name).
			Str("from", string(t.lastAsyncMode)).
			Str("to", string(t.hvacMode)).
			Msg("HVAC mode changed")
		if t.hvacMode != model.ModeOff {
			t.lastActiveMode = t.hvacMode
		}
	} else if t.hvacMode == model.ModeOff {
		return
	}

	opened := false
	if reason != model.ReasonFirstRun && t.windows.Len() > 0 {
		opened = t.windows.IsSafeOpened(t.env, now)
	}
	if opened != t.interlocked {
		t.interlocked = opened
		if opened {
			log.Warn().Str("thermostat", t.cfg.Name).Msg("Window opened, stopping controllers")
			t.notify(t.cfg.Name+": window open", "Controllers stopped until the windows are closed")
		} else {
			log.Info().Str("thermostat", t.cfg.Name).Msg("Windows closed, resuming controllers")
		}
	}

	for _, c := range t.controllers {
		inMode := t.hvacMode.Includes(c.Side())
		blocked := opened && !c.IgnoreWindows()

		if c.Running() && (blocked || !inMode) {
			log.Info().
				Str("thermostat", t.cfg.Name).
				Str("controller", c.Name()).
				Bool("active", c.Active()).
				Msg("Stopping controller")
			if err := c.Stop(ctx); err != nil {
				log.Error().Err(err).Str("controller", c.Name()).Msg("Controller stop failed")
			}
		}

		if !c.Running() && !blocked && inMode {
			log.Info().
				Str("thermostat", t.cfg.Name).
				Str("controller", c.Name()).
				Bool("active", c.Active()).
				Msg("Starting controller")
			if err := c.Start(ctx); err != nil {
				t.notify(t.cfg.Name+": controller start failed", fmt.Sprintf("%s: %v", c.Name(), err))
			}
		}

		if err := c.Control(ctx, now, force, reason); err != nil {
			log.Error().Err(err).Str("controller", c.Name()).Str("reason", string(reason)).Msg("Controller control failed")
		}
	}

	t.lastAsyncMode = t.hvacMode
	t.emitMetrics()
}

func (t *Thermostat) emitMetrics() {
	if t.metrics == nil {
		return
	}
	tags := []string{"thermostat:" + t.cfg.Name}
	if t.curTemp != nil {
		t.metrics.Gauge("thermostat.current_temp", *t.curTemp, tags...)
	}
	for _, side := range []model.Side{model.SideHeat, model.SideCool} {
		if !t.hvacMode.Includes(side) {
			continue
		}
		if target, ok := t.controllerTarget(side); ok {
			t.metrics.Gauge("thermostat.target_temp", target, append(tags, "side:"+string(side))...)
		}
	}
	for _, c := range t.controllers {
		ctags := append(tags, "controller:"+c.Name(), "side:"+string(c.Side()))
		running := 0.0
		if c.Running() {
			running = 1
		}
		t.metrics.Gauge("controller.running", running, ctags...)

		attrs := c.Attributes()
		if v, ok := attrs[model.AttrPIDOutput].(float64); ok {
			t.metrics.Gauge("controller.pid_output", v, ctags...)
		}
		if v, ok := attrs[model.AttrPWMValue].(int); ok {
			t.metrics.Gauge("controller.pwm_value", float64(v), ctags...)
		}
	}
}

func (t *Thermostat) writeState() {
	if len(t.writers) == 0 {
		return
	}
	st := t.status()
	for _, w := range t.writers {
		w.WriteState(st)
	}
}

// Start subscribes to every entity the thermostat depends on, starts the
// timers and runs the first pass.
func (t *Thermostat) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return ErrAlreadyStarted
	}
	t.started = true
	t.ctx, t.cancel = context.WithCancel(ctx)

	t.subscribe()
	t.wg.Add(1)
	go t.runEvents()

	for _, c := range t.controllers {
		for _, tm := range c.Timers() {
			t.startTimer(c, tm)
		}
	}

	if maxTimeout := t.windows.MaxTimeout(t.env); maxTimeout > 0 {
		t.after(maxTimeout, func() bool { return true })
	}

	if cur, ok := t.sensor.CurrentTemperature(); ok {
		t.curTemp = &cur
	}

	log.Info().
		Str("thermostat", t.cfg.Name).
		Interface("hvac_modes", t.hvacModes).
		Str("hvac_mode", string(t.hvacMode)).
		Msg("Thermostat ready")

	t.control(t.ctx, false, model.ReasonFirstRun)
	t.writeState()
	return nil
}

// Close stops the timers and event handling, then stops every controller.
func (t *Thermostat) Close(ctx context.Context) error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return nil
	}
	for _, unsub := range t.unsubs {
		unsub()
	}
	t.unsubs = nil
	t.cancel()
	t.mu.Unlock()

	t.wg.Wait()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = false
	ctx = t.withCommand(ctx)
	var errs []error
	for _, c := range t.controllers {
		if !c.Running() {
			continue
		}
		if err := c.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	log.Info().Str("thermostat", t.cfg.Name).Msg("Thermostat closed")
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close %s: %w", t.cfg.Name, err)
	}
	return nil
}

func (t *Thermostat) startTimer(c *controller.Controller, tm controller.Timer) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(tm.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.ctx.Done():
				return
			case <-ticker.C:
				t.mu.Lock()
				if !tm.RunningOnly || c.Running() {
					if err := c.Control(t.withCommand(t.ctx), t.now(), false, tm.Reason); err != nil {
						log.Error().Err(err).Str("controller", c.Name()).Str("reason", string(tm.Reason)).Msg("Timed control failed")
					}
				}
				t.mu.Unlock()
			}
		}
	}()
}

// after runs a window_entity_changed pass once d has elapsed, unless valid
// reports the request as stale by then.
func (t *Thermostat) after(d time.Duration, valid func() bool) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-t.ctx.Done():
			return
		case <-timer.C:
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.ctx.Err() != nil || !valid() {
			return
		}
		t.control(t.ctx, false, model.ReasonWindowEntityChanged)
		t.writeState()
	}()
}

type changeKind int

const (
	sensorChange changeKind = iota
	templateChange
	controllerTemplateChange
	controllerTargetChange
	windowChange
)

type event struct {
	kind   changeKind
	change state.Change
}

// eventQueue is an unbounded FIFO. Registry callbacks can fire from inside a
// control pass (an actuator write echoing back), so they must never block.
type eventQueue struct {
	mu     sync.Mutex
	items  []event
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(e event) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (t *Thermostat) subscribe() {
	on := func(kind changeKind) func(state.Change) {
		return func(c state.Change) { t.queue.push(event{kind: kind, change: c}) }
	}

	t.unsubs = append(t.unsubs, t.reg.Subscribe([]string{t.sensor.EntityID()}, on(sensorChange)))
	if t.supports(model.ModeAuto) {
		t.unsubs = append(t.unsubs, t.reg.Subscribe(t.templateEntities(), on(templateChange)))
	}
	for _, c := range t.controllers {
		t.unsubs = append(t.unsubs,
			t.reg.Subscribe(c.TargetEntities(), on(controllerTargetChange)),
			t.reg.Subscribe(c.TemplateEntities(), on(controllerTemplateChange)),
		)
	}
	if t.windows.Len() > 0 {
		t.unsubs = append(t.unsubs,
			t.reg.Subscribe(t.windows.Entities(), on(windowChange)),
			t.reg.Subscribe(t.windows.TemplateEntities(), on(templateChange)),
		)
	}
}

func (t *Thermostat) templateEntities() []string {
	var out []string
	for _, v := range []*template.Value{t.cfg.AutoHeatDelta, t.cfg.AutoCoolDelta} {
		if v != nil {
			out = append(out, v.Entities()...)
		}
	}
	return out
}

func (t *Thermostat) runEvents() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-t.queue.signal:
			for _, e := range t.queue.drain() {
				t.handle(e)
			}
		}
	}
}

// significant filters out unavailable states and attribute-only updates.
func significant(c state.Change) bool {
	switch c.New.Value {
	case model.StateUnavailable, model.StateUnknown:
		return false
	}
	return c.Old == nil || c.Old.Value != c.New.Value
}

func (t *Thermostat) handle(e event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctx.Err() != nil {
		return
	}
	c := e.change

	switch e.kind {
	case controllerTargetChange:
		t.writeState()
		return
	case windowChange:
		if w, ok := t.windows.Get(c.EntityID); ok {
			w.Observe(c)
		}
	}

	if !significant(c) {
		log.Debug().Str("thermostat", t.cfg.Name).Str("entity", c.EntityID).Str("state", c.New.Value).Msg("Entity change ignored")
		return
	}

	switch e.kind {
	case sensorChange:
		log.Info().Str("thermostat", t.cfg.Name).Str("state", c.New.Value).Msg("Sensor changed")
		t.updateTemp()
		t.control(t.ctx, false, model.ReasonSensorChanged)
	case templateChange:
		log.Info().Str("thermostat", t.cfg.Name).Str("entity", c.EntityID).Str("state", c.New.Value).Msg("Template entity changed")
		t.control(t.ctx, false, model.ReasonTemplateEntityChanged)
	case controllerTemplateChange:
		log.Info().Str("thermostat", t.cfg.Name).Str("entity", c.EntityID).Str("state", c.New.Value).Msg("Controller template entity changed")
		t.control(t.ctx, false, model.ReasonControllerTemplateEntityChanged)
	case windowChange:
		log.Info().Str("thermostat", t.cfg.Name).Str("window", c.EntityID).Str("state", c.New.Value).Msg("Window changed")
		w, _ := t.windows.Get(c.EntityID)
		if w == nil {
			return
		}
		if timeout := w.TimeoutDuration(t.env); timeout > 0 {
			t.windowGen[c.EntityID]++
			gen := t.windowGen[c.EntityID]
			id := c.EntityID
			t.after(timeout, func() bool { return t.windowGen[id] == gen })
			return
		}
		t.control(t.ctx, false, model.ReasonWindowEntityChanged)
	}
	t.writeState()
}

func (t *Thermostat) updateTemp() {
	cur, ok := t.sensor.CurrentTemperature()
	if !ok {
		log.Error().Str("thermostat", t.cfg.Name).Str("sensor", t.sensor.EntityID()).Msg("Sensor has no valid reading")
		t.curTemp = nil
		return
	}
	t.curTemp = &cur
}
