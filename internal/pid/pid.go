package pid

import (
	"math"
	"time"
)

// minDelta replaces a zero time delta so the derivative term never divides by zero.
const minDelta = 1e-16

// PID is a positional PID calculator. It is not safe for concurrent use; the
// owning controller serializes access.
type PID struct {
	Kp, Ki, Kd float64
	SetPoint   float64

	// SampleTime rate limits recomputation. Zero disables it.
	SampleTime time.Duration

	min, max float64

	p, i, d float64

	output     float64
	lastOutput *float64
	lastInput  *float64
	lastTime   time.Time
}

func New(kp, ki, kd float64, sampleTime time.Duration) *PID {
	return &PID{
		Kp:         kp,
		Ki:         ki,
		Kd:         kd,
		SampleTime: sampleTime,
		min:        0,
		max:        100,
	}
}

// SetOutputLimits sets the clamp applied to the integral term and the output.
func (c *PID) SetOutputLimits(min, max float64) {
	c.min, c.max = min, max
}

func (c *PID) OutputLimits() (float64, float64) {
	return c.min, c.max
}

// Update computes a new output for the feedback value. ok is false when now
// is earlier than the previous update.
func (c *PID) Update(feedback float64, now time.Time) (float64, bool) {
	if c.lastTime.IsZero() {
		c.lastTime = now
	}

	dt := now.Sub(c.lastTime).Seconds()
	if dt < 0 {
		return 0, false
	}
	if dt == 0 {
		dt = minDelta
	}

	if c.SampleTime > 0 && c.lastOutput != nil && dt < c.SampleTime.Seconds() {
		return *c.lastOutput, true
	}

	err := c.SetPoint - feedback
	lastErr := err
	if c.lastInput != nil {
		lastErr = c.SetPoint - *c.lastInput
	}

	c.p = c.Kp * err

	c.i += c.Ki * err * dt
	c.i = clamp(c.i, c.min, c.max)

	c.d = c.Kd * (err - lastErr) / dt

	c.output = clamp(c.p+c.i+c.d, c.min, c.max)

	out := c.output
	in := feedback
	c.lastOutput = &out
	c.lastInput = &in
	c.lastTime = now

	return c.output, true
}

// Reset clears accumulated state so the next update starts fresh.
func (c *PID) Reset() {
	c.p, c.i, c.d = 0, 0, 0
	c.lastOutput = nil
	c.lastInput = nil
	c.lastTime = time.Time{}
}

// Components returns the last proportional, integral and derivative terms.
func (c *PID) Components() (p, i, d float64) {
	return c.p, c.i, c.d
}

func (c *PID) Output() float64 {
	return c.output
}

func (c *PID) LastOutput() (float64, bool) {
	if c.lastOutput == nil {
		return 0, false
	}
	return *c.lastOutput, true
}

func clamp(v, lower, upper float64) float64 {
	return math.Max(math.Min(v, upper), lower)
}
