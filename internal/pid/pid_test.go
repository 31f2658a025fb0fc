package pid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdate_ProportionalOnly(t *testing.T) {
	c := New(10, 0, 0, 0)
	c.SetPoint = 21

	out, ok := c.Update(20, time.Now())
	require.True(t, ok)
	assert.Equal(t, 10.0, out)

	p, i, d := c.Components()
	assert.Equal(t, 10.0, p)
	assert.Equal(t, 0.0, i)
	assert.Equal(t, 0.0, d)
}

func TestUpdate_OutputClamped(t *testing.T) {
	tests := []struct {
		name     string
		setPoint float64
		feedback float64
		want     float64
	}{
		{"above max", 30, 10, 100},
		{"below min", 10, 30, 0},
		{"inside", 21, 20, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(50, 0, 0, 0)
			c.SetPoint = tt.setPoint
			out, ok := c.Update(tt.feedback, time.Now())
			require.True(t, ok)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestUpdate_IntegralNeverExceedsLimits(t *testing.T) {
	limits := [][2]float64{{0, 100}, {-50, 50}, {10, 20}}
	errs := []float64{-40, -3, 0.5, 7, 60}

	for _, l := range limits {
		c := New(1, 5, 0.5, 0)
		c.SetOutputLimits(l[0], l[1])
		c.SetPoint = 20

		now := time.Unix(1_700_000_000, 0)
		for step := 0; step < 200; step++ {
			fb := c.SetPoint - errs[step%len(errs)]
			_, ok := c.Update(fb, now)
			require.True(t, ok)

			_, i, _ := c.Components()
			assert.GreaterOrEqual(t, i, l[0])
			assert.LessOrEqual(t, i, l[1])

			now = now.Add(17 * time.Second)
		}
	}
}

func TestUpdate_IntegralAccumulates(t *testing.T) {
	c := New(0, 0.5, 0, 0)
	c.SetPoint = 22

	start := time.Unix(1_700_000_000, 0)
	_, ok := c.Update(20, start)
	require.True(t, ok)

	out, ok := c.Update(20, start.Add(10*time.Second))
	require.True(t, ok)
	// 0.5 * 2 * 10
	assert.InDelta(t, 10.0, out, 1e-9)
}

func TestUpdate_DerivativeUsesInputChange(t *testing.T) {
	c := New(0, 0, 4, 0)
	c.SetPoint = 20

	start := time.Unix(1_700_000_000, 0)
	out, ok := c.Update(18, start)
	require.True(t, ok)
	assert.Equal(t, 0.0, out, "first update has no history and no derivative kick")

	// error drops from 2 to 1 over 2s => d = 4 * (1-2)/2 = -2
	c.SetOutputLimits(-100, 100)
	out, ok = c.Update(19, start.Add(2*time.Second))
	require.True(t, ok)
	assert.InDelta(t, -2.0, out, 1e-9)
}

func TestUpdate_NegativeDeltaRejected(t *testing.T) {
	c := New(1, 0, 0, 0)
	c.SetPoint = 21
	now := time.Unix(1_700_000_000, 0)

	_, ok := c.Update(20, now)
	require.True(t, ok)

	_, ok = c.Update(20, now.Add(-time.Second))
	assert.False(t, ok)
}

func TestUpdate_SampleTimeGating(t *testing.T) {
	c := New(10, 0, 0, time.Minute)
	c.SetPoint = 21
	now := time.Unix(1_700_000_000, 0)

	out, ok := c.Update(20, now)
	require.True(t, ok)
	assert.Equal(t, 10.0, out)

	out, ok = c.Update(15, now.Add(30*time.Second))
	require.True(t, ok)
	assert.Equal(t, 10.0, out, "inside the sample window the previous output is returned")

	out, ok = c.Update(15, now.Add(61*time.Second))
	require.True(t, ok)
	assert.Equal(t, 60.0, out)
}

func TestReset_BehavesLikeFresh(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	used := New(3, 0.2, 1.5, 0)
	used.SetPoint = 21
	for k := 0; k < 10; k++ {
		used.Update(18+float64(k)*0.3, now.Add(time.Duration(k)*time.Minute))
	}
	used.Reset()

	fresh := New(3, 0.2, 1.5, 0)
	fresh.SetPoint = 21

	later := now.Add(time.Hour)
	a, okA := used.Update(19.5, later)
	b, okB := fresh.Update(19.5, later)
	require.True(t, okA)
	require.True(t, okB)
	assert.Equal(t, b, a)

	pa, ia, da := used.Components()
	pb, ib, db := fresh.Components()
	assert.Equal(t, []float64{pb, ib, db}, []float64{pa, ia, da})

	_, hasLast := fresh.LastOutput()
	assert.True(t, hasLast)
}

func TestReset_ClearsLastOutput(t *testing.T) {
	c := New(1, 0, 0, 0)
	c.SetPoint = 21
	c.Update(20, time.Now())

	c.Reset()
	_, ok := c.LastOutput()
	assert.False(t, ok)
}
