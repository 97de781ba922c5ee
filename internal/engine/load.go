package engine

import (
	"fmt"
	"time"
)

// LoadCalculator builds a total-load time series on the canonical 15-minute
// grid from existing history, static loads and device schedules
type LoadCalculator struct {
	start time.Time
	end   time.Time
	loads []float64
}

// roundUp moves t to the next quarter hour unless it already is one
func roundUp(t time.Time) time.Time {
	r := t.Truncate(Resolution)
	if r.Before(t) {
		r = r.Add(Resolution)
	}
	return r
}

// NewLoadCalculator covers [start, end) rounded up to quarter hours. Unless
// reset is set, existing loads are read from history.
func NewLoadCalculator(start, end time.Time, history LoadFeed, reset bool) (*LoadCalculator, error) {
	start, end = roundUp(start), roundUp(end)
	if !end.After(start) {
		return nil, fmt.Errorf("%w: load window end %s must be after start %s",
			ErrInvalidInput, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	n := int(end.Sub(start) / Resolution)
	c := &LoadCalculator{start: start, end: end, loads: make([]float64, n)}
	if reset || history == nil {
		return c, nil
	}
	for i := range c.loads {
		if load, ok := history.LoadAt(c.timeAt(i)); ok {
			c.loads[i] = load
		}
	}
	return c, nil
}

func (c *LoadCalculator) timeAt(i int) time.Time {
	return c.start.Add(time.Duration(i) * Resolution)
}

// AddStaticLoad adds kw to every slot of [start, end). Both bounds must lie inside the calculator window.
func (c *LoadCalculator) AddStaticLoad(start, end time.Time, kw float64) error {
	start, end = roundUp(start), roundUp(end)
	if start.Before(c.start) || start.After(c.end) || end.Before(c.start) || end.After(c.end) {
		return fmt.Errorf("%w: static load %s..%s outside %s..%s", ErrInvalidInput,
			start.Format(time.RFC3339), end.Format(time.RFC3339),
			c.start.Format(time.RFC3339), c.end.Format(time.RFC3339))
	}
	for i := range c.loads {
		t := c.timeAt(i)
		if !t.Before(start) && t.Before(end) {
			c.loads[i] += kw
		}
	}
	return nil
}

// AddDynamicLoad adds onLoad to every slot where schedule is on. The schedule
// must start exactly at the calculator start and not run past its end.
func (c *LoadCalculator) AddDynamicLoad(schedule []ControlPoint, onLoad float64) error {
	if len(schedule) == 0 {
		return nil
	}
	if !schedule[0].Start.Equal(c.start) {
		return fmt.Errorf("%w: schedule starts at %s, expected %s", ErrInvalidInput,
			schedule[0].Start.Format(time.RFC3339), c.start.Format(time.RFC3339))
	}
	if last := schedule[len(schedule)-1].Start; !last.Before(c.end) {
		return fmt.Errorf("%w: schedule runs past %s", ErrInvalidInput, c.end.Format(time.RFC3339))
	}
	for _, p := range schedule {
		if p.Control != ControlOn {
			continue
		}
		i := int(p.Start.Sub(c.start) / Resolution)
		if i >= 0 && i < len(c.loads) {
			c.loads[i] += onLoad
		}
	}
	return nil
}

// LoadAt implements LoadFeed
func (c *LoadCalculator) LoadAt(t time.Time) (float64, bool) {
	if t.Before(c.start) || !t.Before(c.end) {
		return 0, false
	}
	return c.loads[int(t.Sub(c.start)/Resolution)], true
}

// Points returns the total load per slot
func (c *LoadCalculator) Points() []LoadPoint {
	points := make([]LoadPoint, len(c.loads))
	for i, load := range c.loads {
		points[i] = LoadPoint{Start: c.timeAt(i), Load: load}
	}
	return points
}

// LoadPoint is the total load of one slot
type LoadPoint struct {
	Start time.Time `json:"start"`
	Load  float64   `json:"load"`
}
