package influx

import (
	"context"
	"time"

	"github.com/awaistahir/smart-heat/internal/engine"
)

// LoadHistory is a prefetched load feed keyed by slot start
type LoadHistory map[int64]float64

// LoadAt returns the stored load of the slot starting at t
func (h LoadHistory) LoadAt(t time.Time) (float64, bool) {
	v, ok := h[t.Unix()]
	return v, ok
}

// LoadHistory reads the load measurement for [start, end) into a feed the engine can seed from
func (c *Client) LoadHistory(ctx context.Context, measurement string, start, end time.Time) (LoadHistory, error) {
	points, err := c.Points(ctx, measurement, start, end)
	if err != nil {
		return nil, err
	}
	h := make(LoadHistory, len(points))
	for _, p := range points {
		h[p.Time.Unix()] = p.Value
	}
	return h, nil
}

// ControlPoints converts a schedule to 0/1 points
func ControlPoints(schedule []engine.ControlPoint) []Point {
	points := make([]Point, len(schedule))
	for i, cp := range schedule {
		points[i] = Point{Time: cp.Start, Value: float64(cp.Control.Value())}
	}
	return points
}

// PricePoints converts price points
func PricePoints(prices []engine.PricePoint) []Point {
	points := make([]Point, len(prices))
	for i, p := range prices {
		points[i] = Point{Time: p.Start, Value: p.Price}
	}
	return points
}

// LoadPoints converts total load points
func LoadPoints(loads []engine.LoadPoint) []Point {
	points := make([]Point, len(loads))
	for i, l := range loads {
		points[i] = Point{Time: l.Start, Value: l.Load}
	}
	return points
}

// Recorder writes fetched prices and planned loads to their measurements
type Recorder struct {
	client *Client
	prices string
	loads  string
}

// NewRecorder creates a recorder for the given measurements
func NewRecorder(c *Client, priceMeasurement, loadMeasurement string) *Recorder {
	return &Recorder{client: c, prices: priceMeasurement, loads: loadMeasurement}
}

// RecordPrices writes fetched prices to the price measurement
func (r *Recorder) RecordPrices(ctx context.Context, points []engine.PricePoint) error {
	return r.client.WritePoints(ctx, r.prices, PricePoints(points))
}

// RecordLoads writes total load points to the load measurement
func (r *Recorder) RecordLoads(ctx context.Context, points []engine.LoadPoint) error {
	return r.client.WritePoints(ctx, r.loads, LoadPoints(points))
}

// ReplaceSchedule deletes stored controls in the schedule's range and writes the new ones
func (c *Client) ReplaceSchedule(ctx context.Context, measurement string, schedule []engine.ControlPoint) error {
	if len(schedule) == 0 {
		return nil
	}
	start := schedule[0].Start
	stop := schedule[len(schedule)-1].Start
	if err := c.DeletePoints(ctx, measurement, start, stop); err != nil {
		return err
	}
	return c.WritePoints(ctx, measurement, ControlPoints(schedule))
}
