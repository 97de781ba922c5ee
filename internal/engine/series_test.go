package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSeriesResolution(t *testing.T) {
	tests := []struct {
		name      string
		step      time.Duration
		points    int
		wantSlots int
	}{
		{name: "hourly", step: time.Hour, points: 24, wantSlots: 96},
		{name: "half hourly", step: 30 * time.Minute, points: 48, wantSlots: 96},
		{name: "quarter hourly", step: 15 * time.Minute, points: 96, wantSlots: 96},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points := make([]PricePoint, tt.points)
			for i := range points {
				points[i] = PricePoint{Start: base.Add(time.Duration(i) * tt.step), Price: float64(i)}
			}

			s, err := NewSeries(points)
			require.NoError(t, err)
			assert.Equal(t, Resolution, s.Resolution)
			assert.Len(t, s.Slots, tt.wantSlots)
			assert.Equal(t, s.Resolution*time.Duration(s.Len()), s.End().Sub(s.Start()))

			// Every slot inherits the price of its source point
			perPoint := int(tt.step / Resolution)
			for i, slot := range s.Slots {
				assert.Equal(t, float64(i/perPoint), slot.Price)
			}
		})
	}
}

func TestNewSeriesIsIdempotent(t *testing.T) {
	s := hourlySeries(t, 3, 1, 2)

	again, err := NewSeries(s.PricePoints())
	require.NoError(t, err)
	assert.Equal(t, s, again)
}

func TestNewSeriesSortsInput(t *testing.T) {
	points := []PricePoint{
		{Start: base.Add(time.Hour), Price: 2},
		{Start: base, Price: 1},
	}

	s, err := NewSeries(points)
	require.NoError(t, err)
	assert.Equal(t, base, s.Start())
	assert.Equal(t, 1.0, s.Slots[0].Price)
	assert.Equal(t, base.Add(time.Hour), points[0].Start, "input left untouched")
}

func TestNewSeriesErrors(t *testing.T) {
	tests := []struct {
		name    string
		offsets []time.Duration
		wantErr error
	}{
		{name: "single point", offsets: []time.Duration{0}, wantErr: ErrInsufficientData},
		{name: "no points", offsets: nil, wantErr: ErrInsufficientData},
		{name: "20 minute resolution", offsets: []time.Duration{0, 20 * time.Minute}, wantErr: ErrUnsupportedResolution},
		{name: "irregular spacing", offsets: []time.Duration{0, time.Hour, 3 * time.Hour}, wantErr: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points := make([]PricePoint, len(tt.offsets))
			for i, off := range tt.offsets {
				points[i] = PricePoint{Start: base.Add(off), Price: 1}
			}
			_, err := NewSeries(points)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSeriesIndex(t *testing.T) {
	s := quarterSeries(t, 1, 2, 3)

	i, ok := s.Index(base.Add(2 * Resolution))
	assert.True(t, ok)
	assert.Equal(t, 2, i)

	_, ok = s.Index(base.Add(time.Minute))
	assert.False(t, ok)

	_, ok = s.Index(base.Add(3 * Resolution))
	assert.False(t, ok)
}

func TestSeriesSchedule(t *testing.T) {
	s := quarterSeries(t, 1, 2)

	_, err := s.Schedule()
	assert.ErrorIs(t, err, ErrIncompleteSchedule)

	s.Slots[0].Control = ControlOn
	s.Slots[1].Control = ControlOff
	points, err := s.Schedule()
	require.NoError(t, err)
	assert.Equal(t, []ControlPoint{
		{Start: base, Control: ControlOn},
		{Start: base.Add(Resolution), Control: ControlOff},
	}, points)
}

type mapLoads map[time.Time]float64

func (m mapLoads) LoadAt(t time.Time) (float64, bool) {
	v, ok := m[t]
	return v, ok
}

func TestSeedLoads(t *testing.T) {
	s := quarterSeries(t, 1, 2, 3)
	s.SeedLoads(mapLoads{base.Add(Resolution): 4.5})

	assert.Equal(t, 0.0, s.Slots[0].Load)
	assert.Equal(t, 4.5, s.Slots[1].Load)
}

func TestControlJSON(t *testing.T) {
	data, err := json.Marshal([]Control{ControlUnset, ControlOff, ControlOn})
	require.NoError(t, err)
	assert.JSONEq(t, `[null, 0, 1]`, string(data))

	var back []Control
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, []Control{ControlUnset, ControlOff, ControlOn}, back)

	var c Control
	assert.Error(t, json.Unmarshal([]byte(`2`), &c))
}
