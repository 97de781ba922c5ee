package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var twoPointCurve = HeatCurve{{Temperature: -25, Hours: 24}, {Temperature: 13, Hours: 0}}

func TestHeatCurveHours(t *testing.T) {
	threePoint := HeatCurve{{-25, 24}, {2, 7}, {13, 2}}

	tests := []struct {
		name  string
		curve HeatCurve
		temp  float64
		want  float64
	}{
		{name: "two point interpolation", curve: twoPointCurve, temp: 1.52, want: 7.2505},
		{name: "cold segment", curve: threePoint, temp: -10, want: 14.5556},
		{name: "warm segment", curve: threePoint, temp: 8, want: 4.2727},
		{name: "exact curve point", curve: threePoint, temp: 2, want: 7},
		{name: "below coldest point", curve: threePoint, temp: -30, want: 24},
		{name: "above warmest point", curve: threePoint, temp: 20, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.curve.Hours(tt.temp), 0.0001)
		})
	}
}

func TestHeatCurveValidate(t *testing.T) {
	tests := []struct {
		name    string
		curve   HeatCurve
		wantErr bool
	}{
		{name: "two points", curve: twoPointCurve},
		{name: "flat segment", curve: HeatCurve{{-20, 10}, {0, 10}, {10, 2}}},
		{name: "single point", curve: HeatCurve{{0, 10}}, wantErr: true},
		{name: "descending temperatures", curve: HeatCurve{{10, 2}, {-10, 20}}, wantErr: true},
		{name: "increasing hours", curve: HeatCurve{{-10, 2}, {10, 20}}, wantErr: true},
		{name: "hours above a day", curve: HeatCurve{{-30, 25}, {10, 2}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.curve.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewHeatingPeriod(t *testing.T) {
	policy := FlexPolicy{Default: 0.5, Threshold: 1}

	day := NewHeatingPeriod(base, base.Add(24*time.Hour), 1.52, twoPointCurve, policy)
	assert.InDelta(t, 7.25, day.HeatingNeed, 0.01)
	assert.Equal(t, 0.5, day.Flexibility)
	assert.InDelta(t, day.HeatingNeed/2, day.FlexNeed(), 1e-9)
	assert.InDelta(t, day.HeatingNeed/2, day.NonFlexNeed(), 1e-9)

	// A quarter of a day gets a quarter of the need
	quarter := NewHeatingPeriod(base, base.Add(6*time.Hour), 1.52, twoPointCurve, policy)
	assert.InDelta(t, day.HeatingNeed*0.25, quarter.HeatingNeed, 1e-9)

	// Small needs are fully flexible
	warm := NewHeatingPeriod(base, base.Add(6*time.Hour), 12, twoPointCurve, policy)
	assert.Less(t, warm.HeatingNeed, 1.0)
	assert.Equal(t, 1.0, warm.Flexibility)
	assert.Equal(t, 0.0, warm.NonFlexNeed())
}

func TestCheckCoverage(t *testing.T) {
	require.NoError(t, CheckCoverage(base, base.Add(6*time.Hour), 6))
	require.NoError(t, CheckCoverage(base, base.Add(90*time.Minute), 1))

	err := CheckCoverage(base, base.Add(6*time.Hour), 5)
	assert.ErrorIs(t, err, ErrInsufficientForecast)
}
