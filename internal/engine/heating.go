package engine

import (
	"errors"
	"fmt"
	"time"
)

var ErrInsufficientForecast = errors.New("not enough forecast data for period")

// CurvePoint maps an average outdoor temperature to daily heating hours
type CurvePoint struct {
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	Hours       float64 `json:"hours" mapstructure:"hours"`
}

// HeatCurve is a piecewise-linear curve sorted by ascending temperature
type HeatCurve []CurvePoint

// Validate checks the curve shape
func (c HeatCurve) Validate() error {
	if len(c) < 2 {
		return fmt.Errorf("%w: heat curve needs at least 2 points", ErrInvalidInput)
	}
	for i, p := range c {
		if p.Hours < 0 || p.Hours > 24 {
			return fmt.Errorf("%w: heat curve hours must be within 0..24, got %v", ErrInvalidInput, p.Hours)
		}
		if i == 0 {
			continue
		}
		if p.Temperature <= c[i-1].Temperature {
			return fmt.Errorf("%w: heat curve temperatures must be ascending", ErrInvalidInput)
		}
		if p.Hours > c[i-1].Hours {
			return fmt.Errorf("%w: heat curve hours must not increase with temperature", ErrInvalidInput)
		}
	}
	return nil
}

// Hours returns the daily heating hours for temperature, clamped to the curve ends
func (c HeatCurve) Hours(temperature float64) float64 {
	first, last := c[0], c[len(c)-1]
	if temperature <= first.Temperature {
		return first.Hours
	}
	if temperature >= last.Temperature {
		return last.Hours
	}
	for i := 1; i < len(c); i++ {
		p1, p2 := c[i-1], c[i]
		if temperature <= p2.Temperature {
			k := (p2.Hours - p1.Hours) / (p2.Temperature - p1.Temperature)
			return p1.Hours + k*(temperature-p1.Temperature)
		}
	}
	return last.Hours
}

// FlexPolicy decides how much of a period's heating need may move freely
type FlexPolicy struct {
	Default   float64 // flexibility of regular periods, 0..1
	Threshold float64 // needs below this many hours are fully flexible
}

// HeatingPeriod is one sub-interval of the optimization window with its heating need
type HeatingPeriod struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AvgTemp     float64   `json:"avg_temp"`
	HeatingNeed float64   `json:"heating_need"` // hours
	Flexibility float64   `json:"flexibility"`

	policy FlexPolicy
}

// NewHeatingPeriod derives the heating need of [start, end) from its average temperature
func NewHeatingPeriod(start, end time.Time, avgTemp float64, curve HeatCurve, policy FlexPolicy) *HeatingPeriod {
	p := &HeatingPeriod{
		Start:   start,
		End:     end,
		AvgTemp: avgTemp,
		policy:  policy,
	}
	multiplier := end.Sub(start).Hours() / 24
	p.SetHeatingNeed(curve.Hours(avgTemp) * multiplier)
	return p
}

// SetHeatingNeed replaces the need and resets flexibility from the policy
func (p *HeatingPeriod) SetHeatingNeed(hours float64) {
	p.HeatingNeed = hours
	if hours < p.policy.Threshold {
		p.Flexibility = 1.0
	} else {
		p.Flexibility = p.policy.Default
	}
}

// SetFlexibility overrides the flexibility
func (p *HeatingPeriod) SetFlexibility(f float64) {
	p.Flexibility = f
}

// NonFlexNeed is the share that must be placed inside the period
func (p *HeatingPeriod) NonFlexNeed() float64 {
	return (1 - p.Flexibility) * p.HeatingNeed
}

// FlexNeed is the share that may be placed anywhere in the window
func (p *HeatingPeriod) FlexNeed() float64 {
	return p.Flexibility * p.HeatingNeed
}

func (p *HeatingPeriod) String() string {
	return fmt.Sprintf("%s: temperature %.2f, heating hours %.2f, flexibility %.2f",
		p.Start.Format(time.RFC3339), p.AvgTemp, p.HeatingNeed, p.Flexibility)
}

// CheckCoverage fails when fewer forecast points than whole hours cover the period
func CheckCoverage(start, end time.Time, points int) error {
	hours := int(end.Sub(start).Hours())
	if points < hours {
		return fmt.Errorf("%w: %d points for %d hours starting %s",
			ErrInsufficientForecast, points, hours, start.Format(time.RFC3339))
	}
	return nil
}
