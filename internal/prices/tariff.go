package prices

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/awaistahir/smart-heat/internal/engine"
)

// Tariff is a distribution price valid in the listed months, ISO weekdays
// (Monday = 1) and hours. An empty list matches everything.
type Tariff struct {
	Name     string  `json:"name" mapstructure:"name"`
	Price    float64 `json:"price" mapstructure:"price"`
	Months   []int   `json:"months" mapstructure:"months"`
	Weekdays []int   `json:"weekdays" mapstructure:"weekdays"`
	Hours    []int   `json:"hours" mapstructure:"hours"`
}

// NewTariff returns a tariff valid at all times
func NewTariff(name string, price float64) *Tariff {
	return &Tariff{
		Name:     name,
		Price:    price,
		Months:   intRange(1, 12),
		Weekdays: intRange(1, 7),
		Hours:    intRange(0, 23),
	}
}

func intRange(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func checkRange(what string, values []int, min, max int) error {
	for _, v := range values {
		if v < min || v > max {
			return fmt.Errorf("%s value %d out of range %d-%d", what, v, min, max)
		}
	}
	return nil
}

// SetMonths restricts the tariff to months 1..12
func (t *Tariff) SetMonths(months []int) error {
	if err := checkRange("month", months, 1, 12); err != nil {
		return err
	}
	t.Months = months
	return nil
}

// SetWeekdays restricts the tariff to ISO weekdays 1..7
func (t *Tariff) SetWeekdays(days []int) error {
	if err := checkRange("weekday", days, 1, 7); err != nil {
		return err
	}
	t.Weekdays = days
	return nil
}

// SetHours restricts the tariff to hours 0..23
func (t *Tariff) SetHours(hours []int) error {
	if err := checkRange("hour", hours, 0, 23); err != nil {
		return err
	}
	t.Hours = hours
	return nil
}

// Validate checks all lists, used for tariffs read from configuration
func (t Tariff) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tariff name is required")
	}
	if err := checkRange("month", t.Months, 1, 12); err != nil {
		return err
	}
	if err := checkRange("weekday", t.Weekdays, 1, 7); err != nil {
		return err
	}
	return checkRange("hour", t.Hours, 0, 23)
}

// Matches reports whether the tariff applies at ts
func (t Tariff) Matches(ts time.Time) bool {
	weekday := int(ts.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return contains(t.Months, int(ts.Month())) &&
		contains(t.Weekdays, weekday) &&
		contains(t.Hours, ts.Hour())
}

func contains(list []int, v int) bool {
	if len(list) == 0 {
		return true
	}
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// TariffCalculator adds distribution prices to spot prices
type TariffCalculator struct {
	Fallback float64
	Tariffs  []Tariff
	Location *time.Location // tariffs are matched in this zone, time.Local when nil
}

// Distribution returns the price of the first matching tariff, or the fallback
func (c *TariffCalculator) Distribution(ts time.Time) float64 {
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	local := ts.In(loc)
	for _, t := range c.Tariffs {
		if t.Matches(local) {
			return t.Price
		}
	}
	return c.Fallback
}

// Calculate returns distribution and total price series for the spot points.
// Both are rounded to 2 decimals.
func (c *TariffCalculator) Calculate(spot []engine.PricePoint) (distribution, total []engine.PricePoint) {
	distribution = make([]engine.PricePoint, len(spot))
	total = make([]engine.PricePoint, len(spot))
	for i, p := range spot {
		d := c.Distribution(p.Start)
		distribution[i] = engine.PricePoint{Start: p.Start, Price: round2(d)}
		total[i] = engine.PricePoint{Start: p.Start, Price: round2(p.Price + d)}
	}
	return distribution, total
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

type tariffSource struct {
	src  Source
	calc *TariffCalculator
}

// WithTariffs wraps src so that it returns total prices
func WithTariffs(src Source, calc *TariffCalculator) Source {
	return &tariffSource{src: src, calc: calc}
}

func (s *tariffSource) Prices(ctx context.Context, start, end time.Time) ([]engine.PricePoint, error) {
	spot, err := s.src.Prices(ctx, start, end)
	if err != nil {
		return nil, err
	}
	_, total := s.calc.Calculate(spot)
	return total, nil
}
