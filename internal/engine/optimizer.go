package engine

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrRepairDiverged means a repair loop kept finding work past its iteration cap
var ErrRepairDiverged = errors.New("repair loop did not converge")

// DefaultPeriodOverlap is how far non-flexible allocations may bleed into neighbouring periods
const DefaultPeriodOverlap = time.Hour

// ForecastFeed returns the average temperature of [start, end) and the number
// of forecast points it was computed from
type ForecastFeed interface {
	Average(start, end time.Time) (float64, int)
}

// HeatingParams configures one heating optimization run
type HeatingParams struct {
	NumberOfPeriods int           `json:"number_of_periods" mapstructure:"number_of_periods"`
	HeatCurve       HeatCurve     `json:"heat_curve" mapstructure:"heat_curve"`
	DropThreshold   *float64      `json:"drop_threshold,omitempty" mapstructure:"drop_threshold"`   // °C, nil disables
	ShortThreshold  *float64      `json:"short_threshold,omitempty" mapstructure:"short_threshold"` // hours, nil disables
	FlexDefault     float64       `json:"flex_default" mapstructure:"flex_default"`
	FlexThreshold   float64       `json:"flex_threshold" mapstructure:"flex_threshold"`
	GapThreshold    float64       `json:"gap_threshold" mapstructure:"gap_threshold"` // hours
	ShiftPriceLimit float64       `json:"shift_price_limit" mapstructure:"shift_price_limit"`
	PeriodOverlap   time.Duration `json:"period_overlap" mapstructure:"period_overlap"`
	Limit           *LoadLimit    `json:"load_limit,omitempty" mapstructure:"load_limit"`
	ResetLoads      bool          `json:"reset_loads" mapstructure:"reset_loads"` // ignore load history
}

// Validate checks the parameter ranges
func (p HeatingParams) Validate() error {
	if p.NumberOfPeriods <= 0 {
		return fmt.Errorf("%w: number of periods must be positive, got %d", ErrInvalidInput, p.NumberOfPeriods)
	}
	if p.DropThreshold != nil && *p.DropThreshold < 0 {
		return fmt.Errorf("%w: drop threshold must be >= 0", ErrInvalidInput)
	}
	if p.ShortThreshold != nil && *p.ShortThreshold < 0 {
		return fmt.Errorf("%w: short threshold must be >= 0", ErrInvalidInput)
	}
	if p.FlexDefault < 0 || p.FlexDefault > 1 {
		return fmt.Errorf("%w: flex default must be within 0..1, got %v", ErrInvalidInput, p.FlexDefault)
	}
	if p.FlexThreshold < 0 {
		return fmt.Errorf("%w: flex threshold must be >= 0", ErrInvalidInput)
	}
	if p.GapThreshold < 0 {
		return fmt.Errorf("%w: gap threshold must be >= 0", ErrInvalidInput)
	}
	if p.ShiftPriceLimit < 0 {
		return fmt.Errorf("%w: shift price limit must be >= 0", ErrInvalidInput)
	}
	if p.PeriodOverlap < 0 {
		return fmt.Errorf("%w: period overlap must be >= 0", ErrInvalidInput)
	}
	return p.HeatCurve.Validate()
}

// ForecastWindow returns the range a forecast must cover for a run over
// [start, end) split into periods, including the look-back and look-ahead periods
func ForecastWindow(start, end time.Time, periods int) (time.Time, time.Time) {
	if periods <= 0 {
		return start, end
	}
	duration := end.Sub(start) / time.Duration(periods)
	return start.Add(-duration * lookBack), end.Add(2 * duration)
}

// periodWindow holds the real periods plus one look-back and two look-ahead
// periods. Index -1 is the look-back, 0..n-1 are real, n and n+1 look ahead.
type periodWindow struct {
	periods []*HeatingPeriod
	n       int
}

const lookBack = 1

func (w *periodWindow) at(i int) *HeatingPeriod {
	return w.periods[i+lookBack]
}

// real returns the periods that are allocated against
func (w *periodWindow) real() []*HeatingPeriod {
	return w.periods[lookBack : lookBack+w.n]
}

// HeatingOptimizer turns a heat demand forecast into an on/off schedule for one Series
type HeatingOptimizer struct {
	alloc    *Allocator
	forecast ForecastFeed
	start    time.Time
	end      time.Time
	params   HeatingParams
	window   *periodWindow
	done     bool
	log      *logrus.Entry
}

// NewHeatingOptimizer validates the run and prepares the allocator. The
// series is mutated in place by Optimize.
func NewHeatingOptimizer(series *Series, forecast ForecastFeed, start, end time.Time, params HeatingParams) (*HeatingOptimizer, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: period end %s is before start %s",
			ErrInvalidInput, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	if forecast == nil {
		return nil, fmt.Errorf("%w: forecast feed is required", ErrInvalidInput)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	alloc, err := NewAllocator(series, params.Limit)
	if err != nil {
		return nil, err
	}
	return &HeatingOptimizer{
		alloc:    alloc,
		forecast: forecast,
		start:    start,
		end:      end,
		params:   params,
		log: logrus.WithFields(logrus.Fields{
			"component": "heating-optimizer",
			"start":     start.Format(time.RFC3339),
			"end":       end.Format(time.RFC3339),
		}),
	}, nil
}

// Optimize runs every stage once. The first failing stage aborts the run.
func (o *HeatingOptimizer) Optimize() error {
	if o.done {
		return fmt.Errorf("%w: optimizer already ran", ErrInvalidInput)
	}
	o.done = true

	if err := o.buildPeriods(); err != nil {
		return err
	}
	o.compensateDrops()
	if err := o.allocateNonFlex(); err != nil {
		return err
	}
	if err := o.allocateFlex(); err != nil {
		return err
	}
	if err := o.alloc.FillRemaining(ControlOff, Window{}); err != nil {
		return err
	}
	if err := o.mergeShortRuns(); err != nil {
		return err
	}
	return o.fixGaps()
}

// Periods returns the real heating periods after Optimize
func (o *HeatingOptimizer) Periods() []*HeatingPeriod {
	if o.window == nil {
		return nil
	}
	return o.window.real()
}

// Series returns the optimized series
func (o *HeatingOptimizer) Series() *Series {
	return o.alloc.Series()
}

// Schedule exports the optimized control points
func (o *HeatingOptimizer) Schedule() ([]ControlPoint, error) {
	return o.alloc.Series().Schedule()
}

func (o *HeatingOptimizer) buildPeriods() error {
	n := o.params.NumberOfPeriods
	duration := o.end.Sub(o.start) / time.Duration(n)
	w := &periodWindow{periods: make([]*HeatingPeriod, 0, n+3), n: n}
	policy := FlexPolicy{Default: o.params.FlexDefault, Threshold: o.params.FlexThreshold}

	for i := -lookBack; i < n+2; i++ {
		start := o.start.Add(duration * time.Duration(i))
		end := start.Add(duration)
		avg, points := o.forecast.Average(start, end)
		if err := CheckCoverage(start, end, points); err != nil {
			return err
		}
		p := NewHeatingPeriod(start, end, avg, o.params.HeatCurve, policy)
		o.log.Debug(p.String())
		w.periods = append(w.periods, p)
	}
	o.window = w
	return nil
}

// compensateDrops pins and raises heating ahead of forecast cold spells
func (o *HeatingOptimizer) compensateDrops() {
	if o.params.DropThreshold == nil {
		o.log.Debug("temperature drop handling not active")
		return
	}
	threshold := -*o.params.DropThreshold
	w := o.window

	for i := -lookBack; i < w.n; i++ {
		p0, p1, p2 := w.at(i), w.at(i+1), w.at(i+2)
		delta1 := p1.AvgTemp - p0.AvgTemp
		delta2 := p2.AvgTemp - p1.AvgTemp

		switch {
		case delta1 < threshold && delta2 < threshold:
			o.log.WithField("period", p0.Start.Format(time.RFC3339)).
				Info("big temperature drop ahead, raising heating need of this and next period")
			p0.SetHeatingNeed(p1.HeatingNeed)
			p1.SetHeatingNeed(p2.HeatingNeed)
			p0.SetFlexibility(0)
			p1.SetFlexibility(0)
			p2.SetFlexibility(0)
		case delta1 < threshold:
			o.log.WithField("period", p0.Start.Format(time.RFC3339)).
				Info("temperature drop ahead, pinning heating of this and next period")
			p0.SetFlexibility(0)
			p1.SetFlexibility(0)
		}
	}
}

func (o *HeatingOptimizer) allocateNonFlex() error {
	overlap := o.params.PeriodOverlap
	periods := o.window.real()
	for k, p := range periods {
		w := Window{Start: p.Start, End: p.End}
		if k > 0 {
			w.Start = w.Start.Add(-overlap)
		}
		if k < len(periods)-1 {
			w.End = w.End.Add(overlap)
		}
		if err := o.alloc.AllocateScattered(ControlOn, p.NonFlexNeed(), w); err != nil {
			return fmt.Errorf("allocate non-flexible need of period %s: %w", p.Start.Format(time.RFC3339), err)
		}
	}
	return nil
}

func (o *HeatingOptimizer) allocateFlex() error {
	hours := 0.0
	for _, p := range o.window.real() {
		hours += p.FlexNeed()
	}
	if err := o.alloc.AllocateScattered(ControlOn, hours, Window{Start: o.start, End: o.end}); err != nil {
		return fmt.Errorf("allocate flexible need: %w", err)
	}
	return nil
}

// maxRepairs bounds a repair loop; every shift removes a run or a gap
func (o *HeatingOptimizer) maxRepairs() int {
	return o.alloc.Series().Len() + 1
}

// mergeShortRuns moves heating runs shorter than the short threshold onto a neighbouring run
func (o *HeatingOptimizer) mergeShortRuns() error {
	if o.params.ShortThreshold == nil {
		o.log.Debug("short heating run merging not active")
		return nil
	}
	short := time.Duration(math.Round(60**o.params.ShortThreshold)) * time.Minute

	for iter := 0; iter < o.maxRepairs(); iter++ {
		gap, dir := o.nextShortRunShift(FindGaps(o.alloc.Series()), short)
		if dir == NoShift {
			return nil
		}
		if err := o.shift(gap, dir); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: merging short heating runs", ErrRepairDiverged)
}

// nextShortRunShift returns the first short run that can be merged and the gap to shift
func (o *HeatingOptimizer) nextShortRunShift(gaps []*HeatingGap, short time.Duration) (*HeatingGap, ShiftDirection) {
	for i, gap := range gaps {
		if gap.PreviousHeatingDuration <= 0 || gap.PreviousHeatingDuration >= short {
			continue
		}
		var prev *HeatingGap
		if i > 0 {
			prev = gaps[i-1]
		}
		o.log.WithField("run", gap.PreviousHeatingStart.Start.Format(time.RFC3339)).
			Debugf("short %s heating run", gap.PreviousHeatingDuration)

		switch shortRunShiftDirection(gap, prev, o.params.ShiftPriceLimit) {
		case ShiftLeft:
			// The short run slides onto the run before the previous gap
			return prev, ShiftLeft
		case ShiftRight:
			return gap, ShiftRight
		}
	}
	return nil, NoShift
}

// shortRunShiftDirection decides where the run between prev and current may merge.
// The price limit is always measured from the short run's start price, for
// both directions.
func shortRunShiftDirection(current, prev *HeatingGap, priceLimit float64) ShiftDirection {
	leftOK := prev != nil && prev.PreviousHeatingEnd != nil
	rightOK := current.End != nil

	var dir ShiftDirection
	var price float64
	switch {
	case leftOK && rightOK:
		left, right := prev.Start.Price, current.End.Price
		if left < right {
			dir, price = ShiftLeft, left
		} else {
			dir, price = ShiftRight, right
		}
	case leftOK:
		dir, price = ShiftLeft, prev.Start.Price
	case rightOK:
		dir, price = ShiftRight, current.End.Price
	default:
		return NoShift
	}

	if price > current.PreviousHeatingStart.Price+priceLimit {
		logrus.WithFields(logrus.Fields{
			"direction": dir.String(),
			"price":     price,
			"limit":     priceLimit,
		}).Debug("short heating run merge restricted by price limit")
		return NoShift
	}
	return dir
}

// fixGaps closes gaps shorter than the gap threshold when prices allow
func (o *HeatingOptimizer) fixGaps() error {
	if o.params.GapThreshold == 0 || o.params.ShiftPriceLimit == 0 {
		o.log.Debug("gap handling not active")
		return nil
	}
	threshold := time.Duration(math.Round(60*o.params.GapThreshold)) * time.Minute

	for iter := 0; iter < o.maxRepairs(); iter++ {
		var target *HeatingGap
		dir := NoShift
		for _, gap := range FindGaps(o.alloc.Series()) {
			if dir = gap.ShiftDirection(threshold, o.params.ShiftPriceLimit, o.start); dir != NoShift {
				target = gap
				break
			}
		}
		if dir == NoShift {
			return nil
		}
		if err := o.shift(target, dir); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: fixing short gaps", ErrRepairDiverged)
}

func (o *HeatingOptimizer) shift(gap *HeatingGap, dir ShiftDirection) error {
	o.log.WithField("direction", dir.String()).Info("shifting heating over " + gap.String())
	switch dir {
	case ShiftLeft:
		return o.shiftLeft(gap)
	case ShiftRight:
		return o.shiftRight(gap)
	}
	return nil
}

// shiftLeft fills the gap and releases an equal block ending at the next run's end
func (o *HeatingOptimizer) shiftLeft(gap *HeatingGap) error {
	if gap.NextHeatingEnd == nil {
		return fmt.Errorf("%w: no heating run after %s", ErrInvalidInput, gap)
	}
	if err := o.alloc.SetControlForPeriod(gap.Start.Start, gap.Duration, ControlOn); err != nil {
		return err
	}
	from := gap.NextHeatingEnd.Start.Add(-gap.Duration).Add(o.alloc.Resolution())
	return o.alloc.SetControlForPeriod(from, gap.Duration, ControlOff)
}

// shiftRight fills the gap and releases an equal block from the previous run's start
func (o *HeatingOptimizer) shiftRight(gap *HeatingGap) error {
	if gap.PreviousHeatingStart == nil {
		return fmt.Errorf("%w: no heating run before %s", ErrInvalidInput, gap)
	}
	if err := o.alloc.SetControlForPeriod(gap.Start.Start, gap.Duration, ControlOn); err != nil {
		return err
	}
	return o.alloc.SetControlForPeriod(gap.PreviousHeatingStart.Start, gap.Duration, ControlOff)
}
