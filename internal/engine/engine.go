package engine

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrNoFeasibleSlots       = errors.New("no feasible time slots found matching constraints")
	ErrInvalidInput          = errors.New("invalid input parameters")
	ErrInsufficientData      = errors.New("not enough price points to infer resolution")
	ErrUnsupportedResolution = errors.New("unsupported price resolution")
	ErrDurationExceedsWindow = errors.New("requested duration exceeds the available window")
	ErrIncompleteSchedule    = errors.New("schedule has unallocated slots")
)

// LoadLimit enables load balancing: a slot may only be turned on while
// its existing load plus DeviceLoad stays within MaxLoad.
type LoadLimit struct {
	MaxLoad    float64 `json:"max_load" mapstructure:"max_load"`
	DeviceLoad float64 `json:"device_load" mapstructure:"device_load"`
}

// Allocator assigns control values to the slots of one Series
type Allocator struct {
	series *Series
	limit  *LoadLimit
}

// NewAllocator creates an allocator working in place on series
func NewAllocator(series *Series, limit *LoadLimit) (*Allocator, error) {
	if series == nil || len(series.Slots) == 0 {
		return nil, fmt.Errorf("%w: empty series", ErrInvalidInput)
	}
	if series.Resolution <= 0 {
		return nil, fmt.Errorf("%w: resolution must be positive", ErrInvalidInput)
	}
	if limit != nil && (limit.MaxLoad <= 0 || limit.DeviceLoad <= 0) {
		return nil, fmt.Errorf("%w: max load and device load must both be positive", ErrInvalidInput)
	}
	return &Allocator{series: series, limit: limit}, nil
}

// Series returns the series being allocated
func (a *Allocator) Series() *Series {
	return a.series
}

// Resolution returns the slot length
func (a *Allocator) Resolution() time.Duration {
	return a.series.Resolution
}

// AllocateScattered sets dir on the cheapest (on) or most expensive (off)
// unallocated slots in w until hours is covered. A shortfall is logged
// and the slots found so far stay allocated.
func (a *Allocator) AllocateScattered(dir Control, hours float64, w Window) error {
	n, lo, hi, err := a.prepare(dir, hours, w)
	if err != nil || n == 0 {
		return err
	}

	candidates := make([]int, 0, hi-lo)
	for i := lo; i < hi; i++ {
		if a.series.Slots[i].Control == ControlUnset {
			candidates = append(candidates, i)
		}
	}

	// Stable sort keeps earlier slots first on equal prices
	sort.SliceStable(candidates, func(x, y int) bool {
		px := a.series.Slots[candidates[x]].Price
		py := a.series.Slots[candidates[y]].Price
		if dir == ControlOn {
			return px < py
		}
		return px > py
	})

	allocated := 0
	for _, i := range candidates {
		if allocated == n {
			break
		}
		if dir == ControlOn && a.overloaded(i) {
			continue
		}
		a.set(i, dir)
		allocated++
	}

	if allocated < n {
		logrus.WithFields(logrus.Fields{
			"control":   dir.String(),
			"requested": n,
			"allocated": allocated,
			"start":     a.series.Slots[lo].Start.Format(time.RFC3339),
		}).Warn("not enough free slots for scattered allocation")
	}
	return nil
}

// AllocateContiguous sets dir on the cheapest (on) or most expensive (off)
// run of hours that lies entirely on unallocated slots inside w.
// Finding no such run is an error.
func (a *Allocator) AllocateContiguous(dir Control, hours float64, w Window) error {
	_, _, err := a.allocateContiguous(dir, hours, w)
	return err
}

// allocateContiguous returns the first index and length of the allocated run
func (a *Allocator) allocateContiguous(dir Control, hours float64, w Window) (int, int, error) {
	n, lo, hi, err := a.prepare(dir, hours, w)
	if err != nil || n == 0 {
		return 0, 0, err
	}

	// prefix[k] is the price sum of slots lo..lo+k-1
	prefix := make([]float64, hi-lo+1)
	for i := lo; i < hi; i++ {
		prefix[i-lo+1] = prefix[i-lo] + a.series.Slots[i].Price
	}

	best := -1
	bestSum := 0.0
	blocked := 0
	for i := lo; i < hi; i++ {
		if a.excluded(i, dir) {
			blocked++
		}
		if i-lo >= n && a.excluded(i-n, dir) {
			blocked--
		}
		if i-lo+1 < n || blocked > 0 {
			continue
		}
		start := i - n + 1
		sum := prefix[i-lo+1] - prefix[start-lo]
		if best < 0 || better(dir, sum, bestSum) {
			best, bestSum = start, sum
		}
	}

	if best < 0 {
		return 0, 0, fmt.Errorf("%w: no free %s run of %d slots between %s and %s",
			ErrNoFeasibleSlots, dir, n,
			a.series.Slots[lo].Start.Format(time.RFC3339),
			a.series.Slots[hi-1].Start.Add(a.series.Resolution).Format(time.RFC3339))
	}

	for i := best; i < best+n; i++ {
		a.set(i, dir)
	}
	return best, n, nil
}

// SetControlForPeriod overwrites the control of every slot in [start, start+d).
// A start outside the series is logged and ignored.
func (a *Allocator) SetControlForPeriod(start time.Time, d time.Duration, c Control) error {
	if c != ControlOn && c != ControlOff {
		return fmt.Errorf("%w: control %s", ErrInvalidInput, c)
	}
	if d < 0 {
		return fmt.Errorf("%w: negative duration %s", ErrInvalidInput, d)
	}

	idx, ok := a.series.Index(start)
	if !ok {
		logrus.WithField("start", start.Format(time.RFC3339)).
			Warn("period start not found in series, control not set")
		return nil
	}

	n := a.slots(d)
	for i := idx; i < idx+n && i < len(a.series.Slots); i++ {
		a.set(i, c)
	}
	return nil
}

// FillRemaining sets c on every unallocated slot in w
func (a *Allocator) FillRemaining(c Control, w Window) error {
	if c != ControlOn && c != ControlOff {
		return fmt.Errorf("%w: control %s", ErrInvalidInput, c)
	}
	lo, hi := a.series.bounds(w)
	for i := lo; i < hi; i++ {
		if a.series.Slots[i].Control == ControlUnset {
			a.set(i, c)
		}
	}
	return nil
}

// prepare validates an allocation request and returns its slot count and index range
func (a *Allocator) prepare(dir Control, hours float64, w Window) (int, int, int, error) {
	if dir != ControlOn && dir != ControlOff {
		return 0, 0, 0, fmt.Errorf("%w: allocation direction %s", ErrInvalidInput, dir)
	}
	d, err := hoursToDuration(hours)
	if err != nil {
		return 0, 0, 0, err
	}
	lo, hi := a.series.bounds(w)
	n := a.slots(d)
	if n > hi-lo {
		return 0, 0, 0, fmt.Errorf("%w: %s requested, window holds %s",
			ErrDurationExceedsWindow, d, time.Duration(hi-lo)*a.series.Resolution)
	}
	return n, lo, hi, nil
}

// slots rounds d up to a whole number of slots
func (a *Allocator) slots(d time.Duration) int {
	res := a.series.Resolution
	return int((d + res - 1) / res)
}

// excluded reports whether slot i cannot be part of a new dir allocation
func (a *Allocator) excluded(i int, dir Control) bool {
	if a.series.Slots[i].Control != ControlUnset {
		return true
	}
	return dir == ControlOn && a.overloaded(i)
}

// overloaded reports whether turning slot i on would exceed the load limit
func (a *Allocator) overloaded(i int) bool {
	if a.limit == nil {
		return false
	}
	return a.series.Slots[i].Load+a.limit.DeviceLoad > a.limit.MaxLoad
}

// set changes the control of slot i and keeps its load in step
func (a *Allocator) set(i int, c Control) {
	slot := &a.series.Slots[i]
	if a.limit != nil {
		switch {
		case slot.Control != ControlOn && c == ControlOn:
			slot.Load += a.limit.DeviceLoad
		case slot.Control == ControlOn && c != ControlOn:
			slot.Load -= a.limit.DeviceLoad
		}
	}
	slot.Control = c
}

// better compares run sums; ties keep the earlier run
func better(dir Control, sum, best float64) bool {
	const eps = 1e-9
	if dir == ControlOn {
		return sum < best-eps
	}
	return sum > best+eps
}

// hoursToDuration converts fractional hours to a duration with second precision
func hoursToDuration(hours float64) (time.Duration, error) {
	if math.IsNaN(hours) || math.IsInf(hours, 0) || hours < 0 {
		return 0, fmt.Errorf("%w: duration %v hours", ErrInvalidInput, hours)
	}
	return time.Duration(math.Round(hours*3600)) * time.Second, nil
}
