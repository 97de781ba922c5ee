package engine

import (
	"fmt"
	"sort"
	"time"
)

// Resolution is the canonical slot length
const Resolution = 15 * time.Minute

// LoadFeed returns the already known total load at a point in time
type LoadFeed interface {
	LoadAt(t time.Time) (float64, bool)
}

// Series is a contiguous, time-sorted run of slots sharing one resolution
type Series struct {
	Resolution time.Duration `json:"resolution"`
	Slots      []Slot        `json:"slots"`
}

// NewSeries normalizes raw price points to the canonical 15-minute resolution.
// Hourly and half-hourly points are expanded to 4 and 2 slots with the same price.
func NewSeries(points []PricePoint) (*Series, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("%w: got %d points", ErrInsufficientData, len(points))
	}

	sorted := make([]PricePoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	source := sorted[1].Start.Sub(sorted[0].Start)
	switch source {
	case 15 * time.Minute, 30 * time.Minute, 60 * time.Minute:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedResolution, source)
	}

	for i := 1; i < len(sorted); i++ {
		if step := sorted[i].Start.Sub(sorted[i-1].Start); step != source {
			return nil, fmt.Errorf("%w: price points at %s are %s apart, expected %s",
				ErrInvalidInput, sorted[i].Start.Format(time.RFC3339), step, source)
		}
	}

	perPoint := int(source / Resolution)
	slots := make([]Slot, 0, len(sorted)*perPoint)
	for _, p := range sorted {
		for k := 0; k < perPoint; k++ {
			slots = append(slots, Slot{
				Start: p.Start.Add(time.Duration(k) * Resolution),
				Price: p.Price,
			})
		}
	}

	return &Series{Resolution: Resolution, Slots: slots}, nil
}

// Len returns the number of slots
func (s *Series) Len() int {
	return len(s.Slots)
}

// Start returns the start of the first slot
func (s *Series) Start() time.Time {
	if len(s.Slots) == 0 {
		return time.Time{}
	}
	return s.Slots[0].Start
}

// End returns the end of the last slot
func (s *Series) End() time.Time {
	if len(s.Slots) == 0 {
		return time.Time{}
	}
	return s.Slots[len(s.Slots)-1].Start.Add(s.Resolution)
}

// Duration returns the covered window length
func (s *Series) Duration() time.Duration {
	return s.End().Sub(s.Start())
}

// Index finds the slot starting exactly at t
func (s *Series) Index(t time.Time) (int, bool) {
	i := sort.Search(len(s.Slots), func(i int) bool {
		return !s.Slots[i].Start.Before(t)
	})
	if i < len(s.Slots) && s.Slots[i].Start.Equal(t) {
		return i, true
	}
	return 0, false
}

// bounds converts a window to a half-open slot index range clamped to the series
func (s *Series) bounds(w Window) (int, int) {
	lo, hi := 0, len(s.Slots)
	if !w.Start.IsZero() {
		lo = sort.Search(len(s.Slots), func(i int) bool {
			return !s.Slots[i].Start.Before(w.Start)
		})
	}
	if !w.End.IsZero() {
		hi = sort.Search(len(s.Slots), func(i int) bool {
			return !s.Slots[i].Start.Before(w.End)
		})
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// SeedLoads copies known loads from feed onto every slot
func (s *Series) SeedLoads(feed LoadFeed) {
	for i := range s.Slots {
		if load, ok := feed.LoadAt(s.Slots[i].Start); ok {
			s.Slots[i].Load = load
		}
	}
}

// Complete reports whether every slot has a control value
func (s *Series) Complete() bool {
	for _, slot := range s.Slots {
		if slot.Control == ControlUnset {
			return false
		}
	}
	return true
}

// Schedule exports the control values. Every slot must be allocated.
func (s *Series) Schedule() ([]ControlPoint, error) {
	points := make([]ControlPoint, 0, len(s.Slots))
	for _, slot := range s.Slots {
		if slot.Control == ControlUnset {
			return nil, fmt.Errorf("%w: slot %s", ErrIncompleteSchedule, slot.Start.Format(time.RFC3339))
		}
		points = append(points, ControlPoint{Start: slot.Start, Control: slot.Control})
	}
	return points, nil
}

// PricePoints returns the slot prices as raw points
func (s *Series) PricePoints() []PricePoint {
	points := make([]PricePoint, len(s.Slots))
	for i, slot := range s.Slots {
		points[i] = PricePoint{Start: slot.Start, Price: slot.Price}
	}
	return points
}
