package engine

import (
	"fmt"
	"math"
)

// PeakOptimizer blocks the most expensive part of the day in two contiguous
// blocks and allows the rest
type PeakOptimizer struct {
	alloc *Allocator
}

// NewPeakOptimizer works in place on series
func NewPeakOptimizer(series *Series) (*PeakOptimizer, error) {
	alloc, err := NewAllocator(series, nil)
	if err != nil {
		return nil, err
	}
	return &PeakOptimizer{alloc: alloc}, nil
}

// BlockDurations splits the non-heating hours of a day into two blocks.
// Values outside 0..23 block nothing.
func BlockDurations(heatingHours float64) [2]float64 {
	if heatingHours < 0 || heatingHours > 23 {
		return [2]float64{0, 0}
	}
	expensive := 24 - heatingHours
	a := math.Ceil(expensive / 2)
	return [2]float64{a, expensive - a}
}

// BlockPeaks blocks both peak blocks and allows every remaining slot. The
// slots on either side of a block are allowed right away so the second block
// cannot extend the first.
func (p *PeakOptimizer) BlockPeaks(heatingHours float64) error {
	for _, hours := range BlockDurations(heatingHours) {
		start, n, err := p.alloc.allocateContiguous(ControlOff, hours, Window{})
		if err != nil {
			return fmt.Errorf("block %v hour peak: %w", hours, err)
		}
		if n == 0 {
			continue
		}
		if err := p.allowSlot(start - 1); err != nil {
			return err
		}
		if err := p.allowSlot(start + n); err != nil {
			return err
		}
	}
	return p.alloc.FillRemaining(ControlOn, Window{})
}

// allowSlot turns slot i on unless it is outside the series or already allocated
func (p *PeakOptimizer) allowSlot(i int) error {
	slots := p.alloc.Series().Slots
	if i < 0 || i >= len(slots) || slots[i].Control != ControlUnset {
		return nil
	}
	return p.alloc.SetControlForPeriod(slots[i].Start, p.alloc.Resolution(), ControlOn)
}

// Series returns the optimized series
func (p *PeakOptimizer) Series() *Series {
	return p.alloc.Series()
}
