package engine

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ShiftDirection tells which neighbouring heating run moves to close a gap
type ShiftDirection int

const (
	NoShift    ShiftDirection = iota
	ShiftLeft                 // next heating run moves earlier
	ShiftRight                // previous heating run moves later
)

func (d ShiftDirection) String() string {
	switch d {
	case ShiftLeft:
		return "left"
	case ShiftRight:
		return "right"
	default:
		return "none"
	}
}

// SlotRef is the start time and price of a slot
type SlotRef struct {
	Start time.Time `json:"start"`
	Price float64   `json:"price"`
}

func refOf(s Slot) *SlotRef {
	return &SlotRef{Start: s.Start, Price: s.Price}
}

// HeatingGap is a maximal run of off slots together with its neighbouring heating runs.
// Neighbour fields are nil when the run does not exist inside the series.
type HeatingGap struct {
	Start    SlotRef       `json:"start"`
	End      *SlotRef      `json:"end"` // last off slot, nil when the gap reaches the series end
	Duration time.Duration `json:"duration"`

	PreviousHeatingStart    *SlotRef      `json:"previous_heating_start"`
	PreviousHeatingEnd      *SlotRef      `json:"previous_heating_end"`
	PreviousHeatingDuration time.Duration `json:"previous_heating_duration"`

	NextHeatingStart    *SlotRef      `json:"next_heating_start"`
	NextHeatingEnd      *SlotRef      `json:"next_heating_end"`
	NextHeatingDuration time.Duration `json:"next_heating_duration"`
}

// FindGaps scans series for off runs. Slots without control are ignored.
func FindGaps(series *Series) []*HeatingGap {
	var gaps []*HeatingGap
	var lastHeatingStart *SlotRef
	res := series.Resolution
	inGap, inHeating := false, false

	for i, slot := range series.Slots {
		switch slot.Control {
		case ControlOff:
			inHeating = false
			if inGap {
				gaps[len(gaps)-1].Duration += res
				continue
			}
			gap := &HeatingGap{Start: *refOf(slot), Duration: res, PreviousHeatingStart: lastHeatingStart}
			if i > 0 {
				gap.PreviousHeatingEnd = refOf(series.Slots[i-1])
				if gap.PreviousHeatingStart != nil {
					gap.PreviousHeatingDuration = runDuration(gap.PreviousHeatingStart, gap.PreviousHeatingEnd, res)
				}
			}
			if len(gaps) > 0 {
				prev := gaps[len(gaps)-1]
				prev.NextHeatingEnd = refOf(series.Slots[i-1])
				if prev.NextHeatingStart != nil {
					prev.NextHeatingDuration = runDuration(prev.NextHeatingStart, prev.NextHeatingEnd, res)
				}
			}
			gaps = append(gaps, gap)
			inGap = true

		case ControlOn:
			inGap = false
			if !inHeating {
				lastHeatingStart = refOf(slot)
				if len(gaps) > 0 {
					last := gaps[len(gaps)-1]
					last.NextHeatingStart = refOf(slot)
					if i > 0 {
						last.End = refOf(series.Slots[i-1])
					}
				}
			}
			inHeating = true
		}
	}
	return gaps
}

func runDuration(start, end *SlotRef, res time.Duration) time.Duration {
	return end.Start.Sub(start.Start) + res
}

// ShiftLeftAllowed reports whether the next heating run may move earlier into this gap
func (g *HeatingGap) ShiftLeftAllowed(threshold time.Duration, priceLimit float64) bool {
	log := logrus.WithField("gap", g.String())
	if g.Duration > threshold {
		log.Debug("shift left not allowed, gap longer than threshold")
		return false
	}
	if g.NextHeatingEnd == nil {
		log.Debug("shift left not allowed, no complete heating run after the gap")
		return false
	}
	if g.Start.Price-g.NextHeatingEnd.Price > priceLimit {
		log.Debug("shift left not allowed, limited by price")
		return false
	}
	return true
}

// ShiftRightAllowed reports whether the previous heating run may move later into this gap.
// A run starting at windowStart is never moved.
func (g *HeatingGap) ShiftRightAllowed(threshold time.Duration, priceLimit float64, windowStart time.Time) bool {
	log := logrus.WithField("gap", g.String())
	if g.Duration > threshold {
		log.Debug("shift right not allowed, gap longer than threshold")
		return false
	}
	if g.PreviousHeatingStart == nil {
		log.Debug("shift right not allowed, no heating run before the gap")
		return false
	}
	if g.PreviousHeatingStart.Start.Equal(windowStart) {
		log.Debug("shift right not allowed, previous heating starts the window")
		return false
	}
	if g.Start.Price-g.PreviousHeatingStart.Price > priceLimit {
		log.Debug("shift right not allowed, limited by price")
		return false
	}
	return true
}

// ShiftDirection picks the allowed shift; when both are allowed the cheaper side wins, ties go left
func (g *HeatingGap) ShiftDirection(threshold time.Duration, priceLimit float64, windowStart time.Time) ShiftDirection {
	left := g.ShiftLeftAllowed(threshold, priceLimit)
	right := g.ShiftRightAllowed(threshold, priceLimit, windowStart)
	switch {
	case left && right:
		if g.Start.Price <= g.NextHeatingEnd.Price {
			return ShiftLeft
		}
		return ShiftRight
	case left:
		return ShiftLeft
	case right:
		return ShiftRight
	default:
		return NoShift
	}
}

func (g *HeatingGap) String() string {
	return fmt.Sprintf("%s gap starting at %s", g.Duration, g.Start.Start.Format(time.RFC3339))
}
