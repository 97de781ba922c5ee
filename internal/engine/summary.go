package engine

import "math"

// Summary describes the cost side of an allocated series
type Summary struct {
	OnHours       float64 `json:"on_hours"`
	OffHours      float64 `json:"off_hours"`
	AvgPrice      float64 `json:"avg_price"`
	AvgOnPrice    float64 `json:"avg_on_price"`
	EstimatedCost float64 `json:"estimated_cost"` // price unit × kWh
	Savings       float64 `json:"savings"`        // against running the same hours at the average price
}

// Summarize estimates what the on slots cost for a device drawing kw
func Summarize(s *Series, kw float64) Summary {
	var sum Summary
	if len(s.Slots) == 0 {
		return sum
	}

	slotHours := s.Resolution.Hours()
	total, onTotal := 0.0, 0.0
	on := 0
	for _, slot := range s.Slots {
		total += slot.Price
		switch slot.Control {
		case ControlOn:
			on++
			onTotal += slot.Price
		case ControlOff:
			sum.OffHours += slotHours
		}
	}

	sum.OnHours = float64(on) * slotHours
	sum.AvgPrice = round4(total / float64(len(s.Slots)))
	if on > 0 {
		sum.AvgOnPrice = round4(onTotal / float64(on))
	}
	sum.EstimatedCost = round4(onTotal * slotHours * kw)
	sum.Savings = round4(sum.OnHours*kw*(total/float64(len(s.Slots))) - onTotal*slotHours*kw)
	return sum
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
