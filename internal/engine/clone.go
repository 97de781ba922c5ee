package engine

import "time"

// CloneSchedule copies a schedule shifted forward by whole days
func CloneSchedule(points []ControlPoint, days int) []ControlPoint {
	cloned := make([]ControlPoint, len(points))
	for i, p := range points {
		cloned[i] = ControlPoint{Start: p.Start.AddDate(0, 0, days), Control: p.Control}
	}
	return cloned
}

// ControlAt returns the control of the point whose slot [Start, Start+res) contains t
func ControlAt(points []ControlPoint, t time.Time, res time.Duration) (Control, bool) {
	for _, p := range points {
		if !t.Before(p.Start) && t.Before(p.Start.Add(res)) {
			return p.Control, true
		}
	}
	return ControlUnset, false
}
