package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// Control is the allocation state of a slot
type Control int8

const (
	ControlUnset Control = iota // Not allocated yet
	ControlOff                  // Device blocked
	ControlOn                   // Device allowed to run
)

// String returns a short name for logs
func (c Control) String() string {
	switch c {
	case ControlOff:
		return "off"
	case ControlOn:
		return "on"
	default:
		return "unset"
	}
}

// Value returns the 0/1 control value used by device controllers
func (c Control) Value() int {
	if c == ControlOn {
		return 1
	}
	return 0
}

// MarshalJSON encodes unset as null and allocated values as 0/1
func (c Control) MarshalJSON() ([]byte, error) {
	if c == ControlUnset {
		return []byte("null"), nil
	}
	return json.Marshal(c.Value())
}

// UnmarshalJSON accepts null, 0 and 1
func (c *Control) UnmarshalJSON(data []byte) error {
	var v *int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch {
	case v == nil:
		*c = ControlUnset
	case *v == 0:
		*c = ControlOff
	case *v == 1:
		*c = ControlOn
	default:
		return fmt.Errorf("invalid control value %d", *v)
	}
	return nil
}

// ControlFromValue converts a 0/1 value read from a time-series backend
func ControlFromValue(v float64) Control {
	if v >= 0.5 {
		return ControlOn
	}
	return ControlOff
}

// PricePoint is one raw price value as delivered by a price feed
type PricePoint struct {
	Start time.Time `json:"start"`
	Price float64   `json:"price"`
}

// Slot is one fixed-resolution interval of a Series
type Slot struct {
	Start   time.Time `json:"start"`
	Price   float64   `json:"price"`
	Load    float64   `json:"load"`
	Control Control   `json:"control"`
}

// ControlPoint is one exported schedule entry
type ControlPoint struct {
	Start   time.Time `json:"start"`
	Control Control   `json:"control"`
}

// Window restricts an allocation to [Start, End). Zero bounds fall back to
// the series bounds.
type Window struct {
	Start time.Time
	End   time.Time
}

// WeatherSlot represents weather conditions at a point in time
type WeatherSlot struct {
	Time    time.Time `json:"time"`
	TempC   float64   `json:"temp_c"`
	WindMps float64   `json:"wind_mps"` // meters per second
}
