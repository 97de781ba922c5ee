package weather

import (
	"math"
	"sort"
	"time"

	"github.com/awaistahir/smart-heat/internal/engine"
)

// Forecast answers average temperature queries over hourly weather slots
type Forecast struct {
	slots     []engine.WeatherSlot
	windChill bool
}

// NewForecast creates a forecast from hourly slots. With windChill the
// apparent temperature is used wherever it applies.
func NewForecast(slots []engine.WeatherSlot, windChill bool) *Forecast {
	sorted := make([]engine.WeatherSlot, len(slots))
	copy(sorted, slots)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})
	return &Forecast{slots: sorted, windChill: windChill}
}

// Average returns the mean temperature of slots in [start, end) and how many there were
func (f *Forecast) Average(start, end time.Time) (float64, int) {
	sum, n := 0.0, 0
	for _, s := range f.slots {
		if s.Time.Before(start) || !s.Time.Before(end) {
			continue
		}
		sum += f.temperature(s)
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return math.Round(sum/float64(n)*100) / 100, n
}

// Nearest finds the weather slot closest to a given time
func (f *Forecast) Nearest(t time.Time) (engine.WeatherSlot, bool) {
	if len(f.slots) == 0 {
		return engine.WeatherSlot{}, false
	}

	closest := 0
	minDiff := absDuration(f.slots[0].Time.Sub(t))
	for i := 1; i < len(f.slots); i++ {
		diff := absDuration(f.slots[i].Time.Sub(t))
		if diff < minDiff {
			minDiff = diff
			closest = i
		}
	}

	s := f.slots[closest]
	s.TempC = f.temperature(s)
	return s, true
}

func (f *Forecast) temperature(s engine.WeatherSlot) float64 {
	if f.windChill {
		return WindChill(s.TempC, s.WindMps)
	}
	return s.TempC
}

// WindChill returns the apparent temperature for tempC and a wind speed in
// m/s. Outside the formula's range (10 °C and above, or wind at most
// 4.8 km/h) the air temperature is returned.
func WindChill(tempC, windMps float64) float64 {
	v := windMps * 3.6
	if tempC >= 10 || v <= 4.8 {
		return tempC
	}
	p := math.Pow(v, 0.16)
	return math.Round((13.12+0.6215*tempC-11.37*p+0.3965*tempC*p)*100) / 100
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
